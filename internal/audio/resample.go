package audio

import "time"

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := sampleAt(pcm, srcIdx)
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = sampleAt(pcm, srcIdx+1)
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func sampleAt(pcm []byte, idx int) int16 {
	return int16(pcm[idx*2]) | int16(pcm[idx*2+1])<<8
}

// CarrierToPCM converts carrier mu-law audio into PCM at rate.
func CarrierToPCM(ulaw []byte, rate int) []byte {
	return ResampleMono16(MuLawToPCM16(ulaw), CarrierRate, rate)
}

// PCMToCarrier converts PCM at rate into carrier mu-law audio.
func PCMToCarrier(pcm []byte, rate int) []byte {
	return PCM16ToMuLaw(ResampleMono16(pcm, rate, CarrierRate))
}

// MuLawDuration is the playback time of n carrier bytes (one byte per sample).
func MuLawDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / CarrierRate
}
