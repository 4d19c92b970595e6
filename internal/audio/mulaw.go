package audio

// G.711 mu-law companding.

const (
	// MuLawSilence is the encoded value of a zero sample.
	MuLawSilence byte = 0xFF

	// CarrierRate is the fixed sample rate of carrier mu-law audio.
	CarrierRate = 8000

	muLawBias = 0x84
	muLawClip = 32635
)

// MuLawDecodeSample expands one mu-law byte into a linear 16-bit sample.
func MuLawDecodeSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int32(mantissa) << 3) + muLawBias) << exponent
	sample -= muLawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// MuLawEncodeSample compresses one linear 16-bit sample.
func MuLawEncodeSample(s int16) byte {
	sample := int32(s)
	var sign byte
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > muLawClip {
		sample = muLawClip
	}
	sample += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(sample>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// MuLawToPCM16 decodes mu-law bytes into little-endian int16 PCM.
// An empty input yields an empty output.
func MuLawToPCM16(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		s := MuLawDecodeSample(b)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCM16ToMuLaw encodes little-endian int16 PCM. A trailing odd byte is ignored.
func PCM16ToMuLaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = MuLawEncodeSample(s)
	}
	return out
}
