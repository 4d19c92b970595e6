package mediastream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"voice-bridge/internal/audio"
)

const (
	EventStart = "start"
	EventMedia = "media"
	EventDTMF  = "dtmf"
	EventMark  = "mark"
	EventStop  = "stop"
	EventClear = "clear"
)

var ErrMalformed = errors.New("mediastream: malformed frame")

type message struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startMessage `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markMessage  `json:"mark,omitempty"`
	DTMF      *dtmfMessage  `json:"dtmf,omitempty"`
	Stop      *stopMessage  `json:"stop,omitempty"`
}

type startMessage struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid,omitempty"`
	CallSID      string            `json:"callSid,omitempty"`
	CustomParams map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Payload *string `json:"payload"`
}

type markMessage struct {
	Name string `json:"name"`
}

type dtmfMessage struct {
	Digit string `json:"digit"`
}

type stopMessage struct {
	CallSID string `json:"callSid,omitempty"`
}

// Serializer translates between carrier JSON frames and pipeline PCM.
// It holds no per-call state; the stream id is passed to each encoder.
type Serializer struct {
	// SampleRate is the pipeline's PCM rate; carrier audio is always 8 kHz mu-law.
	SampleRate int
}

func NewSerializer(sampleRate int) Serializer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return Serializer{SampleRate: sampleRate}
}

// Decode parses one inbound text frame.
//
// It returns (nil, nil) for events the bridge does not handle and
// (nil, ErrMalformed) for unparsable or incomplete frames. It never panics.
func (s Serializer) Decode(data []byte) (Frame, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch m.Event {
	case EventStart:
		if m.Start == nil || m.Start.StreamSID == "" {
			return nil, fmt.Errorf("%w: start without streamSid", ErrMalformed)
		}
		return StartFrame{
			StreamSID:        m.Start.StreamSID,
			CallSID:          m.Start.CallSID,
			AccountSID:       m.Start.AccountSID,
			CustomParameters: m.Start.CustomParams,
		}, nil

	case EventMedia:
		if m.Media == nil || m.Media.Payload == nil {
			return nil, fmt.Errorf("%w: media without payload", ErrMalformed)
		}
		ulaw, err := base64.StdEncoding.DecodeString(*m.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
		}
		return AudioFrame{
			PCM:        audio.CarrierToPCM(ulaw, s.SampleRate),
			SampleRate: s.SampleRate,
		}, nil

	case EventDTMF:
		if m.DTMF == nil {
			return nil, fmt.Errorf("%w: dtmf without digit", ErrMalformed)
		}
		k, ok := ParseKeypad(m.DTMF.Digit)
		if !ok {
			return nil, fmt.Errorf("%w: dtmf digit %q", ErrMalformed, m.DTMF.Digit)
		}
		return DTMFFrame{Digit: k}, nil

	case EventMark:
		if m.Mark == nil || m.Mark.Name == "" {
			return nil, fmt.Errorf("%w: mark without name", ErrMalformed)
		}
		return MarkFrame{Name: m.Mark.Name}, nil

	case EventStop:
		f := StopFrame{}
		if m.Stop != nil {
			f.CallSID = m.Stop.CallSID
		}
		return f, nil
	}
	return nil, nil
}

// EncodeAudio transcodes pipeline PCM to carrier mu-law and wraps it in a media frame.
func (s Serializer) EncodeAudio(streamSID string, pcm []byte) ([]byte, error) {
	return EncodeMedia(streamSID, s.Transcode(pcm))
}

// Transcode converts pipeline PCM into carrier mu-law bytes.
func (s Serializer) Transcode(pcm []byte) []byte {
	return audio.PCMToCarrier(pcm, s.SampleRate)
}

// EncodeMedia wraps already-encoded mu-law bytes.
func EncodeMedia(streamSID string, ulaw []byte) ([]byte, error) {
	payload := base64.StdEncoding.EncodeToString(ulaw)
	return json.Marshal(message{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &mediaPayload{Payload: &payload},
	})
}

// EncodeClear asks the carrier to drop any audio it has buffered.
func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(message{Event: EventClear, StreamSID: streamSID})
}

// EncodeMark asks the carrier to acknowledge when playback reaches this point.
func EncodeMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(message{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &markMessage{Name: name},
	})
}
