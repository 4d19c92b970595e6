package mediastream

// Frame is one decoded carrier message.
type Frame interface {
	Event() string
}

// StartFrame opens the stream and carries the per-call stream id.
type StartFrame struct {
	StreamSID        string
	CallSID          string
	AccountSID       string
	CustomParameters map[string]string
}

func (StartFrame) Event() string { return EventStart }

// AudioFrame is caller audio as little-endian int16 PCM at SampleRate.
// PCM may be empty.
type AudioFrame struct {
	PCM        []byte
	SampleRate int
}

func (AudioFrame) Event() string { return EventMedia }

type DTMFFrame struct {
	Digit Keypad
}

func (DTMFFrame) Event() string { return EventDTMF }

// MarkFrame acknowledges that the carrier finished playing up to Name.
type MarkFrame struct {
	Name string
}

func (MarkFrame) Event() string { return EventMark }

type StopFrame struct {
	CallSID string
}

func (StopFrame) Event() string { return EventStop }

// Keypad is a validated telephone keypad entry.
type Keypad string

const (
	KeypadStar  Keypad = "*"
	KeypadPound Keypad = "#"
)

// ParseKeypad accepts 0-9, * and #.
func ParseKeypad(s string) (Keypad, bool) {
	if len(s) != 1 {
		return "", false
	}
	c := s[0]
	if (c >= '0' && c <= '9') || c == '*' || c == '#' {
		return Keypad(s), true
	}
	return "", false
}
