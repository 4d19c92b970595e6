package events

import "time"

// Event is one call lifecycle occurrence.
// Events for the same conversation are delivered in publish order.
type Event interface {
	Type() Type
	Conversation() string
}

type Type string

const (
	TypeCallConnected      Type = "call_connected"
	TypeCallEnded          Type = "call_ended"
	TypeCallDidNotConnect  Type = "call_did_not_connect"
	TypeRecordingAvailable Type = "recording_available"
	TypeCustomAction       Type = "custom_action"
)

// Header carries the fields common to every event.
type Header struct {
	ConversationID string    `json:"conversation_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (h Header) Conversation() string { return h.ConversationID }

func (h Header) Occurred() time.Time { return h.OccurredAt }

func NewHeader(conversationID string) Header {
	return Header{ConversationID: conversationID, OccurredAt: time.Now().UTC()}
}

type CallConnected struct {
	Header
	Direction string `json:"direction"`
	FromPhone string `json:"from_phone"`
	ToPhone   string `json:"to_phone"`
	StreamSID string `json:"stream_sid"`
}

func (CallConnected) Type() Type { return TypeCallConnected }

type CallEnded struct {
	Header
	// ConversationMinutes is measured from the start frame; zero if the call never connected.
	ConversationMinutes float64 `json:"conversation_minutes"`
}

func (CallEnded) Type() Type { return TypeCallEnded }

type CallDidNotConnect struct {
	Header
	TelephonyStatus string `json:"telephony_status"`
}

func (CallDidNotConnect) Type() Type { return TypeCallDidNotConnect }

type RecordingAvailable struct {
	Header
	RecordingURL string `json:"recording_url"`
}

func (RecordingAvailable) Type() Type { return TypeRecordingAvailable }

// CustomAction lets a streaming provider surface an application-defined signal.
type CustomAction struct {
	Header
	Action  string            `json:"action"`
	Payload map[string]string `json:"payload,omitempty"`
}

func (CustomAction) Type() Type { return TypeCustomAction }
