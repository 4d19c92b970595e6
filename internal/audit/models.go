package audit

import "time"

// Event is an immutable, append-only journal record.
//
// Invariants:
// - Events are never updated or deleted.
// - conversation_id is required; every record belongs to one call.
// - journaling is best-effort; do not block call flows on audit failures.
//
// Storage (Postgres): table call_events, INSERT-only (see PostgresSchema).
type Event struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	// Type is the domain event type or EventTypeOperatorAction.
	Type EventType `json:"type" db:"type"`

	// ActorOperatorID is set for operator actions only.
	ActorOperatorID string `json:"actor_operator_id,omitempty" db:"actor_operator_id"`
	ActorRole       string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP of an operator action.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallConnected      EventType = "call_connected"
	EventTypeCallEnded          EventType = "call_ended"
	EventTypeCallDidNotConnect  EventType = "call_did_not_connect"
	EventTypeRecordingAvailable EventType = "recording_available"
	EventTypeCustomAction       EventType = "custom_action"
	EventTypeOperatorAction     EventType = "operator_action"
)
