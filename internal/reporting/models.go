package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type CallStatus string

const (
	CallStatusInProgress    CallStatus = "in_progress"
	CallStatusCompleted     CallStatus = "completed"
	CallStatusDidNotConnect CallStatus = "did_not_connect"
)

// CallRecord is the per-conversation outcome assembled from lifecycle events.
type CallRecord struct {
	ConversationID string     `json:"conversation_id"`
	Direction      string     `json:"direction,omitempty"`
	FromPhone      string     `json:"from_phone,omitempty"`
	ToPhone        string     `json:"to_phone,omitempty"`
	Status         CallStatus `json:"status"`

	// TelephonyStatus explains a did-not-connect outcome.
	TelephonyStatus string `json:"telephony_status,omitempty"`

	Minutes      float64        `json:"minutes"`
	RecordingURL string         `json:"recording_url,omitempty"`
	Actions      map[string]int `json:"actions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Direction is optional (inbound or outbound).
type CallsSummaryRequest struct {
	Range     TimeRange `json:"range"`
	Direction string    `json:"direction,omitempty"`
}

type CallsSummary struct {
	Direction string `json:"direction,omitempty"`

	TotalCalls         int `json:"total_calls"`
	CompletedCalls     int `json:"completed_calls"`
	DidNotConnectCalls int `json:"did_not_connect_calls"`
	InProgressCalls    int `json:"in_progress_calls"`

	// NotConnectedByStatus breaks did-not-connect calls down by telephony status.
	NotConnectedByStatus map[string]int `json:"not_connected_by_status,omitempty"`

	TotalMinutes   float64 `json:"total_minutes"`
	AverageMinutes float64 `json:"average_minutes"`

	RecordedCalls int            `json:"recorded_calls"`
	Actions       map[string]int `json:"actions,omitempty"`

	// ConnectionRate is completed / (completed + did_not_connect).
	ConnectionRate float64 `json:"connection_rate"`
}
