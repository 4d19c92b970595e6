package telephony

import (
	"context"
	"errors"

	"voice-bridge/internal/calls"
)

// CallControl is the carrier-agnostic call-control contract used by the
// outbound caller and the operator API.
//
// Rules:
// - No carrier REST calls outside telephony adapters.
// - Errors are classified with ErrInputRejected / ErrCarrierFailure; callers decide on retries.
type CallControl interface {
	Name() string

	// CreateCall originates a call that connects its media to ConnectURL(conversationID)
	// once answered, and returns the carrier call id.
	CreateCall(ctx context.Context, req CreateCallRequest) (string, error)

	// EndCall succeeds only when the carrier reports the call completed.
	EndCall(ctx context.Context, carrierCallID string) error

	// ConnectInstructions is the markup returned from an inbound webhook.
	ConnectInstructions(conversationID string) (string, error)

	Credentials() calls.Credentials

	// ForCredentials returns the same adapter bound to another carrier account.
	ForCredentials(creds calls.Credentials) CallControl
}

// CallLimiter bounds concurrent calls per carrier account.
type CallLimiter interface {
	Acquire(ctx context.Context, accountID string) (bool, error)
	Release(ctx context.Context, accountID string) error
}

// CreateCallRequest describes an outbound call.
type CreateCallRequest struct {
	ConversationID string `json:"conversation_id"`

	// To and From are E.164 where possible; a missing leading "+" is added.
	To   string `json:"to"`
	From string `json:"from"`

	Record bool `json:"record"`

	// Digits are sent once the call is answered (DTMF).
	Digits string `json:"digits,omitempty"`

	// Params are passed to the carrier as-is (e.g. MachineDetection).
	Params map[string]string `json:"params,omitempty"`
}

var (
	// ErrInputRejected means the carrier refused the request (4xx), usually a bad number.
	ErrInputRejected = errors.New("telephony: carrier rejected request")
	// ErrCarrierFailure is a carrier-side or transport failure (5xx, network). Retryable.
	ErrCarrierFailure = errors.New("telephony: carrier failure")
	// ErrNotCompleted means end-call did not reach the completed state.
	ErrNotCompleted = errors.New("telephony: call not completed")
	// ErrCapacity means the concurrent-call cap for the account is reached.
	ErrCapacity = errors.New("telephony: concurrent call limit reached")
	// ErrCallNotFound means no config is stored for the conversation.
	ErrCallNotFound = errors.New("telephony: no such call")
)
