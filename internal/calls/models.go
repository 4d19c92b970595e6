package calls

import (
	"errors"
	"log/slog"
	"strings"
)

// CallConfig is the persisted, carrier-specific record for one conversation.
//
// Invariants:
// - ConversationID is immutable once created.
// - CarrierCallID is set exactly once: at call creation (outbound) or webhook receipt (inbound).
// - Credentials never reach log output.
type CallConfig interface {
	// Type is the discriminator stored alongside the record.
	Type() string
	Base() *Common
	Validate() error
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// Credentials are the carrier account id and secret.
type Credentials struct {
	AccountID string `json:"account_id"`
	Secret    string `json:"secret"`
}

func (Credentials) LogValue() slog.Value { return slog.StringValue("[redacted]") }

// StreamingProviderConfig selects the AI pipeline attached to a call.
// The conversation core passes it through untouched; only internal/streaming reads it.
type StreamingProviderConfig struct {
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Greeting   string `json:"greeting,omitempty"`
}

func (s StreamingProviderConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Int("sample_rate", s.SampleRate),
	)
}

// Common holds the carrier-independent part of every CallConfig.
type Common struct {
	ConversationID string    `json:"conversation_id"`
	Direction      Direction `json:"direction"`
	FromPhone      string    `json:"from_phone"`
	ToPhone        string    `json:"to_phone"`
	CarrierCallID  string    `json:"carrier_call_id"`

	StreamingProvider StreamingProviderConfig `json:"streaming_provider_config"`

	// TelephonyParams are free-form carrier parameters (e.g. MachineDetection).
	TelephonyParams map[string]string `json:"telephony_params,omitempty"`

	Record bool `json:"record"`
}

func (c *Common) Base() *Common { return c }

func (c *Common) validate() error {
	var problems []string
	if strings.TrimSpace(c.ConversationID) == "" {
		problems = append(problems, "conversation_id is required")
	}
	if !c.Direction.Valid() {
		problems = append(problems, "direction must be inbound or outbound")
	}
	if strings.TrimSpace(c.FromPhone) == "" {
		problems = append(problems, "from_phone is required")
	}
	if strings.TrimSpace(c.ToPhone) == "" {
		problems = append(problems, "to_phone is required")
	}
	if strings.TrimSpace(c.CarrierCallID) == "" {
		problems = append(problems, "carrier_call_id is required")
	}
	if len(problems) > 0 {
		return errors.Join(ErrInvalidConfig, errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

const (
	TypeTwilio = "call_config_twilio"
	TypePlivo  = "call_config_plivo"
)

// TwilioCallConfig is fully supported end to end.
type TwilioCallConfig struct {
	Common
	Credentials Credentials `json:"twilio_config"`
}

func (*TwilioCallConfig) Type() string { return TypeTwilio }

func (c *TwilioCallConfig) Validate() error {
	if err := c.Common.validate(); err != nil {
		return err
	}
	if c.Credentials.AccountID == "" || c.Credentials.Secret == "" {
		return errors.Join(ErrInvalidConfig, errors.New("twilio credentials are required"))
	}
	return nil
}

// PlivoCallConfig can be stored and loaded, but no conversation can be built from it.
type PlivoCallConfig struct {
	Common
	Credentials Credentials `json:"plivo_config"`
}

func (*PlivoCallConfig) Type() string { return TypePlivo }

func (c *PlivoCallConfig) Validate() error {
	if err := c.Common.validate(); err != nil {
		return err
	}
	if c.Credentials.AccountID == "" || c.Credentials.Secret == "" {
		return errors.Join(ErrInvalidConfig, errors.New("plivo credentials are required"))
	}
	return nil
}

var (
	ErrInvalidConfig     = errors.New("calls: invalid config")
	ErrUnknownConfigType = errors.New("calls: unknown config type")
)
