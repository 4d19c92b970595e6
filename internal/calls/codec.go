package calls

import (
	"encoding/json"
	"fmt"
)

// decoders maps a stored discriminator to a fresh value of its concrete type.
var decoders = map[string]func() CallConfig{
	TypeTwilio: func() CallConfig { return &TwilioCallConfig{} },
	TypePlivo:  func() CallConfig { return &PlivoCallConfig{} },
}

type envelope struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// Marshal serializes cfg with its type tag.
func Marshal(cfg CallConfig) ([]byte, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if _, ok := decoders[cfg.Type()]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConfigType, cfg.Type())
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("calls: marshal config: %w", err)
	}
	return json.Marshal(envelope{Type: cfg.Type(), Config: body})
}

// Unmarshal decodes a tagged record produced by Marshal.
func Unmarshal(data []byte) (CallConfig, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("calls: decode envelope: %w", err)
	}
	newFn, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConfigType, env.Type)
	}
	cfg := newFn()
	if err := json.Unmarshal(env.Config, cfg); err != nil {
		return nil, fmt.Errorf("calls: decode %s: %w", env.Type, err)
	}
	return cfg, nil
}
