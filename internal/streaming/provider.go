package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/events"
	"voice-bridge/internal/mediastream"
)

const (
	TypeEcho   = "streaming_provider_echo"
	TypeRemote = "streaming_provider_remote"
)

var ErrUnknownProvider = errors.New("streaming: unknown provider type")

// Output is where a provider sends synthesized audio.
type Output interface {
	Play(pcm []byte)
	Interrupt(ctx context.Context) error
}

// Provider is the AI voice pipeline attached to one call.
//
// Start runs until the pipeline finishes or Stop is called; it must observe
// ctx and Stop cooperatively. SendAudio and SendDTMF never block for long.
type Provider interface {
	Start(ctx context.Context) error
	Stop()
	SendAudio(pcm []byte)
	SendDTMF(digit mediastream.Keypad)
}

type Params struct {
	ConversationID string
	Config         calls.StreamingProviderConfig
	Output         Output
	Bus            *events.Bus
	Logger         *slog.Logger
}

// New builds the provider named by p.Config.Type.
func New(p Params) (Provider, error) {
	if p.Output == nil {
		return nil, errors.New("streaming: output is required")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	switch p.Config.Type {
	case TypeEcho:
		return NewEcho(p), nil
	case TypeRemote:
		return NewRemote(p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p.Config.Type)
	}
}
