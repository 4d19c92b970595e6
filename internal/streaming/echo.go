package streaming

import (
	"context"
	"sync"

	"voice-bridge/internal/events"
	"voice-bridge/internal/mediastream"
)

// Echo plays the caller's audio straight back. Pressing * interrupts playback;
// every digit is published as a "dtmf" custom action.
type Echo struct {
	p Params

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewEcho(p Params) *Echo {
	return &Echo{p: p, stopped: make(chan struct{})}
}

func (e *Echo) Start(ctx context.Context) error {
	if e.p.Config.Greeting != "" {
		e.p.Logger.Debug("echo provider ignores greeting")
	}
	select {
	case <-ctx.Done():
	case <-e.stopped:
	}
	return nil
}

func (e *Echo) Stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

func (e *Echo) SendAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	e.p.Output.Play(buf)
}

func (e *Echo) SendDTMF(digit mediastream.Keypad) {
	if digit == mediastream.KeypadStar {
		if err := e.p.Output.Interrupt(context.Background()); err != nil {
			e.p.Logger.Warn("echo interrupt failed", "err", err)
		}
	}
	if e.p.Bus != nil {
		e.p.Bus.Publish(context.Background(), events.CustomAction{
			Header:  events.NewHeader(e.p.ConversationID),
			Action:  "dtmf",
			Payload: map[string]string{"digit": string(digit)},
		})
	}
}
