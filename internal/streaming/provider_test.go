package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/events"
	"voice-bridge/internal/mediastream"
)

type fakeOutput struct {
	mu         sync.Mutex
	played     [][]byte
	interrupts int
	playedCh   chan struct{}
}

func newFakeOutput() *fakeOutput { return &fakeOutput{playedCh: make(chan struct{}, 16)} }

func (f *fakeOutput) Play(pcm []byte) {
	f.mu.Lock()
	f.played = append(f.played, pcm)
	f.mu.Unlock()
	select {
	case f.playedCh <- struct{}{}:
	default:
	}
}

func (f *fakeOutput) Interrupt(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return nil
}

func (f *fakeOutput) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played), f.interrupts
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Params{Config: calls.StreamingProviderConfig{Type: "streaming_provider_nope"}, Output: newFakeOutput()})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestNew_RemoteRequiresURL(t *testing.T) {
	if _, err := New(Params{Config: calls.StreamingProviderConfig{Type: TypeRemote}, Output: newFakeOutput()}); err == nil {
		t.Fatalf("expected error without url")
	}
}

func TestEcho_PlaysBackAndInterruptsOnStar(t *testing.T) {
	out := newFakeOutput()
	bus := events.NewBus(quiet(), nil)
	var actions []string
	bus.Subscribe("rec", events.SubscriberFunc(func(ctx context.Context, e events.Event) error {
		actions = append(actions, e.(events.CustomAction).Payload["digit"])
		return nil
	}))

	p, err := New(Params{
		ConversationID: "c1",
		Config:         calls.StreamingProviderConfig{Type: TypeEcho},
		Output:         out,
		Bus:            bus,
		Logger:         quiet(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()

	p.SendAudio([]byte{1, 2})
	p.SendAudio(nil)
	p.SendDTMF(mediastream.KeypadStar)
	p.SendDTMF("5")

	played, interrupts := out.counts()
	if played != 1 || interrupts != 1 {
		t.Fatalf("expected 1 play and 1 interrupt, got %d/%d", played, interrupts)
	}
	if strings.Join(actions, ",") != "*,5" {
		t.Fatalf("unexpected custom actions %v", actions)
	}

	p.Stop()
	p.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Start did not return after Stop")
	}
}

func TestRemote_BridgesAudioAndControl(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotStart := make(chan remoteMessage, 1)
	gotAudio := make(chan []byte, 1)
	gotDTMF := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, _ := conn.ReadMessage()
		var start remoteMessage
		_ = json.Unmarshal(data, &start)
		gotStart <- start

		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{9, 9})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"interrupt"}`))

		for i := 0; i < 2; i++ {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				gotAudio <- data
			} else {
				var m remoteMessage
				_ = json.Unmarshal(data, &m)
				gotDTMF <- m.Digit
			}
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hangup"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	out := newFakeOutput()
	p, err := New(Params{
		ConversationID: "outbound_1",
		Config: calls.StreamingProviderConfig{
			Type:       TypeRemote,
			URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
			APIKey:     "k",
			SampleRate: 16000,
			Greeting:   "hello",
		},
		Output: out,
		Logger: quiet(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()

	start := <-gotStart
	if start.Type != "start" || start.ConversationID != "outbound_1" || start.SampleRate != 16000 || start.Greeting != "hello" {
		t.Fatalf("unexpected start message %+v", start)
	}

	p.SendAudio([]byte{1, 2, 3, 4})
	if a := <-gotAudio; len(a) != 4 {
		t.Fatalf("unexpected audio %v", a)
	}
	p.SendDTMF("7")
	if d := <-gotDTMF; d != "7" {
		t.Fatalf("unexpected digit %q", d)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not return after hangup")
	}

	played, interrupts := out.counts()
	if played != 1 || interrupts != 1 {
		t.Fatalf("expected 1 play and 1 interrupt, got %d/%d", played, interrupts)
	}
	p.Stop()
}

func TestRemote_StopEndsStart(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connected := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		close(connected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p, _ := New(Params{
		Config: calls.StreamingProviderConfig{Type: TypeRemote, URL: "ws" + strings.TrimPrefix(srv.URL, "http")},
		Output: newFakeOutput(),
		Logger: quiet(),
	})
	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()
	<-connected
	p.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil after Stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not return after Stop")
	}
}
