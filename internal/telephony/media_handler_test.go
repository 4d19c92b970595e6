package telephony

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/conversation"
	"voice-bridge/internal/events"
	"voice-bridge/pkg/logger"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

type mediaFixture struct {
	srv      *httptest.Server
	logs     *lockedBuffer
	store    *calls.MemoryStore
	registry *conversation.Registry
	limiter  *fakeLimiter
	rec      *recorder
}

func newMediaFixture(t *testing.T, limit int) *mediaFixture {
	t.Helper()
	bus, rec := newRecordingBus()
	f := &mediaFixture{
		store:    calls.NewMemoryStore(),
		registry: conversation.NewRegistry(),
		limiter:  newFakeLimiter(limit),
		rec:      rec,
		logs:     &lockedBuffer{},
	}
	h := &MediaStreamHandler{
		Store:    f.store,
		Bus:      bus,
		Registry: f.registry,
		Options: conversation.Options{
			SampleRate:   16000,
			StartTimeout: 2 * time.Second,
			Logger:       quietLogger(),
		},
		Limiter:           f.limiter,
		DeleteConfigOnEnd: true,
		WriteTimeout:      time.Second,
	}
	r := gin.New()
	r.Use(logger.Middleware(slog.New(slog.NewJSONHandler(f.logs, nil))))
	r.GET("/connect_call/:conversation_id", h.HandleConnect)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *mediaFixture) save(t *testing.T, cfg calls.CallConfig) {
	t.Helper()
	if err := f.store.Save(context.Background(), cfg.Base().ConversationID, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func (f *mediaFixture) wsURL(id string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/connect_call/" + id
}

func inboundConfig(id string) *calls.TwilioCallConfig {
	return &calls.TwilioCallConfig{
		Common: calls.Common{
			ConversationID:    id,
			Direction:         calls.DirectionInbound,
			FromPhone:         "+15551230000",
			ToPhone:           "+15559998888",
			CarrierCallID:     "CA123",
			StreamingProvider: calls.StreamingProviderConfig{Type: "streaming_provider_echo", SampleRate: 16000},
		},
		Credentials: calls.Credentials{AccountID: "AC1", Secret: "tok"},
	}
}

func TestMediaStreamHandlerRejectsUnknownConversation(t *testing.T) {
	f := newMediaFixture(t, 5)
	resp, err := http.Get(f.srv.URL + "/connect_call/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	_, wsResp, err := websocket.DefaultDialer.Dial(f.wsURL("missing"), nil)
	if err == nil {
		t.Fatalf("expected websocket handshake to fail")
	}
	if wsResp == nil || wsResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %v", wsResp)
	}
}

func TestMediaStreamHandlerRejectsUnsupportedCarrier(t *testing.T) {
	f := newMediaFixture(t, 5)
	plivo := &calls.PlivoCallConfig{Common: inboundConfig("inbound_plivo").Common, Credentials: calls.Credentials{AccountID: "MA1", Secret: "s"}}
	f.save(t, plivo)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("inbound_plivo"), nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", resp)
	}
}

func TestMediaStreamHandlerEnforcesCallCap(t *testing.T) {
	f := newMediaFixture(t, 0)
	f.save(t, inboundConfig("inbound_capped"))

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("inbound_capped"), nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", resp)
	}
}

func TestMediaStreamHandlerRunsCallToCompletion(t *testing.T) {
	f := newMediaFixture(t, 5)
	f.save(t, inboundConfig("inbound_happy"))

	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL("inbound_happy"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	send := func(v any) {
		t.Helper()
		data, _ := json.Marshal(v)
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	send(map[string]any{"event": "start", "start": map[string]any{"streamSid": "MZ1", "callSid": "CA123"}})
	payload := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xFF}, 160))
	send(map[string]any{"event": "media", "streamSid": "MZ1", "media": map[string]any{"payload": payload}})

	connected := f.rec.waitFor(t, events.TypeCallConnected).(events.CallConnected)
	if connected.StreamSID != "MZ1" || connected.Conversation() != "inbound_happy" {
		t.Fatalf("unexpected connected event %#v", connected)
	}
	if f.limiter.inUse("AC1") != 1 {
		t.Fatalf("expected one slot in use")
	}
	if ids := f.registry.IDs(); len(ids) != 1 || ids[0] != "inbound_happy" {
		t.Fatalf("expected registered conversation, got %v", ids)
	}

	// The echo provider plays the caller's audio back as media frames.
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var echoed struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
	}
	for echoed.Event != "media" {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read echoed audio: %v", err)
		}
		_ = json.Unmarshal(data, &echoed)
	}
	if echoed.StreamSID != "MZ1" {
		t.Fatalf("outbound media must carry the stream sid, got %q", echoed.StreamSID)
	}

	send(map[string]any{"event": "stop", "streamSid": "MZ1", "stop": map[string]any{"callSid": "CA123"}})
	ended := f.rec.waitFor(t, events.TypeCallEnded)
	if ended.Conversation() != "inbound_happy" {
		t.Fatalf("unexpected ended event %#v", ended)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && (f.store.Len() != 0 || f.registry.Len() != 0 || f.limiter.inUse("AC1") != 0) {
		time.Sleep(10 * time.Millisecond)
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected config deleted on end")
	}
	if f.registry.Len() != 0 {
		t.Fatalf("expected conversation removed from registry")
	}
	if f.limiter.inUse("AC1") != 0 {
		t.Fatalf("expected slot released")
	}

	n := 0
	for _, e := range f.rec.snapshot() {
		if e.Type() == events.TypeCallEnded {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected exactly one CallEnded, got %d", n)
	}

	scoped := 0
	for _, line := range f.logs.lines() {
		switch strings.Count(line, `"conversation_id"`) {
		case 0:
		case 1:
			scoped++
		default:
			t.Fatalf("conversation_id logged more than once: %s", line)
		}
	}
	if scoped == 0 {
		t.Fatalf("expected call-scoped log lines")
	}
}

func TestMediaStreamHandlerDuplicateConnectLeavesLiveCallIntact(t *testing.T) {
	for _, direction := range []calls.Direction{calls.DirectionInbound, calls.DirectionOutbound} {
		t.Run(string(direction), func(t *testing.T) {
			f := newMediaFixture(t, 5)
			cfg := inboundConfig("call_dup")
			cfg.Direction = direction
			f.save(t, cfg)
			if direction == calls.DirectionOutbound {
				// Outbound calls hold their slot from creation.
				if ok, _ := f.limiter.Acquire(context.Background(), "AC1"); !ok {
					t.Fatalf("acquire: expected a free slot")
				}
			}

			first, _, err := websocket.DefaultDialer.Dial(f.wsURL("call_dup"), nil)
			if err != nil {
				t.Fatalf("dial first: %v", err)
			}
			defer first.Close()
			start, _ := json.Marshal(map[string]any{"event": "start", "start": map[string]any{"streamSid": "MZ1"}})
			if err := first.WriteMessage(websocket.TextMessage, start); err != nil {
				t.Fatalf("write start: %v", err)
			}
			f.rec.waitFor(t, events.TypeCallConnected)

			second, _, err := websocket.DefaultDialer.Dial(f.wsURL("call_dup"), nil)
			if err != nil {
				t.Fatalf("dial second: %v", err)
			}
			defer second.Close()
			_ = second.SetReadDeadline(time.Now().Add(3 * time.Second))
			_, _, err = second.ReadMessage()
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Fatalf("expected policy violation close, got %v", err)
			}

			// Give the rejected handler time to run its deferred cleanup.
			time.Sleep(50 * time.Millisecond)
			if f.store.Len() != 1 {
				t.Fatalf("live call config must survive a duplicate connect")
			}
			if n := f.limiter.inUse("AC1"); n != 1 {
				t.Fatalf("expected the live call to keep exactly one slot, got %d", n)
			}
			if f.registry.Len() != 1 {
				t.Fatalf("expected the live call to stay registered")
			}

			stop, _ := json.Marshal(map[string]any{"event": "stop"})
			if err := first.WriteMessage(websocket.TextMessage, stop); err != nil {
				t.Fatalf("write stop: %v", err)
			}
			deadline := time.Now().Add(3 * time.Second)
			for time.Now().Before(deadline) && (f.store.Len() != 0 || f.limiter.inUse("AC1") != 0) {
				time.Sleep(10 * time.Millisecond)
			}
			if f.store.Len() != 0 || f.limiter.inUse("AC1") != 0 {
				t.Fatalf("expected cleanup once the live call ends, store=%d slots=%d", f.store.Len(), f.limiter.inUse("AC1"))
			}
		})
	}
}
