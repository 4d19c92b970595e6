package telephony

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/events"
)

func init() { gin.SetMode(gin.TestMode) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, typ events.Type) events.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range r.snapshot() {
			if e.Type() == typ {
				return e
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("event %s not published; got %v", typ, r.snapshot())
	return nil
}

func newRecordingBus() (*events.Bus, *recorder) {
	bus := events.NewBus(quietLogger(), nil)
	rec := &recorder{}
	bus.Subscribe("recorder", rec)
	return bus, rec
}

// fakeControl is an in-memory CallControl.
type fakeControl struct {
	mu       sync.Mutex
	creds    calls.Credentials
	created  []CreateCallRequest
	ended    []string
	endCreds []calls.Credentials
	createFn func(CreateCallRequest) (string, error)
	endErr   error
}

func newFakeControl() *fakeControl {
	return &fakeControl{creds: calls.Credentials{AccountID: "AC1", Secret: "tok"}}
}

func (f *fakeControl) Name() string { return "fake" }

func (f *fakeControl) CreateCall(_ context.Context, req CreateCallRequest) (string, error) {
	f.mu.Lock()
	f.created = append(f.created, req)
	fn := f.createFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return "CA" + req.ConversationID, nil
}

func (f *fakeControl) EndCall(_ context.Context, sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, sid)
	f.endCreds = append(f.endCreds, f.creds)
	return f.endErr
}

func (f *fakeControl) ConnectInstructions(id string) (string, error) {
	return RenderConnectTwiML("wss://bridge.example.com/connect_call/" + id)
}

func (f *fakeControl) Credentials() calls.Credentials { return f.creds }

func (f *fakeControl) ForCredentials(creds calls.Credentials) CallControl {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = creds
	return f
}

// fakeLimiter counts slots per account.
type fakeLimiter struct {
	mu    sync.Mutex
	limit int
	used  map[string]int
	err   error
}

func newFakeLimiter(limit int) *fakeLimiter {
	return &fakeLimiter{limit: limit, used: map[string]int{}}
}

func (l *fakeLimiter) Acquire(_ context.Context, account string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.used[account] >= l.limit {
		return false, nil
	}
	l.used[account]++
	return true, nil
}

func (l *fakeLimiter) Release(_ context.Context, account string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used[account] > 0 {
		l.used[account]--
	}
	return nil
}

func (l *fakeLimiter) inUse(account string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[account]
}
