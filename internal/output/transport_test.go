package output

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeWS struct {
	mu       sync.Mutex
	messages []int
	closed   int
}

func (f *fakeWS) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWS) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, messageType)
	return nil
}

func (f *fakeWS) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return f.WriteMessage(messageType, data)
}

func (f *fakeWS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func TestWebSocketTransport_WritesTextAndClosesOnce(t *testing.T) {
	ws := &fakeWS{}
	tr := NewWebSocketTransport(ws, time.Second)

	if err := tr.WriteText(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tr.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := tr.WriteText(context.Background(), []byte(`{}`)); err == nil {
		t.Fatalf("expected write after close to fail")
	}

	if len(ws.messages) != 2 || ws.messages[0] != websocket.TextMessage || ws.messages[1] != websocket.CloseMessage {
		t.Fatalf("unexpected writes %v", ws.messages)
	}
	if ws.closed != 1 {
		t.Fatalf("expected one close, got %d", ws.closed)
	}
}
