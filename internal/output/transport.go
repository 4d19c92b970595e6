package output

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport carries encoded frames to the carrier.
type Transport interface {
	WriteText(ctx context.Context, data []byte) error
}

// wsWriter is the subset of *websocket.Conn used for writing.
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// WebSocketTransport serializes writes to a carrier socket.
// gorilla/websocket allows one concurrent writer; every write goes through mu.
type WebSocketTransport struct {
	mu           sync.Mutex
	ws           wsWriter
	writeTimeout time.Duration
	closed       bool
}

func NewWebSocketTransport(ws wsWriter, writeTimeout time.Duration) *WebSocketTransport {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &WebSocketTransport{ws: ws, writeTimeout: writeTimeout}
}

func (t *WebSocketTransport) WriteText(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return websocket.ErrCloseSent
	}

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and closes the socket. Later calls are no-ops.
func (t *WebSocketTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	deadline := time.Now().Add(t.writeTimeout)
	werr := t.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	cerr := t.ws.Close()
	if werr != nil && werr != websocket.ErrCloseSent {
		return werr
	}
	return cerr
}
