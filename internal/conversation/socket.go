package conversation

import (
	"time"

	"github.com/gorilla/websocket"

	"voice-bridge/internal/output"
)

// Socket is the carrier media connection as seen by a Conversation.
// Reads happen on one goroutine; writes and Close may come from any.
type Socket interface {
	output.Transport
	ReadMessage() (messageType int, data []byte, err error)
	SetReadDeadline(t time.Time) error
	Close(code int, reason string) error
}

type wsSocket struct {
	conn *websocket.Conn
	*output.WebSocketTransport
}

// WrapWebSocket adapts an accepted gorilla connection.
func WrapWebSocket(conn *websocket.Conn, writeTimeout time.Duration) Socket {
	return &wsSocket{conn: conn, WebSocketTransport: output.NewWebSocketTransport(conn, writeTimeout)}
}

func (s *wsSocket) ReadMessage() (int, []byte, error) { return s.conn.ReadMessage() }

func (s *wsSocket) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }
