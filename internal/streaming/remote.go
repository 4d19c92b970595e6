package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"voice-bridge/internal/events"
	"voice-bridge/internal/mediastream"
)

const (
	remoteSendBuffer   = 256
	remoteWriteTimeout = 5 * time.Second
)

type remoteMessage struct {
	Type           string            `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	SampleRate     int               `json:"sample_rate,omitempty"`
	Prompt         string            `json:"prompt,omitempty"`
	Greeting       string            `json:"greeting,omitempty"`
	Digit          string            `json:"digit,omitempty"`
	Action         string            `json:"action,omitempty"`
	Payload        map[string]string `json:"payload,omitempty"`
}

type outbound struct {
	messageType int
	data        []byte
}

// Remote bridges the call to an external pipeline over WebSocket.
//
// Protocol: a JSON "start" message opens the session, caller PCM goes out as
// binary frames and keypad digits as {"type":"dtmf"}. Binary frames received
// are played; {"type":"interrupt"} barges in; {"type":"hangup"} ends Start.
type Remote struct {
	p      Params
	dialer websocket.Dialer

	send chan outbound

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewRemote(p Params) (*Remote, error) {
	if p.Config.URL == "" {
		return nil, errors.New("streaming: remote provider requires a url")
	}
	return &Remote{
		p:       p,
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		send:    make(chan outbound, remoteSendBuffer),
		stopped: make(chan struct{}),
	}, nil
}

func (r *Remote) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headers := http.Header{}
	if r.p.Config.APIKey != "" {
		headers.Set("Authorization", "Bearer "+r.p.Config.APIKey)
	}
	conn, resp, err := r.dialer.DialContext(ctx, r.p.Config.URL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("streaming: connect (status %d): %s", resp.StatusCode, string(body))
		}
		return fmt.Errorf("streaming: connect: %w", err)
	}

	r.mu.Lock()
	select {
	case <-r.stopped:
		r.mu.Unlock()
		_ = conn.Close()
		return nil
	default:
	}
	r.conn = conn
	r.cancel = cancel
	r.mu.Unlock()
	defer r.closeConn()

	start, _ := json.Marshal(remoteMessage{
		Type:           "start",
		ConversationID: r.p.ConversationID,
		SampleRate:     r.p.Config.SampleRate,
		Prompt:         r.p.Config.Prompt,
		Greeting:       r.p.Config.Greeting,
	})
	if err := r.write(conn, websocket.TextMessage, start); err != nil {
		return fmt.Errorf("streaming: send start: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.readLoop(gctx, conn)
		cancel()
		return err
	})
	g.Go(func() error { return r.writeLoop(gctx, conn) })
	g.Go(func() error {
		// Unblocks ReadMessage once either loop is done.
		<-gctx.Done()
		r.closeConn()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Remote) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("streaming: read: %w", err)
		}

		if mt == websocket.BinaryMessage {
			r.p.Output.Play(data)
			continue
		}

		var msg remoteMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.p.Logger.Warn("remote pipeline sent invalid message", "err", err)
			continue
		}
		switch msg.Type {
		case "interrupt":
			if err := r.p.Output.Interrupt(ctx); err != nil {
				r.p.Logger.Warn("remote interrupt failed", "err", err)
			}
		case "hangup":
			r.p.Logger.Info("remote pipeline ended the call")
			return nil
		case "custom_action":
			if r.p.Bus != nil {
				r.p.Bus.Publish(ctx, events.CustomAction{
					Header:  events.NewHeader(r.p.ConversationID),
					Action:  msg.Action,
					Payload: msg.Payload,
				})
			}
		default:
			r.p.Logger.Debug("remote pipeline message ignored", "type", msg.Type)
		}
	}
}

func (r *Remote) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-r.send:
			if err := r.write(conn, m.messageType, m.data); err != nil {
				return fmt.Errorf("streaming: write: %w", err)
			}
		}
	}
}

func (r *Remote) write(conn *websocket.Conn, mt int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(remoteWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(mt, data)
}

func (r *Remote) enqueue(m outbound) {
	select {
	case r.send <- m:
	default:
		r.p.Logger.Warn("remote pipeline send buffer full, dropping frame")
	}
}

func (r *Remote) SendAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	r.enqueue(outbound{messageType: websocket.BinaryMessage, data: buf})
}

func (r *Remote) SendDTMF(digit mediastream.Keypad) {
	data, _ := json.Marshal(remoteMessage{Type: "dtmf", Digit: string(digit)})
	r.enqueue(outbound{messageType: websocket.TextMessage, data: data})
}

// Stop cancels Start and closes the pipeline socket. Safe to call more than once.
func (r *Remote) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		close(r.stopped)
		cancel := r.cancel
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		r.closeConn()
	})
}

func (r *Remote) closeConn() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
}
