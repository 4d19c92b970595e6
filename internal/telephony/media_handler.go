package telephony

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/conversation"
	"voice-bridge/internal/events"
	"voice-bridge/pkg/logger"
)

// MediaStreamHandler accepts the carrier media WebSocket at
// /connect_call/:conversation_id and runs the conversation to completion.
//
// Every rejection (unknown id, unsupported carrier, cap reached) happens
// before the upgrade, so the carrier never sees an accepted-then-failed socket.
type MediaStreamHandler struct {
	Store    calls.Store
	Bus      *events.Bus
	Registry *conversation.Registry
	Options  conversation.Options

	// Limiter is optional; inbound calls acquire here, outbound ones at creation.
	Limiter CallLimiter

	DeleteConfigOnEnd bool
	WriteTimeout      time.Duration

	// BaseContext outlives the HTTP request; cancel it to stop all calls.
	BaseContext context.Context

	Upgrader websocket.Upgrader
}

const cleanupTimeout = 5 * time.Second

func (h *MediaStreamHandler) HandleConnect(c *gin.Context) {
	reqLog := logger.FromGin(c)

	id := strings.TrimSpace(c.Param("conversation_id"))
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}
	log := logger.ForCall(reqLog, id)

	cfg, ok, err := h.Store.Get(c.Request.Context(), id)
	if err != nil {
		log.Error("call config lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !ok {
		log.Warn("media connect for unknown conversation")
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active phone call"})
		return
	}
	if err := conversation.CheckSupported(cfg); err != nil {
		log.Warn("unsupported call config", "type", cfg.Type(), "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unsupported call type"})
		return
	}

	account := accountOf(cfg)
	acquired := false
	if cfg.Base().Direction == calls.DirectionInbound && h.Limiter != nil {
		ok, err := h.Limiter.Acquire(c.Request.Context(), account)
		if err != nil {
			log.Error("call cap acquire failed", "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "call cap unavailable"})
			return
		}
		if !ok {
			log.Warn("concurrent call limit reached")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": ErrCapacity.Error()})
			return
		}
		acquired = true
	}
	// Until this request owns the conversation it may only give back its own slot.
	owned := false
	defer func() {
		if !owned && acquired {
			h.release(log, account)
		}
	}()

	upgrader := h.Upgrader
	if upgrader.CheckOrigin == nil {
		// The carrier sends no Origin header.
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("media websocket upgrade failed", "err", err)
		return
	}

	opts := h.Options
	opts.Logger = reqLog
	conv, err := conversation.FromCallConfig(cfg, conversation.WrapWebSocket(ws, h.WriteTimeout), h.Bus, opts)
	if err != nil {
		log.Error("conversation construction failed", "err", err)
		closeWithCode(ws, websocket.CloseInternalServerErr, "call setup failed")
		if !h.isLive(id) {
			owned = true
			h.finish(log, id, account)
		}
		return
	}

	if h.Registry != nil {
		if err := h.Registry.Add(conv); err != nil {
			log.Warn("conversation already connected", "err", err)
			closeWithCode(ws, websocket.ClosePolicyViolation, "duplicate connection")
			return
		}
	}
	owned = true
	defer func() {
		if h.Registry != nil {
			h.Registry.Remove(conv)
		}
		h.finish(log, id, account)
	}()

	base := h.BaseContext
	if base == nil {
		base = context.Background()
	}
	log.Info("media stream accepted")
	if err := conv.Run(logger.With(base, log)); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("conversation ended with error", "err", err)
	}
}

// finish runs once the conversation this handler registered has ended.
func (h *MediaStreamHandler) finish(log *slog.Logger, id, account string) {
	h.release(log, account)
	if h.DeleteConfigOnEnd {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := h.Store.Delete(ctx, id); err != nil {
			log.Warn("call config delete failed", "err", err)
		}
	}
}

func (h *MediaStreamHandler) isLive(id string) bool {
	if h.Registry == nil {
		return false
	}
	_, ok := h.Registry.Get(id)
	return ok
}

func (h *MediaStreamHandler) release(log *slog.Logger, account string) {
	if h.Limiter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := h.Limiter.Release(ctx, account); err != nil {
		log.Warn("call cap release failed", "err", err)
	}
}

func closeWithCode(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = ws.Close()
}

func accountOf(cfg calls.CallConfig) string {
	switch v := cfg.(type) {
	case *calls.TwilioCallConfig:
		return v.Credentials.AccountID
	case *calls.PlivoCallConfig:
		return v.Credentials.AccountID
	default:
		return ""
	}
}
