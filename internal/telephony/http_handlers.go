package telephony

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/events"
	"voice-bridge/pkg/logger"
)

// InboundCallHandler answers the carrier's voice webhook: it persists a call
// config for a fresh conversation and replies with connect instructions.
//
// No business logic here.
type InboundCallHandler struct {
	Control   CallControl
	Store     calls.Store
	Streaming calls.StreamingProviderConfig
	Record    bool

	// NewID defaults to calls.NewConversationID.
	NewID func(calls.Direction) string
}

func (h InboundCallHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Control == nil || h.Store == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony not configured"})
		return
	}
	newID := h.NewID
	if newID == nil {
		newID = calls.NewConversationID
	}

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	id := newID(calls.DirectionInbound)
	log = logger.ForCall(log, id)
	cfg := form.ToCallConfig(id, h.Control.Credentials(), h.Streaming, h.Record)

	if err := h.Store.Save(c.Request.Context(), id, cfg); err != nil {
		log.Error("inbound call config save failed", "call_sid", form.CallSid, "err", err)
		// The caller would otherwise hear a carrier error message.
		writeTwiML(c, RenderHangupTwiML)
		return
	}

	log.Info("inbound call accepted", "call_sid", form.CallSid)
	writeTwiML(c, func() (string, error) { return h.Control.ConnectInstructions(id) })
}

func writeTwiML(c *gin.Context, render func() (string, error)) {
	twiml, err := render()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// RecordingHandler receives the recording callback for a conversation and
// publishes RecordingAvailable.
type RecordingHandler struct {
	Bus *events.Bus
}

type recordingCallback struct {
	RecordingURL string `json:"recording_url" form:"RecordingUrl"`
}

func (h RecordingHandler) HandleRecording(c *gin.Context) {
	log := logger.FromGin(c)

	id := strings.TrimSpace(c.Param("conversation_id"))
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	var body recordingCallback
	// JSON by contract; the carrier's own callback posts a form.
	var err error
	if strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
		err = c.ShouldBind(&body)
	} else {
		err = c.ShouldBindJSON(&body)
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if strings.TrimSpace(body.RecordingURL) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "recording_url is required"})
		return
	}
	if h.Bus == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event bus not configured"})
		return
	}

	h.Bus.Publish(logger.With(c.Request.Context(), logger.ForCall(log, id)), events.RecordingAvailable{
		Header:       events.NewHeader(id),
		RecordingURL: body.RecordingURL,
	})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
