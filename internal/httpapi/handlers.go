package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voice-bridge/internal/audit"
	"voice-bridge/internal/auth"
	"voice-bridge/internal/conversation"
	"voice-bridge/internal/rbac"
	"voice-bridge/internal/reporting"
	"voice-bridge/internal/telephony"
	"voice-bridge/pkg/logger"
)

// CallDialer is the call-control surface the operator API needs.
type CallDialer interface {
	Call(ctx context.Context, req telephony.OutboundRequest) (telephony.OutboundResult, error)
	End(ctx context.Context, conversationID string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Dialer   CallDialer
	Registry *conversation.Registry

	// Audit and Reports are optional.
	Audit   *audit.Service
	Reports *reporting.Service
}

// --- Auth ---

type tokenRequest struct {
	OperatorID string `json:"operator_id"`
	APIKey     string `json:"api_key"`
	Role       string `json:"role,omitempty"`
}

// IssueToken exchanges the shared operator API key for a JWT token pair.
// Only operator and viewer roles can be requested this way.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.OperatorID = strings.TrimSpace(req.OperatorID)
	if req.OperatorID == "" || req.APIKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator_id, api_key required"})
		return
	}
	if err := h.Auth.CheckAPIKey(req.APIKey); err != nil {
		logger.FromGin(c).Warn("token request with invalid api key", "operator_id", req.OperatorID)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	role := req.Role
	if role == "" {
		role = rbac.RoleOperator
	}
	if role != rbac.RoleOperator && role != rbac.RoleViewer {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not grantable"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.OperatorID, role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken issues a new pair for a valid refresh token; the role resets to operator.
func (h Handlers) RefreshToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	now := time.Now()
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, now)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	pair, err := h.Auth.IssuePair(now, claims.OperatorID, rbac.RoleOperator)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Calls ---

// CreateOutboundCall originates a call. RBAC: operator or admin.
func (h Handlers) CreateOutboundCall(c *gin.Context) {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony not configured"})
		return
	}
	var req telephony.OutboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to, from required"})
		return
	}

	res, err := h.Dialer.Call(c.Request.Context(), req)
	if err != nil {
		logger.FromGin(c).Warn("outbound call failed", "err", err)
		writeCallError(c, err)
		return
	}
	h.journal(c, res.ConversationID, "outbound call created", res)
	c.JSON(http.StatusCreated, res)
}

// EndCall hangs up a call and stops it locally. RBAC: operator or admin.
func (h Handlers) EndCall(c *gin.Context) {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony not configured"})
		return
	}
	id := c.Param("conversation_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "conversation_id required"})
		return
	}
	if err := h.Dialer.End(c.Request.Context(), id); err != nil {
		logger.FromGin(c).Warn("end call failed", "conversation_id", id, "err", err)
		writeCallError(c, err)
		return
	}
	h.journal(c, id, "call ended by operator", nil)
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "status": "completed"})
}

// ListActiveCalls returns conversations running in this process.
func (h Handlers) ListActiveCalls(c *gin.Context) {
	ids := []string{}
	if h.Registry != nil {
		ids = append(ids, h.Registry.IDs()...)
	}
	c.JSON(http.StatusOK, gin.H{"conversation_ids": ids, "count": len(ids)})
}

// ListCallEvents returns the journal for one conversation.
func (h Handlers) ListCallEvents(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	id := c.Param("conversation_id")
	evs, err := h.Audit.List(c.Request.Context(), id)
	if err != nil {
		logger.FromGin(c).Error("journal lookup failed", "conversation_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "journal lookup failed"})
		return
	}
	if evs == nil {
		evs = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "events": evs})
}

// CallsReport aggregates call outcomes. Query: from, to (RFC3339; default last 24h), direction.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "reporting disabled"})
		return
	}
	now := time.Now().UTC()
	rng := reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		rng.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		rng.To = t
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{Range: rng, Direction: c.Query("direction")})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"range": rng, "summary": out})
}

func (h Handlers) journal(c *gin.Context, conversationID, message string, details any) {
	if h.Audit == nil {
		return
	}
	operatorID, _ := auth.OperatorID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	metadata := ""
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			metadata = string(b)
		}
	}
	if err := h.Audit.LogOperatorAction(c.Request.Context(), conversationID, operatorID, role, c.ClientIP(), message, metadata); err != nil {
		logger.FromGin(c).Warn("journal append failed", "err", err)
	}
}

func writeCallError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, telephony.ErrCapacity):
		status = http.StatusTooManyRequests
	case errors.Is(err, telephony.ErrInputRejected):
		status = http.StatusBadRequest
	case errors.Is(err, telephony.ErrCarrierFailure):
		status = http.StatusBadGateway
	case errors.Is(err, telephony.ErrCallNotFound):
		status = http.StatusNotFound
	case errors.Is(err, telephony.ErrNotCompleted):
		status = http.StatusConflict
	case errors.Is(err, conversation.ErrUnsupportedCarrier):
		status = http.StatusUnprocessableEntity
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// Convenience middleware bundles.

func RequireOperatorAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireOperator(), rbac.RequireAnyRole(roles...)}
}
