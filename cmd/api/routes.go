package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voice-bridge/internal/audit"
	"voice-bridge/internal/auth"
	"voice-bridge/internal/calls"
	"voice-bridge/internal/config"
	"voice-bridge/internal/conversation"
	"voice-bridge/internal/events"
	"voice-bridge/internal/httpapi"
	"voice-bridge/internal/metrics"
	"voice-bridge/internal/rbac"
	"voice-bridge/internal/reporting"
	"voice-bridge/internal/telephony"
)

type deps struct {
	cfg      config.Config
	log      *slog.Logger
	auth     *auth.Manager
	store    calls.Store
	bus      *events.Bus
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	registry *conversation.Registry
	journal  *audit.Service
	reports  *reporting.Service
	control  telephony.CallControl
	limiter  telephony.CallLimiter
	rootCtx  context.Context
}

func (d deps) streamingDefaults() calls.StreamingProviderConfig {
	s := d.cfg.Streaming
	return calls.StreamingProviderConfig{
		Type:       s.Provider,
		URL:        s.URL,
		APIKey:     s.APIKey,
		SampleRate: s.SampleRate,
		Prompt:     s.Prompt,
		Greeting:   s.Greeting,
	}
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d deps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{})))

	// Carrier webhooks and media (public).
	// NOTE: The webhook should be protected by Twilio signature validation in production.
	{
		inbound := telephony.InboundCallHandler{
			Control:   d.control,
			Store:     d.store,
			Streaming: d.streamingDefaults(),
			Record:    d.cfg.Twilio.Record,
		}
		r.POST(d.cfg.Twilio.InboundPath, inbound.HandleInboundCall)

		r.POST("/recordings/:conversation_id", telephony.RecordingHandler{Bus: d.bus}.HandleRecording)

		media := &telephony.MediaStreamHandler{
			Store:    d.store,
			Bus:      d.bus,
			Registry: d.registry,
			Options: conversation.Options{
				SampleRate:    d.cfg.Streaming.SampleRate,
				StartTimeout:  d.cfg.Call.StartTimeout,
				QueueSize:     d.cfg.Call.OutputQueueSize,
				SubChunkBytes: d.cfg.Call.OutputChunkBytes,
				Metrics:       d.metrics,
			},
			Limiter:           d.limiter,
			DeleteConfigOnEnd: d.cfg.Call.DeleteConfigOnEnd,
			WriteTimeout:      10 * time.Second,
			BaseContext:       d.rootCtx,
		}
		r.GET("/connect_call/:conversation_id", media.HandleConnect)
	}

	dialer := &telephony.Dialer{
		Control:   d.control,
		Store:     d.store,
		Streaming: d.streamingDefaults(),
		Record:    d.cfg.Twilio.Record,
		Limiter:   d.limiter,
		Registry:  d.registry,
		Logger:    d.log,
	}
	h := httpapi.Handlers{
		Auth:     d.auth,
		Dialer:   dialer,
		Registry: d.registry,
		Audit:    d.journal,
		Reports:  d.reports,
	}

	v1 := r.Group("/v1")

	// AUTH routes (token issuance).
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/token", h.IssueToken)
		authGroup.POST("/refresh", h.RefreshToken)
	}

	// CALLS routes
	callGroup := v1.Group("/calls")
	callGroup.Use(auth.RequireAccessToken(d.auth))
	{
		operate := httpapi.RequireOperatorAndAnyRole(rbac.RoleOperator)
		read := httpapi.RequireOperatorAndAnyRole(rbac.RoleOperator, rbac.RoleViewer)

		callGroup.POST("/outbound", append(operate, h.CreateOutboundCall)...)
		callGroup.POST("/:conversation_id/end", append(operate, h.EndCall)...)
		callGroup.GET("/active", append(read, h.ListActiveCalls)...)
		callGroup.GET("/:conversation_id/events", append(read, h.ListCallEvents)...)
	}

	// REPORTS routes
	reports := v1.Group("/reports")
	reports.Use(auth.RequireAccessToken(d.auth))
	reports.GET("/calls", append(httpapi.RequireOperatorAndAnyRole(rbac.RoleOperator, rbac.RoleViewer), h.CallsReport)...)

	// /me echoes the caller identity resolved from the token.
	v1.GET("/me", auth.RequireAccessToken(d.auth), func(c *gin.Context) {
		id, _ := auth.OperatorID(c.Request.Context())
		role, _ := auth.Role(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"operator_id": id, "role": role})
	})
}
