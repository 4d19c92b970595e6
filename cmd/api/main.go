package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"voice-bridge/internal/audit"
	"voice-bridge/internal/auth"
	"voice-bridge/internal/calls"
	"voice-bridge/internal/config"
	"voice-bridge/internal/conversation"
	"voice-bridge/internal/events"
	"voice-bridge/internal/metrics"
	"voice-bridge/internal/reporting"
	"voice-bridge/internal/telephony"
	"voice-bridge/pkg/logger"
	"voice-bridge/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	var db *sql.DB
	if cfg.NeedsPostgres() {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := utils.EnsureSchema(rootCtx, db, calls.PostgresSchema, audit.PostgresSchema); err != nil {
			log.Error("postgres schema failed", "err", err)
			os.Exit(1)
		}
	}

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := events.NewBus(log, m)
	bus.Subscribe("log", events.SubscriberFunc(func(ctx context.Context, e events.Event) error {
		log.InfoContext(ctx, "call event", "type", string(e.Type()), "conversation_id", e.Conversation())
		return nil
	}))

	var journal *audit.Service
	if cfg.Store.AuditEnabled {
		journal = audit.NewService(audit.NewPostgresRepo(db))
		bus.Subscribe("audit", journal)
	}

	reports := reporting.NewService(reporting.NewMemoryRepo(0))
	bus.Subscribe("reporting", reports)

	var store calls.Store
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		store = calls.NewPostgresStore(db)
	case config.BackendMemory:
		store = calls.NewMemoryStore()
	default:
		store = calls.NewRedisStore(rdb, 0)
	}

	twilio, err := telephony.NewTwilioClient(telephony.TwilioClientConfig{
		Credentials: calls.Credentials{AccountID: cfg.Twilio.AccountSID, Secret: cfg.Twilio.AuthToken},
		BaseURL:     cfg.App.BaseURL,
		APIBaseURL:  cfg.Twilio.APIBaseURL,
		Timeout:     cfg.Call.RESTTimeout,
		Metrics:     m,
	})
	if err != nil {
		log.Error("twilio client init failed", "err", err)
		os.Exit(1)
	}

	var limiter telephony.CallLimiter
	if cc := utils.NewCallCap(rdb, cfg.Call.MaxConcurrent, 0); cc != nil {
		limiter = cc
	}

	registry := conversation.NewRegistry()

	d := deps{
		cfg:      cfg,
		log:      log,
		auth:     authManager,
		store:    store,
		bus:      bus,
		metrics:  m,
		gatherer: reg,
		registry: registry,
		journal:  journal,
		reports:  reports,
		control:  twilio,
		limiter:  limiter,
		rootCtx:  rootCtx,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, d)

	// No WriteTimeout: media WebSockets are long-lived and manage their own deadlines.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "active_calls", registry.Len())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Hijacked media sockets are not tracked by Shutdown; end them explicitly.
	registry.TerminateAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
