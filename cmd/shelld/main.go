package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bizshell/internal/broadcast"
	"bizshell/internal/cache"
	"bizshell/internal/clock"
	"bizshell/internal/config"
	"bizshell/internal/jwtsigner"
	"bizshell/internal/observability/logging"
	"bizshell/internal/observability/metrics"
	"bizshell/internal/session"
	"bizshell/internal/storage"
	"bizshell/internal/tabs"
	transport "bizshell/internal/transport/http"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.Load()
	logger := logging.NewLogger(logging.Config{
		ServiceName: "shelld",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("shelld")

	logger.Info("starting service")

	durable, err := storage.Open(cfg.Durable, "durable")
	if err != nil {
		logger.Error("open durable storage", "location", cfg.Durable, "error", err)
		os.Exit(1)
	}
	defer storage.Close(durable)
	if cfg.DurableQuota > 0 {
		durable = storage.WithQuota(durable, cfg.DurableQuota)
		logger.Info("durable quota", "limit", humanize.Bytes(cfg.DurableQuota))
	}

	sessionTier, err := storage.Open(cfg.SessionStore, "session")
	if err != nil {
		logger.Error("open session storage", "location", cfg.SessionStore, "error", err)
		os.Exit(1)
	}
	defer storage.Close(sessionTier)

	clk := clock.Real{}
	mgr := cache.New(cache.Config{
		Tiers:  []storage.Backend{storage.NewMemory("memory"), durable, sessionTier},
		Prefix: cfg.CachePrefix,
		Clock:  clk,
		Logger: logger,
	})
	janitor, err := cache.NewJanitor(mgr, cfg.CacheCleanupCron, logger)
	if err != nil {
		logger.Error("cache janitor", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := janitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("cache janitor stopped", "error", err)
		}
	}()

	observer, err := broadcast.Open(cfg.Broadcast, cfg.Channel)
	if err != nil {
		logger.Error("open broadcast", "transport", cfg.Broadcast, "error", err)
		os.Exit(1)
	}
	defer observer.Close()
	if err := observer.Subscribe(func(m broadcast.Message) {
		metrics.BroadcastMessagesTotal.WithLabelValues("in", m.Type).Inc()
		logger.Info("tab message", "type", m.Type, "tab_id", m.TabID, "path", m.Path)
	}); err != nil {
		logger.Warn("broadcast observer disabled", "error", err)
	}

	poster, err := broadcast.Open(cfg.Broadcast, cfg.Channel)
	if err != nil {
		logger.Error("open broadcast", "transport", cfg.Broadcast, "error", err)
		os.Exit(1)
	}
	defer poster.Close()

	deps := transport.Deps{
		Tabs:        tabs.NewStore(durable, logger),
		Session:     session.New(durable, clk, logger),
		Cache:       mgr,
		Janitor:     janitor,
		DevTokenTTL: cfg.DevTokenTTL,
		Transport:   poster,
		Clock:       clk,
		StaleAfter:  cfg.StaleAfter,
	}
	if cfg.DevTokens {
		signer, err := jwtsigner.NewFromBase64(cfg.DevSigningKey, "dev", "shelld")
		if err != nil {
			logger.Error("dev signer", "error", err)
			os.Exit(1)
		}
		deps.Signer = signer
		logger.Warn("dev login endpoint enabled")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           transport.NewRouter(deps, transport.Options{CORSOrigins: cfg.CORSOrigins, RateLimit: cfg.RateLimit, Logger: logger}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	slog.Info("shelld listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
