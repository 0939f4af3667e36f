package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-relay/internal/gateway/handlers"
	"github.com/mrmushfiq/llm0-relay/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-relay/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-relay/internal/shared/config"
	"github.com/mrmushfiq/llm0-relay/internal/shared/credentials"
	"github.com/mrmushfiq/llm0-relay/internal/shared/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logr, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logr.Sync() }()

	logr.Info("starting relay",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreDriver),
	)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize credential store
	store, err := credentials.Open(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to open credential store", zap.Error(err))
	}
	defer store.Close()
	logr.Info("credential store connected", zap.String("driver", cfg.StoreDriver))

	var m *metrics.Registry
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	dispatcher := providers.NewDispatcher(store, providers.Options{
		FallbackBaseURL: cfg.DefaultBaseURL,
		HeaderTimeout:   cfg.UpstreamHeaderTimeout,
	})

	router := handlers.NewRouter(handlers.RouterDeps{
		Tokens:       store,
		Dispatcher:   dispatcher,
		Metrics:      m,
		Log:          logr,
		CORSOrigins:  cfg.CORSOrigins,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	// WriteTimeout stays 0 unless configured; it would cut long streams.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logr.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.Strings("routes", []string{"POST /v1/chat/completions", "GET /health", "GET /metrics"}),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logr.Info("shutting down gracefully")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown error", zap.Error(err))
	}

	logr.Info("server stopped")
}
