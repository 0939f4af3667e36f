package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-relay/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-relay/internal/gateway/providers"
)

// RouterDeps are the collaborators the HTTP surface is built from.
type RouterDeps struct {
	Tokens       TokenChecker
	Dispatcher   *providers.Dispatcher
	Metrics      *metrics.Registry // nil disables /metrics
	Log          *zap.Logger
	CORSOrigins  []string
	MaxBodyBytes int64 // zero means DefaultMaxBodyBytes
}

// NewRouter wires middleware and routes.
func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	chatHandler := NewChatHandler(deps.Dispatcher, deps.Metrics, log, deps.MaxBodyBytes)
	middleware := NewMiddleware(deps.Tokens, log, deps.Metrics, deps.CORSOrigins)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestIDMiddleware)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.AccessLogMiddleware)
	r.Use(middleware.RecoverMiddleware)
	r.Use(middleware.CORSMiddleware)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)

		r.Post("/chat/completions", chatHandler.HandleChatCompletion)
	})

	return r
}
