package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-relay/internal/gateway/metrics"
)

type ctxKey int

const requestIDKey ctxKey = iota

// TokenChecker is the slice of the credential store the auth middleware needs.
type TokenChecker interface {
	IsActiveToken(ctx context.Context, value string) (bool, error)
}

type Middleware struct {
	tokens      TokenChecker
	log         *zap.Logger
	metrics     *metrics.Registry
	corsOrigins []string
}

func NewMiddleware(tokens TokenChecker, log *zap.Logger, m *metrics.Registry, corsOrigins []string) *Middleware {
	return &Middleware{
		tokens:      tokens,
		log:         log,
		metrics:     m,
		corsOrigins: corsOrigins,
	}
}

// BearerToken strips a literal "Bearer " prefix and returns the rest as is.
// An empty result means no credential.
func BearerToken(header string) string {
	return strings.TrimPrefix(header, "Bearer ")
}

// AuthMiddleware validates gateway access tokens
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			m.metrics.ObserveRequest("", false, http.StatusUnauthorized)
			writeUnauthorized(w)
			return
		}

		ok, err := m.tokens.IsActiveToken(r.Context(), token)
		if err != nil {
			requestLogger(r.Context(), m.log).Error("token lookup failed", zap.Error(err))
			m.metrics.ObserveRequest("", false, http.StatusInternalServerError)
			writeInternal(w)
			return
		}
		if !ok {
			m.metrics.ObserveRequest("", false, http.StatusUnauthorized)
			writeUnauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestIDMiddleware ensures every request has an X-Request-ID. If the client
// does not supply one a UUID v4 is generated.
func (m *Middleware) RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLogMiddleware logs one line per request once the handler returns.
func (m *Middleware) AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		requestLogger(r.Context(), m.log).Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

// RecoverMiddleware turns handler panics into a JSON 500.
func (m *Middleware) RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			requestLogger(r.Context(), m.log).Error("handler panic",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
			)
			writeInternal(w)
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware handles CORS
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	allowAll := len(m.corsOrigins) == 0
	allowed := make(map[string]bool, len(m.corsOrigins))
	for _, o := range m.corsOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestID returns the id set by RequestIDMiddleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestLogger(ctx context.Context, base *zap.Logger) *zap.Logger {
	if id := RequestID(ctx); id != "" {
		return base.With(zap.String("request_id", id))
	}
	return base
}
