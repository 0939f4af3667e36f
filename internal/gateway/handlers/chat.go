package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-relay/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-relay/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-relay/internal/gateway/stream"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 10 << 20

const (
	// unknownProvider labels metrics for names the store does not know, so
	// client input never becomes a label value.
	unknownProvider = "unknown"

	// statusClientClosed records streams whose client left before the first byte.
	statusClientClosed = 499
)

type ChatHandler struct {
	dispatcher   *providers.Dispatcher
	metrics      *metrics.Registry
	log          *zap.Logger
	maxBodyBytes int64
}

func NewChatHandler(dispatcher *providers.Dispatcher, m *metrics.Registry, log *zap.Logger, maxBodyBytes int64) *ChatHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &ChatHandler{
		dispatcher:   dispatcher,
		metrics:      m,
		log:          log,
		maxBodyBytes: maxBodyBytes,
	}
}

// HandleChatCompletion handles POST /v1/chat/completions. The caller has
// already been authenticated by AuthMiddleware.
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := requestLogger(ctx, h.log)
	defer h.metrics.TrackInFlight()()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.ObserveRequest("", false, http.StatusRequestEntityTooLarge)
			writeRequestTooLarge(w, tooLarge.Limit)
			return
		}
		h.metrics.ObserveRequest("", false, http.StatusBadRequest)
		writeBadRequest(w, "failed to read request body")
		return
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		h.metrics.ObserveRequest("", false, http.StatusBadRequest)
		writeBadRequest(w, "request body must be a JSON object")
		return
	}
	req := gjson.ParseBytes(body)

	// Resolve provider@model before touching the store or the network.
	modelField := req.Get("model")
	if modelField.Type != gjson.String {
		h.metrics.ObserveRequest("", false, http.StatusBadRequest)
		writeInvalidModel(w)
		return
	}
	providerName, model, err := providers.ParseModelID(modelField.String())
	if err != nil {
		h.metrics.ObserveRequest("", false, http.StatusBadRequest)
		writeInvalidModel(w)
		return
	}
	isStream := req.Get("stream").Bool()

	log = log.With(
		zap.String("provider", providerName),
		zap.String("model", model),
		zap.Bool("stream", isStream),
	)

	start := time.Now()
	resp, err := h.dispatcher.Dispatch(ctx, providers.Call{
		Provider: providerName,
		Model:    model,
		Body:     body,
		Stream:   isStream,
	})
	if err != nil {
		status := h.writeDispatchError(ctx, w, log, err)
		h.metrics.ObserveRequest(dispatchLabel(providerName, err), isStream, status)
		return
	}
	defer resp.Body.Close()
	h.metrics.ObserveUpstream(providerName, isStream, time.Since(start))

	// Non-streaming responses and failed upstream calls go back verbatim.
	if !isStream || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 300 {
			log.Warn("upstream returned error status", zap.Int("status", resp.StatusCode))
		}
		h.passThrough(w, log, resp)
		h.metrics.ObserveRequest(providerName, isStream, resp.StatusCode)
		return
	}

	h.handleStreamingChat(ctx, w, log, providerName, resp)
}

// writeDispatchError maps a dispatcher failure to a response and returns its status.
func (h *ChatHandler) writeDispatchError(ctx context.Context, w http.ResponseWriter, log *zap.Logger, err error) int {
	var upErr *providers.UpstreamError
	switch {
	case errors.Is(err, providers.ErrProviderNotFound):
		writeProviderNotFound(w)
		return http.StatusNotFound

	case errors.As(err, &upErr):
		if ctx.Err() != nil {
			log.Info("client went away before upstream answered", zap.Error(err))
		} else {
			log.Error("upstream request failed", zap.Error(err))
		}
		writeUpstreamUnavailable(w)
		return http.StatusInternalServerError

	default:
		log.Error("dispatch failed", zap.Error(err))
		writeInternal(w)
		return http.StatusInternalServerError
	}
}

// dispatchLabel is the provider metric label for a failed dispatch. Only an
// upstream failure proves the provider exists in the store.
func dispatchLabel(providerName string, err error) string {
	var upErr *providers.UpstreamError
	if errors.As(err, &upErr) {
		return providerName
	}
	return unknownProvider
}

// passThrough copies the upstream status, content type and body unchanged.
func (h *ChatHandler) passThrough(w http.ResponseWriter, log *zap.Logger, resp *http.Response) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Warn("copy upstream body failed", zap.Error(err))
	}
}

// handleStreamingChat re-frames the upstream SSE body onto w.
func (h *ChatHandler) handleStreamingChat(ctx context.Context, w http.ResponseWriter, log *zap.Logger, providerName string, resp *http.Response) {
	rc := http.NewResponseController(w)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := rc.Flush(); err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			log.Error("response writer cannot stream")
			w.Header().Del("Cache-Control")
			w.Header().Del("X-Accel-Buffering")
			writeError(w, http.StatusInternalServerError, "streaming not supported", typeServer, codeInternal)
			h.metrics.ObserveRequest(providerName, true, http.StatusInternalServerError)
			return
		}
		log.Info("client went away before stream started", zap.Error(err))
		h.metrics.ObserveRequest(providerName, true, statusClientClosed)
		return
	}

	reframer := stream.NewReframer(&flushWriter{w: w, rc: rc}, log)
	err := reframer.Run(ctx, resp.Body)

	stats := reframer.Stats()
	h.metrics.ObserveStream(providerName, stats.Forwarded, stats.Dropped, stats.Done)
	h.metrics.ObserveRequest(providerName, true, http.StatusOK)

	fields := []zap.Field{
		zap.Int("forwarded", stats.Forwarded),
		zap.Int("dropped", stats.Dropped),
	}
	switch {
	case err == nil:
		log.Debug("stream completed", fields...)
	case ctx.Err() != nil:
		log.Info("client disconnected mid-stream", fields...)
	default:
		log.Warn("stream ended with error", append(fields, zap.Error(err))...)
	}
}

// flushWriter adapts a ResponseWriter to stream.Writer.
type flushWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (f *flushWriter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *flushWriter) Flush() error {
	return f.rc.Flush()
}
