package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/sjson"
)

// Options configures a Dispatcher.
type Options struct {
	// FallbackBaseURL is used for providers with no base URL and no well-known default.
	FallbackBaseURL string
	// HeaderTimeout bounds the wait for upstream response headers. Zero disables it.
	// Response bodies are never time-limited so long streams keep flowing.
	HeaderTimeout time.Duration
	// BaseURLs extends or overrides the well-known default endpoints.
	BaseURLs map[string]string
	// Transport replaces the default HTTP transport (tests).
	Transport http.RoundTripper
}

// Dispatcher sends a single chat-completion request to the resolved provider.
// It never retries.
type Dispatcher struct {
	lookup          ProviderLookup
	httpClient      *http.Client
	fallbackBaseURL string
	baseURLs        map[string]string
}

// NewDispatcher creates a dispatcher that resolves credentials through lookup
func NewDispatcher(lookup ProviderLookup, opts Options) *Dispatcher {
	baseURLs := make(map[string]string, len(wellKnownBaseURLs)+len(opts.BaseURLs))
	for name, u := range wellKnownBaseURLs {
		baseURLs[name] = u
	}
	for name, u := range opts.BaseURLs {
		baseURLs[name] = u
	}

	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = opts.HeaderTimeout
		transport = t
	}

	fallback := opts.FallbackBaseURL
	if fallback == "" {
		fallback = wellKnownBaseURLs["openai"]
	}

	return &Dispatcher{
		lookup:          lookup,
		httpClient:      &http.Client{Transport: transport},
		fallbackBaseURL: fallback,
		baseURLs:        baseURLs,
	}
}

// Dispatch looks up the provider and POSTs the rewritten body to
// {baseURL}/chat/completions. Any upstream status is returned as a response;
// the caller owns resp.Body. Transport failures come back as *UpstreamError.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (*http.Response, error) {
	creds, ok, err := d.lookup.GetActiveProvider(ctx, call.Provider)
	if err != nil {
		return nil, fmt.Errorf("lookup provider %s: %w", call.Provider, err)
	}
	if !ok {
		return nil, ErrProviderNotFound
	}

	body, err := RewriteBody(call.Body, call.Model, call.Stream)
	if err != nil {
		return nil, err
	}

	url := d.BaseURL(call.Provider, creds.BaseURL) + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if call.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: call.Provider, Err: err}
	}
	return resp, nil
}

// BaseURL returns the configured URL, else the provider's documented default,
// else the fallback. Trailing slashes are dropped.
func (d *Dispatcher) BaseURL(provider string, configured *string) string {
	base := ""
	if configured != nil {
		base = strings.TrimSpace(*configured)
	}
	if base == "" {
		base = d.baseURLs[provider]
	}
	if base == "" {
		base = d.fallbackBaseURL
	}
	return strings.TrimRight(base, "/")
}

// RewriteBody replaces model and forces stream on a JSON object, leaving every
// other field byte-for-byte as the client sent it.
func RewriteBody(body []byte, model string, stream bool) ([]byte, error) {
	out, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return nil, fmt.Errorf("rewrite model: %w", err)
	}
	out, err = sjson.SetBytes(out, "stream", stream)
	if err != nil {
		return nil, fmt.Errorf("rewrite stream: %w", err)
	}
	return out, nil
}
