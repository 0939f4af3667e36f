package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrmushfiq/llm0-relay/internal/shared/models"
)

var (
	// ErrInvalidModelFormat means the model field is not "provider@model".
	ErrInvalidModelFormat = errors.New("invalid model format")

	// ErrProviderNotFound means no active config exists for the provider.
	ErrProviderNotFound = errors.New("provider not found")
)

// UpstreamError is returned when the upstream could not be reached at all.
// Upstream responses with a non-2xx status are not errors; they are handed
// back to the caller to forward verbatim.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ProviderLookup is the slice of the credential store the dispatcher needs.
type ProviderLookup interface {
	GetActiveProvider(ctx context.Context, name string) (*models.ProviderCredentials, bool, error)
}

// Call describes one upstream chat-completion attempt.
type Call struct {
	Provider string
	Model    string
	// Body is the client's JSON object; model and stream are rewritten before sending.
	Body   []byte
	Stream bool
}
