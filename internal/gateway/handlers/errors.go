package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// Error types and codes, in the OpenAI error envelope vocabulary.
const (
	typeAuthentication = "authentication_error"
	typeInvalidRequest = "invalid_request_error"
	typeServer         = "server_error"
	typeUpstream       = "upstream_error"

	codeInvalidAPIKey      = "invalid_api_key"
	codeInvalidRequest     = "invalid_request"
	codeRequestTooLarge    = "request_too_large"
	codeInvalidModelFormat = "invalid_model_format"
	codeProviderNotFound   = "provider_not_found"
	codeUpstreamFailed     = "upstream_unreachable"
	codeInternal           = "internal_error"
)

// writeError writes {"error":{...}} so OpenAI SDKs surface it as an APIError.
func writeError(w http.ResponseWriter, status int, message, errType, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(openai.ErrorResponse{
		Error: &openai.APIError{
			Code:    code,
			Message: message,
			Type:    errType,
		},
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "Invalid token", typeAuthentication, codeInvalidAPIKey)
}

func writeInvalidModel(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest,
		"Invalid model format. Expected format: provider@model", typeInvalidRequest, codeInvalidModelFormat)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, message, typeInvalidRequest, codeInvalidRequest)
}

func writeRequestTooLarge(w http.ResponseWriter, limit int64) {
	writeError(w, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Request body exceeds %d bytes", limit), typeInvalidRequest, codeRequestTooLarge)
}

func writeProviderNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "Provider not found", typeInvalidRequest, codeProviderNotFound)
}

func writeUpstreamUnavailable(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, "Upstream request failed", typeUpstream, codeUpstreamFailed)
}

func writeInternal(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, "Internal server error", typeServer, codeInternal)
}
