package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ohmage/streamwriter/internal/delivery"
	"github.com/ohmage/streamwriter/internal/store"
	"github.com/ohmage/streamwriter/internal/stream"
	"github.com/ohmage/streamwriter/internal/writer"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "unavailable"
	ErrCodeBufferFull  = "buffer_full"
	ErrCodeTransport   = "transport_failure"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// classifySubmitError maps a delivery error onto an HTTP status and code.
func classifySubmitError(err error) (int, string) {
	switch {
	case errors.Is(err, stream.ErrMalformedPayload), errors.Is(err, stream.ErrInvalidStream):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, writer.ErrBufferFull):
		return http.StatusServiceUnavailable, ErrCodeBufferFull
	case errors.Is(err, writer.ErrTransportFailure):
		return http.StatusBadGateway, ErrCodeTransport
	case errors.Is(err, store.ErrStoreUnavailable),
		errors.Is(err, store.ErrInserterClosed),
		errors.Is(err, writer.ErrBindRejected),
		errors.Is(err, writer.ErrClosed),
		errors.Is(err, delivery.ErrFallbackFailed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeSubmitError writes the response for a failed submission.
func writeSubmitError(w http.ResponseWriter, err error) {
	status, code := classifySubmitError(err)
	writeError(w, status, code, err.Error())
}
