package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-modbus-core/internal/poller"
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
	ErrCodeUnavailable = "service_unavailable"
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

// writeServiceUnavailable writes a 503 error response.
func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeEngineError maps the engine's sentinel errors onto HTTP responses.
// Unknown names become 404, rejected values and configurations 400, and an
// unreachable device 503. Anything unmapped is a 500.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, poller.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	case errors.Is(err, poller.ErrUnknownEntity):
		writeNotFound(w, "entity not found")
	case errors.Is(err, poller.ErrNotWritable),
		errors.Is(err, poller.ErrBadValue),
		errors.Is(err, poller.ErrConfig):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, poller.ErrUnavailable):
		writeServiceUnavailable(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
