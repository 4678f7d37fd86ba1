package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/nasa-bridge/internal/bridges/ehs"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
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
	ErrCodeConflict    = "conflict"
	ErrCodeRejected    = "rejected"
	ErrCodeTimeout     = "timeout"
	ErrCodeUnavailable = "service_unavailable"
	ErrCodeInternal    = "internal_error"
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

// writeEngineError maps a read or write failure onto an HTTP status.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, nasa.ErrUnknownDevice), errors.Is(err, nasa.ErrUnknownAttribute):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, nasa.ErrInvalidValue), errors.Is(err, nasa.ErrInvalidAddress):
		writeBadRequest(w, err.Error())
	case errors.Is(err, nasa.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, nasa.ErrRejected):
		writeError(w, http.StatusConflict, ErrCodeRejected, err.Error())
	case errors.Is(err, nasa.ErrRequestInFlight):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, nasa.ErrNotConnected), errors.Is(err, nasa.ErrClosed), errors.Is(err, nasa.ErrCancelled):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

// ackStatus picks the HTTP status for a command acknowledgement.
func ackStatus(ack ehs.AckMessage) int {
	if ack.Error == nil {
		return http.StatusOK
	}
	switch ack.Error.Code {
	case ehs.ErrCodeInvalidCommand, ehs.ErrCodeInvalidParameters:
		return http.StatusBadRequest
	case ehs.ErrCodeNotConfigured:
		return http.StatusNotFound
	case ehs.ErrCodeRejected:
		return http.StatusConflict
	case ehs.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ehs.ErrCodeDeviceUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
