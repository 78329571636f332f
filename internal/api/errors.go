package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/archive"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/choreography"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/maestro"
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/registry"
)

// Error codes for consistent error identification.
const (
	ErrCodeNotFound       = "not_found"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeConflict       = "conflict"
	ErrCodeInternalError  = "internal_error"
	ErrCodeServiceUnavail = "service_unavailable"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error     string         `json:"error"`                // Short error code
	Message   string         `json:"message"`              // Human-readable message
	Details   map[string]any `json:"details,omitempty"`    // Optional additional details
	RequestID string         `json:"request_id,omitempty"` // Request ID for correlation
}

type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// GetRequestID retrieves the request ID from context or request header.
func GetRequestID(ctx context.Context, r *http.Request) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// statusFor maps orchestrator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrDuplicateAgent),
		errors.Is(err, choreography.ErrDuplicateWorkflow),
		errors.Is(err, choreography.ErrExecutionFinished):
		return http.StatusConflict
	case errors.Is(err, registry.ErrAgentNotFound),
		errors.Is(err, choreography.ErrWorkflowNotFound),
		errors.Is(err, choreography.ErrExecutionNotFound),
		errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidAgent),
		errors.Is(err, choreography.ErrDefinition),
		errors.Is(err, maestro.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, maestro.ErrCapacityExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, maestro.ErrShutdown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HTTPStatusToErrorCode maps HTTP status codes to error codes.
func HTTPStatusToErrorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavail
	default:
		return ErrCodeInternalError
	}
}

// writeErrorResponse writes a standardized JSON error response.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, message string, details map[string]any) {
	requestID := GetRequestID(r.Context(), r)
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     HTTPStatusToErrorCode(status),
		Message:   message,
		Details:   details,
		RequestID: requestID,
	})
}
