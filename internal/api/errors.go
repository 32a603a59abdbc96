// Package api provides the audit read endpoints, health probes and the
// shared JSON response envelope.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/facesystem/gateway/internal/middleware"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates a missing or invalid bearer token.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeForbidden indicates the principal lacks a required permission.
	ErrCodeForbidden = "forbidden"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeUnavailable indicates a backing store could not be reached.
	ErrCodeUnavailable = "service_unavailable"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"
)

// ErrorResponse is the error envelope:
// {"error": {"code": "...", "message": "..."}, "trace_id": "..."}
type ErrorResponse struct {
	Error   ErrorDetail `json:"error"`
	TraceID string      `json:"trace_id,omitempty"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DataResponse is the success envelope: {"data": ..., "trace_id": "..."}
type DataResponse struct {
	Data    any    `json:"data"`
	TraceID string `json:"trace_id,omitempty"`
}

// WriteError writes a standardized JSON error response and records code for
// the access log. trace_id is the request's correlation id.
//
//	api.WriteError(w, r.Context(), http.StatusForbidden, api.ErrCodeForbidden, "Missing permission audit:read_all")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	ctx = middleware.SetErrorCode(ctx, code)
	writeJSON(w, ctx, status, ErrorResponse{
		Error:   ErrorDetail{Code: code, Message: message},
		TraceID: middleware.GetRequestID(ctx),
	})
}

// WriteData writes data inside the success envelope.
func WriteData(w http.ResponseWriter, ctx context.Context, status int, data any) {
	writeJSON(w, ctx, status, DataResponse{
		Data:    data,
		TraceID: middleware.GetRequestID(ctx),
	})
}

func writeJSON(w http.ResponseWriter, ctx context.Context, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		slog.ErrorContext(ctx, "failed to marshal response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// StatusCodeMapping returns the recommended HTTP status code for common error codes.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
