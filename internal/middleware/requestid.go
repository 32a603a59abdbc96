// Package middleware provides HTTP middleware components for the gateway.
package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is the HTTP header name for request ID.
const RequestIDHeader = "X-Request-ID"

// RequestID is a middleware that assigns every request a fresh correlation id.
// Client-supplied X-Request-ID values are ignored so the id is unique per inbound request.
// The id is echoed in the response header and installed in a RequestContext.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()

		// Set the header in the response
		w.Header().Set(RequestIDHeader, requestID)

		ctx := WithRequestContext(r.Context(), NewRequestContext(requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
