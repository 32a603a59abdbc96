// Package middleware provides HTTP middleware components for the gateway.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/facesystem/gateway/internal/counter"
)

// RateLimitConfig defines one fixed-window limit.
type RateLimitConfig struct {
	// Name labels the limit in metrics and namespaces its counters.
	Name string
	// RequestsPerWindow is the maximum number of requests allowed per window.
	RequestsPerWindow int
	// WindowDuration is the length of each window.
	WindowDuration time.Duration
}

// Validate reports a non-positive request budget or window.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// SearchLimitName names the audit search limit.
const SearchLimitName = "audit_search"

// DefaultSearchLimit allows 30 audit searches per minute per principal.
func DefaultSearchLimit() RateLimitConfig {
	return RateLimitConfig{
		Name:              SearchLimitName,
		RequestsPerWindow: 30,
		WindowDuration:    time.Minute,
	}
}

// RateLimitStore defines the interface for rate limit state storage.
// This allows for different backends (in-memory, Redis, etc.).
type RateLimitStore interface {
	// Allow checks if a request from the given key should be allowed.
	// Returns whether the request is allowed, the requests remaining in the
	// current window, and the number of seconds until the limit resets.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int)
}

// rateLimitKeyPrefix namespaces limiter counters in the shared store.
const rateLimitKeyPrefix = "ratelimit:"

// CounterRateLimitStore implements RateLimitStore with a fixed window counter
// kept in a counter.Store, so limits are shared by every gateway instance.
// Store failures fail open.
type CounterRateLimitStore struct {
	store   counter.Store
	metrics *Metrics
}

// NewCounterRateLimitStore creates a store backed by store. metrics may be nil.
func NewCounterRateLimitStore(store counter.Store, metrics *Metrics) *CounterRateLimitStore {
	return &CounterRateLimitStore{store: store, metrics: metrics}
}

// Allow checks if a request from the given key should be allowed.
// Implements the RateLimitStore interface.
func (s *CounterRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	key = rateLimitKeyPrefix + config.Name + ":" + key

	count, err := s.store.IncrWithTTL(ctx, key, config.WindowDuration)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncRateLimitStoreFailures()
		}
		slog.WarnContext(ctx, "rate limit store unavailable, allowing request",
			slog.String("error", err.Error()))
		return true, config.RequestsPerWindow, 0
	}

	// Within the limit
	if count <= int64(config.RequestsPerWindow) {
		return true, config.RequestsPerWindow - int(count), 0
	}

	// Rate limited
	retryAfter := int(config.WindowDuration.Seconds())
	if ttl, err := s.store.TTL(ctx, key); err == nil && ttl > 0 {
		retryAfter = int(math.Ceil(ttl.Seconds()))
	}
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, 0, retryAfter
}

// InMemoryRateLimitStore is a CounterRateLimitStore over a process-local
// counter.InMemoryStore. Used for testing and single-instance development.
type InMemoryRateLimitStore struct {
	*CounterRateLimitStore
	mem *counter.InMemoryStore
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	mem := counter.NewInMemoryStore()
	return &InMemoryRateLimitStore{
		CounterRateLimitStore: NewCounterRateLimitStore(mem, nil),
		mem:                   mem,
	}
}

// Cleanup removes expired windows to prevent memory leaks.
// This should be called periodically in production.
func (s *InMemoryRateLimitStore) Cleanup() {
	s.mem.Cleanup()
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc keys requests by ClientIP.
func IPKeyFunc() KeyFunc {
	return ClientIP
}

// UserKeyFunc returns a KeyFunc that uses the authenticated user's ID if available,
// falling back to IP address.
func UserKeyFunc() KeyFunc {
	ipFunc := IPKeyFunc()
	return func(r *http.Request) string {
		if p := GetPrincipal(r.Context()); p != nil {
			return "user:" + strconv.FormatInt(p.UserID, 10)
		}
		return "ip:" + ipFunc(r)
	}
}

// RateLimiter is a middleware that limits request rates.
// It returns HTTP 429 Too Many Requests when the limit is exceeded.
// metrics may be nil.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			keyType := "ip"
			if strings.HasPrefix(key, "user:") {
				keyType = "user"
			}
			allowed, remaining, retryAfter := store.Allow(r.Context(), key, config)
			if metrics != nil {
				metrics.RecordRateLimit(config.Name, keyType, allowed)
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				ctx := SetErrorCode(r.Context(), "rate_limit_exceeded")
				r = r.WithContext(ctx)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				// X-RateLimit-Reset should be a Unix timestamp per API conventions
				resetTime := time.Now().Add(time.Duration(retryAfter) * time.Second).Unix()
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
