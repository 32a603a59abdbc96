// Package counter provides the shared key/value store with TTL semantics used
// for alert rule state and request rate limiting.
package counter

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures so callers can tell them from logic errors.
var ErrUnavailable = errors.New("counter store unavailable")

// Store is a shared counter and flag store with per-key expiry.
// Implementations must make IncrWithTTL atomic per key.
type Store interface {
	// IncrWithTTL increments key and, in the same atomic step, sets ttl when the
	// counter is new or has no expiry.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SetIfAbsent stores value under key with ttl unless key exists.
	// It reports whether the value was stored.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// TTL returns the remaining lifetime of key, or a negative duration when the
	// key is missing or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
