package counter

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// entry is one key in the in-memory store.
type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// InMemoryStore implements Store using an in-memory map.
// Used for testing and single-process development. Thread-safe for concurrent access.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewInMemoryStore creates a new in-memory counter store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// get returns the live entry for key, reaping it if expired. Caller holds mu.
func (s *InMemoryStore) get(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// IncrWithTTL increments key and sets ttl when the counter is new or has no expiry.
func (s *InMemoryStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(key)
	if e == nil {
		e = &entry{value: "0"}
		s.entries[key] = e
	}
	n, _ := strconv.ParseInt(e.value, 10, 64)
	n++
	e.value = strconv.FormatInt(n, 10)
	if n == 1 || e.expiresAt.IsZero() {
		e.expiresAt = s.now().Add(ttl)
	}
	return n, nil
}

// SetIfAbsent stores value with ttl unless key exists.
func (s *InMemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.get(key) != nil {
		return false, nil
	}
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return true, nil
}

// TTL returns the remaining lifetime of key. Like Redis PTTL it returns -2ms for a
// missing key and -1ms for a key without expiry.
func (s *InMemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(key)
	switch {
	case e == nil:
		return -2 * time.Millisecond, nil
	case e.expiresAt.IsZero():
		return -1 * time.Millisecond, nil
	default:
		return e.expiresAt.Sub(s.now()), nil
	}
}

// Cleanup removes expired keys to prevent memory leaks.
// This should be called periodically in long-running processes.
func (s *InMemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
}
