package api

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Health statuses reported by the actuator endpoints.
const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

// readinessTimeout bounds one readiness pass across all checkers.
const readinessTimeout = 5 * time.Second

// HealthChecker defines the interface for components that can be health checked.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandlers provides liveness and readiness endpoints.
type HealthHandlers struct {
	checkers map[string]HealthChecker
	logger   *slog.Logger
}

// NewHealthHandlers creates health handlers over the named dependency checkers.
// Nil checkers are ignored.
func NewHealthHandlers(checkers map[string]HealthChecker, logger *slog.Logger) *HealthHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	named := make(map[string]HealthChecker, len(checkers))
	for name, c := range checkers {
		if c != nil {
			named[name] = c
		}
	}
	return &HealthHandlers{checkers: named, logger: logger}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Ping handles GET /ping.
func (h *HealthHandlers) Ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// Health handles GET /actuator/health (liveness). It never consults dependencies.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, http.StatusOK, HealthResponse{
		Status:    StatusUp,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /actuator/health/readiness. Any failing checker makes the
// response 503.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
	)
	for _, name := range slices.Sorted(maps.Keys(h.checkers)) {
		wg.Add(1)
		go func(name string, c HealthChecker) {
			defer wg.Done()
			status := StatusUp
			if err := c.HealthCheck(ctx); err != nil {
				status = StatusDown
				h.logger.WarnContext(ctx, "health check failed",
					slog.String("dependency", name),
					slog.Any("error", err),
				)
			}
			mu.Lock()
			checks[name] = status
			mu.Unlock()
		}(name, h.checkers[name])
	}
	wg.Wait()

	resp := HealthResponse{
		Status:    StatusUp,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	for _, s := range checks {
		if s == StatusDown {
			resp.Status = StatusDown
			code = http.StatusServiceUnavailable
			break
		}
	}
	h.write(w, r, code, resp)
}

func (h *HealthHandlers) write(w http.ResponseWriter, r *http.Request, code int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode health response", slog.Any("error", err))
	}
}
