package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockHealthChecker is a mock implementation of HealthChecker for testing.
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.err
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestPing(t *testing.T) {
	h := NewHealthHandlers(nil, nil)
	w := httptest.NewRecorder()
	h.Ping(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "pong" {
		t.Errorf("body = %q, want pong", w.Body.String())
	}
}

func TestHealth_IgnoresDependencies(t *testing.T) {
	h := NewHealthHandlers(map[string]HealthChecker{
		"database": &mockHealthChecker{err: errors.New("down")},
	}, nil)
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/actuator/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	resp := decodeHealth(t, w)
	if resp.Status != StatusUp {
		t.Errorf("Status = %q, want %q", resp.Status, StatusUp)
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Errorf("timestamp is not valid RFC3339: %v", err)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checkers   map[string]HealthChecker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
		{
			name: "all healthy",
			checkers: map[string]HealthChecker{
				"database": &mockHealthChecker{},
				"redis":    &mockHealthChecker{},
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
			wantChecks: map[string]string{"database": StatusUp, "redis": StatusUp},
		},
		{
			name: "broker down",
			checkers: map[string]HealthChecker{
				"database": &mockHealthChecker{},
				"broker":   &mockHealthChecker{err: errors.New("connection closed")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDown,
			wantChecks: map[string]string{"database": StatusUp, "broker": StatusDown},
		},
		{
			name: "nil checker ignored",
			checkers: map[string]HealthChecker{
				"search": nil,
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandlers(tt.checkers, nil)
			w := httptest.NewRecorder()
			h.Ready(w, httptest.NewRequest(http.MethodGet, "/actuator/health/readiness", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			resp := decodeHealth(t, w)
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if len(resp.Checks) != len(tt.wantChecks) {
				t.Fatalf("Checks = %v, want %v", resp.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if got := resp.Checks[name]; got != want {
					t.Errorf("Checks[%s] = %q, want %q", name, got, want)
				}
			}
		})
	}
}
