package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

// staticLabeler labels by method and path; only safe for tests with fixed paths.
func staticLabeler(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

func TestHTTPMetrics(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		body        string
		status      int
		respBody    string
		wantSeries  int
		wantReqSize float64
	}{
		{"registration check", http.MethodGet, "/api/v1/face/is-registered", "", http.StatusOK, `{"registered":true}`, 1, 0},
		{"register with body", http.MethodPost, "/api/v1/user/register", `{"email":"a@b.c"}`, http.StatusCreated, `{"id":"123"}`, 1, 17},
		{"not found", http.MethodGet, "/notfound", "", http.StatusNotFound, `{"error":"not found"}`, 1, 0},
		{"health excluded", http.MethodGet, "/actuator/health", "", http.StatusOK, `{"status":"UP"}`, 0, 0},
		{"readiness excluded", http.MethodGet, "/actuator/health/readiness", "", http.StatusOK, `{"status":"UP"}`, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()
			reg := prometheus.NewRegistry()
			if err := m.Register(reg); err != nil {
				t.Fatalf("Register() error = %v", err)
			}

			handler := HTTPMetrics(m, staticLabeler)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.respBody)
			}))

			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.body != "" {
				req.Header.Set("Content-Length", strconv.Itoa(len(tt.body)))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			for _, name := range []string{MetricHTTPRequestsTotal, MetricHTTPRequestDuration, MetricHTTPResponseSizeBytes} {
				n, err := testutil.GatherAndCount(reg, name)
				if err != nil {
					t.Fatalf("GatherAndCount(%s) error = %v", name, err)
				}
				if n != tt.wantSeries {
					t.Errorf("%s series = %d, want %d", name, n, tt.wantSeries)
				}
			}
			if tt.wantSeries == 0 {
				return
			}

			label := tt.method + " " + tt.path
			if got := testutil.ToFloat64(m.requests.WithLabelValues(tt.method, label, strconv.Itoa(tt.status))); got != 1 {
				t.Errorf("requests{%s} = %v, want 1", label, got)
			}
			if got := histogramSum(t, m.requestBytes.WithLabelValues(label).(prometheus.Histogram)); got != tt.wantReqSize {
				t.Errorf("request size sum = %v, want %v", got, tt.wantReqSize)
			}
			if got := histogramSum(t, m.responseBytes.WithLabelValues(label).(prometheus.Histogram)); got != float64(len(tt.respBody)) {
				t.Errorf("response size sum = %v, want %d", got, len(tt.respBody))
			}
		})
	}
}

func histogramSum(t *testing.T, h prometheus.Histogram) float64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetHistogram().GetSampleSum()
}

func TestResponseWriter_MultipleWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := WrapResponseWriter(rec)

	n1, err := rw.Write([]byte("Hello "))
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	n2, err := rw.Write([]byte("World"))
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	if rw.Size() != n1+n2 {
		t.Errorf("size = %d, want %d", rw.Size(), n1+n2)
	}
}

func TestResponseWriter_WriteHeaderOnce(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := WrapResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError) // Should be ignored

	if rw.StatusCode() != http.StatusCreated {
		t.Errorf("statusCode = %d, want %d", rw.StatusCode(), http.StatusCreated)
	}
}

func TestHTTPMetrics_InFlightReleased(t *testing.T) {
	m := NewMetrics()
	var during float64
	handler := HTTPMetrics(m, staticLabeler)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(m.inFlight)
		panic("boom")
	}))

	func() {
		defer func() { _ = recover() }()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/face/is-registered", nil))
	}()

	if during != 1 {
		t.Errorf("in flight during request = %v, want 1", during)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Errorf("in flight after panic = %v, want 0", got)
	}
}

func TestHTTPMetrics_OperationLabeler(t *testing.T) {
	m := NewMetrics()

	handler := RequestID(HTTPMetrics(m, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/user/authenticate" {
			RequestContextFrom(r.Context()).SetOperation("auth:login")
		}
		w.WriteHeader(http.StatusUnauthorized)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/user/authenticate", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/123", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/456", nil))

	if got := testutil.ToFloat64(m.requests.WithLabelValues("POST", "auth:login", "401")); got != 1 {
		t.Errorf("auth:login count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", UnmatchedRoute, "401")); got != 2 {
		t.Errorf("unmatched count = %v, want 2", got)
	}
}

func TestMetricsExcluded(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/ping", true},
		{"/actuator/prometheus", true},
		{"/actuator/health", true},
		{"/actuator/health/readiness", true},
		{"/actuator/pprof/", false},
		{"/api/v1/audit/all", false},
	}
	for _, tt := range tests {
		if got := metricsExcluded(tt.path); got != tt.want {
			t.Errorf("metricsExcluded(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func BenchmarkHTTPMetrics_Overhead(b *testing.B) {
	m := NewMetrics()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := HTTPMetrics(m, nil)(handler)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/face/is-registered", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}
}
