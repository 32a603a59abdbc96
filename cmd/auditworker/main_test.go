package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/facesystem/gateway/internal/api"
	"github.com/facesystem/gateway/internal/middleware"
)

func TestParseQueues(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []string
		wantErr bool
	}{
		{"default", allQueues, allQueues, false},
		{"single", []string{"search"}, []string{"search"}, false},
		{"comma list", []string{"alert, persist"}, []string{"alert", "persist"}, false},
		{"duplicates dropped", []string{"persist", "PERSIST", "persist,alert"}, []string{"persist", "alert"}, false},
		{"unknown", []string{"persist", "billing"}, nil, true},
		{"empty", []string{" , "}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseQueues(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseQueues(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseQueues(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"consume", "migrate", "topology"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Find(%s) = %v, %v", name, cmd, err)
		}
	}

	consume, _, _ := root.Find([]string{"consume"})
	if f := consume.Flags().Lookup("queue"); f == nil || f.DefValue != "[persist,search,alert]" {
		t.Errorf("--queue default = %v, want [persist,search,alert]", f)
	}
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "REDIS_URL", "AMQP_URL", "ELASTICSEARCH_URLS", "JWT_SECRET"} {
		t.Setenv(k, "")
	}

	root := newRootCmd()
	var stderr bytes.Buffer
	root.SetErr(&stderr)
	root.SetArgs([]string{"topology"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Fatalf("Execute() error = %v, want invalid configuration", err)
	}
	if !strings.Contains(stderr.String(), "DATABASE_URL is required") {
		t.Errorf("stderr = %q, want the missing keys listed", stderr.String())
	}
}

func TestOpsHandler(t *testing.T) {
	w := &worker{
		cli:      &cli{logger: middleware.NewLogger("test")},
		registry: prometheus.NewRegistry(),
		checkers: map[string]api.HealthChecker{},
	}
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_test_total", Help: "test"})
	w.registry.MustRegister(counter)
	counter.Inc()

	h := w.opsHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actuator/prometheus", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "worker_test_total 1") {
		t.Errorf("metrics status = %d body = %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actuator/health/readiness", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readiness status = %d, want 200", rec.Code)
	}
}
