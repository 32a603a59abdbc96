package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricEventsPublished = "audit_events_published_total"
	MetricFallbacks       = "audit_publish_fallback_total"
	MetricFailures        = "audit_publish_failures_total"
	MetricBreakerState    = "audit_publish_breaker_open"
)

// Metrics contains Prometheus metrics for the publishing path.
// All operations are thread-safe.
type Metrics struct {
	published   *prometheus.CounterVec
	fallbacks   prometheus.Counter
	failures    prometheus.Counter
	breakerOpen prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsPublished,
			Help: "Total number of audit events delivered, by sink",
		}, []string{"sink"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFallbacks,
			Help: "Total number of audit events written directly because the broker was unavailable",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFailures,
			Help: "Total number of audit events lost because every sink failed",
		}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBreakerState,
			Help: "1 while the broker circuit breaker is open, 0 otherwise",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.published,
		m.fallbacks,
		m.failures,
		m.breakerOpen,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) incPublished(sink string) {
	if m != nil {
		m.published.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) incFallback() {
	if m != nil {
		m.fallbacks.Inc()
	}
}

func (m *Metrics) incFailure() {
	if m != nil {
		m.failures.Inc()
	}
}

func (m *Metrics) setBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
	} else {
		m.breakerOpen.Set(0)
	}
}
