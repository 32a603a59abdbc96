package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricConsumerMessages = "audit_consumer_messages_total"
	MetricConsumerDuration = "audit_consumer_handle_duration_seconds"
	MetricReconnects       = "audit_consumer_reconnects_total"
)

// Delivery results recorded in the result label.
const (
	ResultAcked        = "acked"
	ResultRequeued     = "requeued"
	ResultDeadLettered = "dead_lettered"
)

// Metrics contains Prometheus metrics for queue consumers.
// All operations are thread-safe.
type Metrics struct {
	messages   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	reconnects *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricConsumerMessages,
			Help: "Total number of audit messages handled, by queue and result",
		}, []string{"queue", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricConsumerDuration,
			Help:    "Histogram of audit message handling latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricReconnects,
			Help: "Total number of consumer reconnection attempts",
		}, []string{"queue"}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.messages,
		m.duration,
		m.reconnects,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveMessage records one handled message. Safe on a nil receiver.
func (m *Metrics) ObserveMessage(queue, result string, seconds float64) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(queue, result).Inc()
	m.duration.WithLabelValues(queue).Observe(seconds)
}

// IncReconnects increments the reconnect counter. Safe on a nil receiver.
func (m *Metrics) IncReconnects(queue string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(queue).Inc()
}
