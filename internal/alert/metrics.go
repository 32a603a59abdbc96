package alert

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts rule outcomes.
type Metrics struct {
	fired    *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewMetrics creates the alert metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		fired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_alerts_fired_total",
				Help: "Alerts delivered, by rule",
			},
			[]string{"rule"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_alert_failures_total",
				Help: "Rule evaluations or deliveries that failed, by rule",
			},
			[]string{"rule"},
		),
	}
}

// Register registers all alert metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.fired, m.failures} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) incFired(rule string) {
	if m != nil {
		m.fired.WithLabelValues(rule).Inc()
	}
}

func (m *Metrics) incFailure(rule string) {
	if m != nil {
		m.failures.WithLabelValues(rule).Inc()
	}
}
