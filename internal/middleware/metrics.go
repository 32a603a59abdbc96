package middleware

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names exported by the gateway's HTTP layer. Every request series is
// labelled by audit action, never by raw path, so cardinality is bounded by
// the resolver's rule table plus UnmatchedRoute.
const (
	MetricHTTPRequestsTotal      = "gateway_http_requests_total"
	MetricHTTPRequestDuration    = "gateway_http_request_duration_seconds"
	MetricHTTPRequestSizeBytes   = "gateway_http_request_size_bytes"
	MetricHTTPResponseSizeBytes  = "gateway_http_response_size_bytes"
	MetricHTTPRequestsInFlight   = "gateway_http_requests_in_flight"
	MetricRateLimitDecisions     = "gateway_rate_limit_decisions_total"
	MetricRateLimitStoreFailures = "gateway_rate_limit_store_failures_total"
)

// Label values.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"

	decisionAllowed = "allowed"
	decisionBlocked = "blocked"
)

// outcomeLabel mirrors the audit outcome: failure for any status >= 400.
func outcomeLabel(status int) string {
	if status >= 400 {
		return outcomeFailure
	}
	return outcomeSuccess
}

// Metrics holds the gateway's HTTP and rate limiter collectors.
type Metrics struct {
	requests      *prometheus.CounterVec   // method, action, status
	duration      *prometheus.HistogramVec // action, outcome
	requestBytes  *prometheus.HistogramVec // action
	responseBytes *prometheus.HistogramVec // action
	inFlight      prometheus.Gauge

	limitDecisions     *prometheus.CounterVec // limit, key_type, decision
	limitStoreFailures prometheus.Counter
}

// NewMetrics creates unregistered collectors; see Register.
func NewMetrics() *Metrics {
	sizeBuckets := prometheus.ExponentialBuckets(128, 4, 8) // 128 B to 2 MiB
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "Requests handled by the gateway, by audit action and status code.",
		}, []string{"method", "action", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestDuration,
			Help:    "End-to-end request latency including the upstream hop and audit publish.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"action", "outcome"}),
		requestBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestSizeBytes,
			Help:    "Declared request body size.",
			Buckets: sizeBuckets,
		}, []string{"action"}),
		responseBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPResponseSizeBytes,
			Help:    "Response body bytes written to the client.",
			Buckets: sizeBuckets,
		}, []string{"action"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricHTTPRequestsInFlight,
			Help: "Requests currently being served.",
		}),
		limitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitDecisions,
			Help: "Rate limiter decisions by limit name, key type and result.",
		}, []string{"limit", "key_type", "decision"}),
		limitStoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRateLimitStoreFailures,
			Help: "Counter store errors during rate limiting; each one let a request through.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests,
		m.duration,
		m.requestBytes,
		m.responseBytes,
		m.inFlight,
		m.limitDecisions,
		m.limitStoreFailures,
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRequest records one completed request under its action label.
func (m *Metrics) ObserveRequest(method, action string, status int, elapsed time.Duration, requestSize, responseSize int64) {
	m.requests.WithLabelValues(method, action, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(action, outcomeLabel(status)).Observe(elapsed.Seconds())
	m.requestBytes.WithLabelValues(action).Observe(float64(requestSize))
	m.responseBytes.WithLabelValues(action).Observe(float64(responseSize))
}

// trackInFlight increments the in-flight gauge and returns its decrement.
func (m *Metrics) trackInFlight() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// RecordRateLimit counts one limiter decision for the named limit.
func (m *Metrics) RecordRateLimit(limit, keyType string, allowed bool) {
	decision := decisionBlocked
	if allowed {
		decision = decisionAllowed
	}
	m.limitDecisions.WithLabelValues(limit, keyType, decision).Inc()
}

// IncRateLimitStoreFailures counts a counter store error; the request was
// allowed.
func (m *Metrics) IncRateLimitStoreFailures() {
	m.limitStoreFailures.Inc()
}
