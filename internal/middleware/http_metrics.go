package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// UnmatchedRoute labels requests no known route describes.
const UnmatchedRoute = "unmatched"

// RouteLabeler maps a request to a bounded-cardinality metric label.
type RouteLabeler func(r *http.Request) string

// OperationLabeler labels a request with the operation recorded in its
// RequestContext, or UnmatchedRoute. It must run after the handler that sets
// the operation.
func OperationLabeler(r *http.Request) string {
	if rc := RequestContextFrom(r.Context()); rc != nil {
		if op := rc.Operation(); op != "" {
			return op
		}
	}
	return UnmatchedRoute
}

// metricsExcluded reports whether path is a health or scrape endpoint.
func metricsExcluded(path string) bool {
	return path == "/ping" ||
		path == "/actuator/prometheus" ||
		path == "/actuator/health" ||
		strings.HasPrefix(path, "/actuator/health/")
}

// HTTPMetrics records request count, latency and sizes per action. labeler is
// evaluated after the handler returns; nil means OperationLabeler.
func HTTPMetrics(metrics *Metrics, labeler RouteLabeler) func(http.Handler) http.Handler {
	if labeler == nil {
		labeler = OperationLabeler
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metricsExcluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			done := metrics.trackInFlight()
			defer done()

			start := time.Now()
			rw := WrapResponseWriter(w)

			var requestSize int64
			if cl := r.Header.Get("Content-Length"); cl != "" {
				if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > 0 {
					requestSize = n
				}
			}

			next.ServeHTTP(rw, r)

			metrics.ObserveRequest(r.Method, labeler(r), rw.StatusCode(), time.Since(start), requestSize, int64(rw.Size()))
		})
	}
}
