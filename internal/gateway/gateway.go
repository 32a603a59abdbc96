// Package gateway assembles the HTTP front door: the middleware chain that
// records every request as an audit event, the audit read API, operator
// endpoints and the reverse proxy to the downstream application.
package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/facesystem/gateway/internal/api"
	"github.com/facesystem/gateway/internal/audit"
	"github.com/facesystem/gateway/internal/middleware"
)

// ErrMissingDependency is returned by NewHandler when a required option is nil.
var ErrMissingDependency = errors.New("gateway: missing dependency")

// Options wires the gateway handler.
type Options struct {
	ServiceName string
	Logger      *slog.Logger

	// Resolver labels requests and drives the audit interceptor.
	Resolver *audit.Resolver
	// Publisher receives one audit event per non-excluded request.
	Publisher audit.Publisher
	// Validator checks bearer tokens.
	Validator middleware.AccessTokenValidator

	Rows     api.RowReader
	Searcher api.Searcher
	Checkers map[string]api.HealthChecker

	// RateLimits backs the search endpoint limiter; nil disables limiting.
	RateLimits  middleware.RateLimitStore
	SearchLimit middleware.RateLimitConfig

	Metrics  *middleware.Metrics
	Gatherer prometheus.Gatherer

	// Upstream is where unmatched routes are proxied; nil answers 404.
	Upstream  *url.URL
	Transport http.RoundTripper

	CORS      middleware.CORSConfig
	Profiling middleware.ProfilingConfig
}

// Labeler returns a RouteLabeler that names requests by their audit action,
// falling back to middleware.UnmatchedRoute so raw paths never become labels.
func Labeler(resolver *audit.Resolver) middleware.RouteLabeler {
	return func(r *http.Request) string {
		if res, ok := resolver.Match(r.Method, r.URL.Path); ok {
			return res.Action
		}
		return middleware.UnmatchedRoute
	}
}

// NewHandler builds the full handler chain:
// RequestID, Tracing, CORS, Logging, HTTPMetrics, audit Interceptor,
// Authenticate, then the router.
func NewHandler(opts Options) (http.Handler, error) {
	if opts.Resolver == nil || opts.Publisher == nil || opts.Validator == nil || opts.Rows == nil {
		return nil, ErrMissingDependency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = middleware.NewMetrics()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.SearchLimit.RequestsPerWindow == 0 {
		opts.SearchLimit = middleware.DefaultSearchLimit()
	}
	if opts.SearchLimit.Name == "" {
		opts.SearchLimit.Name = middleware.SearchLimitName
	}
	if err := opts.SearchLimit.Validate(); err != nil {
		return nil, err
	}

	labeler := Labeler(opts.Resolver)
	interceptor := audit.NewInterceptor(opts.Resolver, opts.Publisher, logger)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Tracing(opts.ServiceName, labeler),
		middleware.CORS(opts.CORS),
		middleware.Logging(logger),
		middleware.HTTPMetrics(opts.Metrics, labeler),
		interceptor.Middleware,
		middleware.Authenticate(opts.Validator, logger),
		middleware.Profiling(opts.Profiling),
	)

	health := api.NewHealthHandlers(opts.Checkers, logger)
	r.Get("/ping", health.Ping)
	r.Get("/actuator/health", health.Health)
	r.Get("/actuator/health/readiness", health.Ready)
	r.Method(http.MethodGet, "/actuator/prometheus", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	audits := api.NewAuditHandlers(opts.Rows, opts.Searcher, logger)
	var searchMW []func(http.Handler) http.Handler
	if opts.RateLimits != nil {
		searchMW = append(searchMW, middleware.RateLimiter(opts.RateLimits, opts.SearchLimit, middleware.UserKeyFunc(), opts.Metrics))
	}
	r.Route("/api/v1/audit", func(r chi.Router) {
		audits.Routes(r, searchMW...)
	})

	var fallback http.Handler = http.HandlerFunc(notFound)
	if opts.Upstream != nil {
		fallback = NewProxy(opts.Upstream, opts.Transport, logger)
	}
	r.NotFound(fallback.ServeHTTP)
	r.MethodNotAllowed(fallback.ServeHTTP)

	return r, nil
}

func notFound(w http.ResponseWriter, r *http.Request) {
	api.WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
}
