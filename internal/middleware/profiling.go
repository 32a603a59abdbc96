package middleware

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// ProfilingPrefix is where pprof endpoints are mounted. It sits under
// /actuator so the audit interceptor and HTTP metrics skip it.
const ProfilingPrefix = "/actuator/pprof"

// ProfilingConfig configures the profiling middleware.
type ProfilingConfig struct {
	// Enabled controls whether profiling endpoints are exposed.
	// SECURITY: This should ONLY be true in development environments.
	Enabled bool

	// Environment is used for an additional safety check; "production" and
	// "prod" always disable profiling.
	Environment string
}

// Profiling returns middleware that serves pprof under /actuator/pprof/.
//
// Available endpoints:
//   - /actuator/pprof/          - Index page with all available profiles
//   - /actuator/pprof/profile   - CPU profile (?seconds=X)
//   - /actuator/pprof/trace     - Execution trace
//   - /actuator/pprof/cmdline   - Command line invocation
//   - /actuator/pprof/symbol    - Symbol lookup
//   - /actuator/pprof/<name>    - Any runtime/pprof profile (heap, goroutine, allocs, ...)
func Profiling(config ProfilingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}

		if config.Environment == "production" || config.Environment == "prod" {
			slog.Error("SECURITY VIOLATION: profiling cannot be enabled in production environment",
				"environment", config.Environment,
			)
			return next
		}

		slog.Warn("profiling endpoints enabled - DEVELOPMENT ONLY",
			"environment", config.Environment,
			"endpoints", ProfilingPrefix+"/*",
		)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name, ok := strings.CutPrefix(r.URL.Path, ProfilingPrefix+"/")
			if !ok {
				if r.URL.Path == ProfilingPrefix {
					http.Redirect(w, r, ProfilingPrefix+"/", http.StatusMovedPermanently)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			switch name {
			case "":
				pprof.Index(w, r)
			case "cmdline":
				pprof.Cmdline(w, r)
			case "profile":
				pprof.Profile(w, r)
			case "symbol":
				pprof.Symbol(w, r)
			case "trace":
				pprof.Trace(w, r)
			default:
				// pprof.Index only resolves names under /debug/pprof/, so
				// named profiles are dispatched directly.
				pprof.Handler(name).ServeHTTP(w, r)
			}
		})
	}
}
