package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/facesystem/gateway/internal/middleware"
)

// Publisher hands events to the pipeline. Implementations must not block the
// caller beyond one broker send or one fallback write, and must not fail.
type Publisher interface {
	Publish(ctx context.Context, e *Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e *Event)

// Publish calls f(ctx, e).
func (f PublisherFunc) Publish(ctx context.Context, e *Event) { f(ctx, e) }

// auditReadPrefix is the read API; auditing it would feed back into itself.
const auditReadPrefix = "/api/v1/audit"

// Excluded reports whether path is never audited: health, operator and audit read endpoints.
func Excluded(path string) bool {
	switch {
	case path == "/ping":
		return true
	case strings.HasPrefix(path, "/actuator"):
		return true
	case path == auditReadPrefix || strings.HasPrefix(path, auditReadPrefix+"/"):
		return true
	}
	return false
}

// Interceptor emits exactly one Event per audited request, after the response
// is written, on every exit path including panics.
type Interceptor struct {
	resolver  *Resolver
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewInterceptor creates an Interceptor.
func NewInterceptor(resolver *Resolver, publisher Publisher, logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		resolver:  resolver,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Middleware wraps next. It expects middleware.RequestID to run first; when it
// has not, a correlation id is assigned here.
func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := middleware.RequestContextFrom(r.Context())
		if rc == nil {
			rc = middleware.NewRequestContext(uuid.NewString())
			w.Header().Set(middleware.RequestIDHeader, rc.RequestID())
			r = r.WithContext(middleware.WithRequestContext(r.Context(), rc))
		}

		if Excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := i.now()
		resolution := i.resolver.Resolve(r.Method, r.URL.Path)
		rc.SetOperation(resolution.Action)
		rw := middleware.WrapResponseWriter(w)

		defer func() {
			rec := recover()
			status := rw.StatusCode()
			if rec != nil && !rw.WroteHeader() {
				status = http.StatusInternalServerError
			}
			i.emit(r, rc, resolution, status, start)
			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeHTTP(rw, r)
	})
}

func (i *Interceptor) emit(r *http.Request, rc *middleware.RequestContext, res Resolution, status int, start time.Time) {
	// The request context may already be cancelled; the event must still go out.
	ctx := context.WithoutCancel(r.Context())

	defer func() {
		if rec := recover(); rec != nil {
			i.logger.ErrorContext(ctx, "audit emission panicked",
				slog.String("panic", fmt.Sprint(rec)))
		}
	}()

	end := i.now()
	duration := end.Sub(start).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	e := &Event{
		RequestID:  rc.RequestID(),
		Timestamp:  NewTimestamp(end),
		ActorIP:    middleware.ClientIP(r),
		ActorAgent: r.UserAgent(),
		Action:     res.Action,
		HTTPMethod: strings.ToUpper(r.Method),
		HTTPPath:   r.URL.Path,
		TargetType: res.TargetType,
		TargetID:   res.TargetID,
		Outcome:    OutcomeFor(status),
		StatusCode: status,
		DurationMs: duration,
	}
	if p := rc.Principal(); p != nil {
		id := p.UserID
		e.ActorID = &id
		e.ActorEmail = p.Email
		e.ActorRole = p.Role
	}

	i.publisher.Publish(ctx, e)
}
