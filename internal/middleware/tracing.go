package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys set by Tracing.
const (
	AttrRequestID = attribute.Key("request.id")
	AttrAction    = attribute.Key("audit.action")
)

// Tracing creates HTTP middleware that instruments requests with OpenTelemetry spans.
// It uses W3C Trace Context propagation (traceparent/tracestate headers).
//
// Span names are "<METHOD> <label>" where label comes from labeler, so raw
// paths with ids never become span names. A nil labeler names spans by method
// only. The correlation id and, once known, the resolved action are attached
// as span attributes.
//
// The middleware must run after RequestID so the correlation id is available.
func Tracing(serviceName string, labeler RouteLabeler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		annotated := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			span := trace.SpanFromContext(r.Context())
			if id := GetRequestID(r.Context()); id != "" {
				span.SetAttributes(AttrRequestID.String(id))
			}

			next.ServeHTTP(w, r)

			if rc := RequestContextFrom(r.Context()); rc != nil && rc.Operation() != "" {
				span.SetAttributes(AttrAction.String(rc.Operation()))
			}
		})

		return otelhttp.NewHandler(annotated, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if labeler == nil {
					return r.Method
				}
				return r.Method + " " + labeler(r)
			}),
		)
	}
}

// GetTraceID extracts the trace ID from the request context.
// Returns empty string if no trace is active.
func GetTraceID(r *http.Request) string {
	spanCtx := trace.SpanContextFromContext(r.Context())
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// GetSpanID extracts the span ID from the request context.
// Returns empty string if no span is active.
func GetSpanID(r *http.Request) string {
	spanCtx := trace.SpanContextFromContext(r.Context())
	if spanCtx.IsValid() {
		return spanCtx.SpanID().String()
	}
	return ""
}
