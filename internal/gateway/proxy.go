package gateway

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/facesystem/gateway/internal/api"
	"github.com/facesystem/gateway/internal/middleware"
	"github.com/facesystem/gateway/internal/transport"
)

// statusClientClosedRequest is logged when the caller disconnects mid-proxy.
const statusClientClosedRequest = 499

// NewProxy forwards requests to target. Outbound requests carry the
// correlation id of the inbound request in X-Request-ID; a client-supplied
// value is replaced. A nil rt means transport.NewRoundTripper over the
// default timeouts.
func NewProxy(target *url.URL, rt http.RoundTripper, logger *slog.Logger) http.Handler {
	if rt == nil {
		rt = transport.NewRoundTripper(transport.NewTransport(transport.DefaultTimeouts()))
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
			pr.Out.Header.Del(middleware.RequestIDHeader)
		},
		Transport: rt,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if r.Context().Err() != nil {
				// Client went away; nothing useful can be written.
				logger.DebugContext(r.Context(), "proxy request cancelled", slog.Any("error", err))
				w.WriteHeader(statusClientClosedRequest)
				return
			}
			logger.WarnContext(r.Context(), "upstream request failed",
				slog.String("upstream", target.Host),
				slog.Any("error", err),
			)
			api.WriteError(w, r.Context(), http.StatusBadGateway, api.ErrCodeUnavailable, "Upstream service unavailable")
		},
	}
}
