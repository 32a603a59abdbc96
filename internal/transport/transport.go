// Package transport builds the outbound network stack shared by the reverse
// proxy, the search client and the mail sender.
package transport

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/facesystem/gateway/internal/middleware"
)

// Timeouts bounds every outbound connection.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
}

// DefaultTimeouts returns 30s connect, 60s read and 60s write.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 30 * time.Second,
		Read:    60 * time.Second,
		Write:   60 * time.Second,
	}
}

// DialContext dials addr within the connect timeout and returns a connection
// that arms a fresh deadline before every Read and Write.
func (t Timeouts) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: t.Connect, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return &deadlineConn{Conn: conn, read: t.Read, write: t.Write}, nil
}

// deadlineConn applies per-operation deadlines. A zero duration leaves that
// direction unbounded.
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.write > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.write)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// NewTransport returns an http.Transport dialing through t.
func NewTransport(t Timeouts) *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = t.DialContext
	tr.TLSHandshakeTimeout = t.Connect
	tr.ResponseHeaderTimeout = t.Read
	return tr
}

// NewRoundTripper wraps base with client spans and X-Request-ID propagation.
// A nil base means NewTransport(DefaultTimeouts()).
func NewRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = NewTransport(DefaultTimeouts())
	}
	return otelhttp.NewTransport(&requestIDTransport{next: base})
}

// NewClient returns an http.Client using NewRoundTripper over t.
func NewClient(t Timeouts) *http.Client {
	return &http.Client{Transport: NewRoundTripper(NewTransport(t))}
}

// requestIDTransport copies the correlation id of the request context onto
// the outbound request unless the caller already set one.
type requestIDTransport struct {
	next http.RoundTripper
}

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := middleware.GetRequestID(req.Context())
	if id == "" || req.Header.Get(middleware.RequestIDHeader) != "" {
		return t.next.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	out.Header.Set(middleware.RequestIDHeader, id)
	return t.next.RoundTrip(out)
}
