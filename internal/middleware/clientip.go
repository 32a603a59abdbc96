package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the first X-Forwarded-For hop when it is an IP literal,
// otherwise the remote peer address. Ports and IPv6 zones are stripped and
// IPv4-mapped addresses are unmapped. The result is empty when neither source
// holds an IP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, ok := parseIP(first); ok {
			return ip
		}
	}
	ip, _ := parseIP(r.RemoteAddr)
	return ip
}

// parseIP accepts "ip", "ip:port" and "[ipv6]:port".
func parseIP(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.WithZone("").Unmap().String(), true
}
