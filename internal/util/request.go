package util

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// GenerateRequestID returns the identifier carried through the phase
// engine, the upstream relay and the access log for one request.
func GenerateRequestID() string {
	return uuid.NewString()
}

// GetClientIP extracts the client address for rate limiting and logging.
// Forwarding headers are only believed when the direct peer is inside a
// trusted CIDR; otherwise the socket address wins.
func GetClientIP(r *http.Request, trustProxyHeaders bool, trustedCIDRs []*net.IPNet) string {
	direct := func() string {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		return r.RemoteAddr
	}

	if !trustProxyHeaders {
		return direct()
	}

	source := net.ParseIP(direct())
	if source == nil || !ipInCIDRs(source, trustedCIDRs) {
		return direct()
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	return direct()
}
