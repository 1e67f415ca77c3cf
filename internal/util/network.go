package util

import (
	"fmt"
	"net"
	"strings"
)

func ipInCIDRs(ip net.IP, cidrs []*net.IPNet) bool {
	for _, c := range cidrs {
		if c.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseTrustedCIDRs parses the trusted_proxy_cidrs list, skipping blank
// entries and failing loudly on malformed ones.
func ParseTrustedCIDRs(values []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		_, network, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", v, err)
		}
		out = append(out, network)
	}
	return out, nil
}
