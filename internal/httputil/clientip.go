package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address that keys per-client compute limits.
//
// With trustProxy set, the first X-Forwarded-For hop wins, then X-Real-IP;
// values that do not parse as addresses are skipped. Only enable trustProxy
// behind a reverse proxy that overwrites those headers.
//
// Addresses are canonical: IPv4-mapped IPv6 is unmapped and zones are
// dropped, so one client cannot hold several limiter slots by spelling its
// address differently.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := canonicalIP(first); ok {
				return ip
			}
		}
		if ip, ok := canonicalIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, ok := canonicalIP(host); ok {
		return ip
	}
	return host
}

func canonicalIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.Trim(strings.TrimSpace(s), "[]"))
	if err != nil {
		return "", false
	}
	return addr.Unmap().WithZone("").String(), true
}
