package httpserver

import (
	"net"
	"net/http"
	"strings"
)

// credentials extracts the bearer token and the X-API-Key value.
func credentials(r *http.Request) (bearer, apiKey string) {
	if v := strings.TrimSpace(r.Header.Get("Authorization")); len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		bearer = strings.TrimSpace(v[7:])
	}
	apiKey = strings.TrimSpace(r.Header.Get("X-API-Key"))
	return bearer, apiKey
}

// clientIP returns the caller address. Forwarding headers are honored only
// behind a trusted proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
