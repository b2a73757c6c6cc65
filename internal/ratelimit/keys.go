package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// DefaultKeyFunc scopes budgets by client address plus a normalized route
// prefix, so different routes draw from independent budgets.
func DefaultKeyFunc(r *http.Request) string {
	return ClientAddr(r) + ":" + RoutePrefix(r.URL.Path)
}

// ClientAddr extracts the originating client address: first entry of
// X-Forwarded-For, else the peer address, else "unknown".
func ClientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// RoutePrefix normalizes a request path down to its first two segments,
// e.g. "/api/portfolio/7/kpis" -> "/api/portfolio".
func RoutePrefix(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	segs := strings.Split(trimmed, "/")
	if len(segs) > 2 {
		segs = segs[:2]
	}
	return "/" + strings.Join(segs, "/")
}
