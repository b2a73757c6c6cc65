package gateway

import (
	"net/http"

	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/routing"
)

// PolicyMatcher attaches the matched policy rule to the request context.
// A request no rule covers simply proceeds without one; the rate-limit
// middleware then applies the default policy.
func PolicyMatcher(tbl *routing.Table, skip map[string]struct{}) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if rule, ok := tbl.Match(r.URL.Path); ok {
				r = routing.WithRule(r, rule)
			}
			next.ServeHTTP(w, r)
		})
	}
}
