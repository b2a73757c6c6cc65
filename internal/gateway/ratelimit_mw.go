package gateway

import (
	"net/http"
	"strconv"

	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/ratelimit"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/routing"
)

// RateLimit enforces the admission decision for every request.
//
// The policy is picked by name: the rule the PolicyMatcher attached wins,
// otherwise defaultPolicy applies. Whether allowed or denied, the
// response carries the informational X-RateLimit-* headers; a denial adds
// Retry-After and short-circuits with 429. The limiter itself never
// fails, so there is no error branch here.
func RateLimit(
	lim *ratelimit.Limiter,
	policies map[string]ratelimit.Config,
	defaultPolicy string,
	skipPaths map[string]struct{},
	onDenied func(policy string),
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// allow ops endpoints without limits
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			policy := defaultPolicy
			if rule, ok := routing.RuleFrom(r); ok && rule.Policy != "" {
				policy = rule.Policy
			}
			cfg, ok := policies[policy]
			if !ok {
				// Unknown names are rejected at config load; this guards
				// hand-built tables.
				policy = ratelimit.PolicyModerate
				cfg, _ = ratelimit.Policy(policy)
			}

			res := lim.Check(r.Context(), r, cfg)

			// headers for good DX
			w.Header().Set("X-RateLimit-Limit", itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", itoa(max(res.Remaining, 0)))
			w.Header().Set("X-RateLimit-Reset", itoa64(res.ResetTime.Unix()))

			if !res.Allowed {
				w.Header().Set("Retry-After", itoa64(int64(res.RetryAfter.Seconds())))
				if onDenied != nil {
					onDenied(policy)
				}
				writeJSON(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func itoa(i int) string     { return fmtInt(int64(i)) }
func itoa64(i int64) string { return fmtInt(i) }

func fmtInt(i int64) string {
	var buf [32]byte
	return string(strconv.AppendInt(buf[:0], i, 10))
}

// local tiny JSON helper to avoid coupling to auth package
func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
