package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/ratelimit"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/ratelimit/memory"
	"github.com/SamMcfarlane-pursuit/Portfolio-KPI-copilot-sub002/internal/routing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func testPolicies() map[string]ratelimit.Config {
	return map[string]ratelimit.Config{
		"TINY": {Window: time.Minute, MaxRequests: 2, Strategy: ratelimit.FixedWindow},
		"ONE":  {Window: time.Minute, MaxRequests: 1, Strategy: ratelimit.FixedWindow},
	}
}

func TestRateLimitHeadersAndDenial(t *testing.T) {
	lim := ratelimit.New(nil, memory.New())
	denied := 0
	mw := RateLimit(lim, testPolicies(), "TINY", nil, func(string) { denied++ })
	h := mw(okHandler())

	do := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest("GET", "/api/portfolio", nil)
		r.RemoteAddr = "192.0.2.1:1000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	w := do()
	if w.Code != http.StatusOK {
		t.Fatalf("first call status = %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("limit header = %q, want 2", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Errorf("remaining header = %q, want 1", got)
	}
	if w.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("reset header missing on allowed response")
	}

	do()
	w = do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third call status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("denied remaining header = %q, want 0", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("denial content type = %q", ct)
	}
	if denied != 1 {
		t.Errorf("onDenied called %d times, want 1", denied)
	}
}

func TestRateLimitSkipPaths(t *testing.T) {
	lim := ratelimit.New(nil, memory.New())
	skip := map[string]struct{}{"/health": {}}
	h := RateLimit(lim, testPolicies(), "ONE", skip, nil)(okHandler())

	for i := 0; i < 5; i++ {
		r := httptest.NewRequest("GET", "/health", nil)
		r.RemoteAddr = "192.0.2.1:1000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("health call %d limited: %d", i+1, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "" {
			t.Error("skip path carries rate limit headers")
		}
	}
}

func TestRateLimitUsesMatchedRule(t *testing.T) {
	lim := ratelimit.New(nil, memory.New())
	tbl := routing.New()
	tbl.Add(&routing.Rule{ID: "one", Prefix: "/api/one", Policy: "ONE"})

	h := Chain(okHandler(),
		PolicyMatcher(tbl, nil),
		RateLimit(lim, testPolicies(), "TINY", nil, nil),
	)

	do := func(path string) int {
		r := httptest.NewRequest("GET", path, nil)
		r.RemoteAddr = "192.0.2.1:1000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	// Bound route: ONE allows a single request.
	if code := do("/api/one/x"); code != http.StatusOK {
		t.Fatalf("first bound call = %d", code)
	}
	if code := do("/api/one/x"); code != http.StatusTooManyRequests {
		t.Errorf("second bound call = %d, want 429", code)
	}

	// Unbound route falls back to the default policy (TINY, max 2).
	if code := do("/api/other"); code != http.StatusOK {
		t.Errorf("first default call = %d", code)
	}
	if code := do("/api/other"); code != http.StatusOK {
		t.Errorf("second default call = %d", code)
	}
	if code := do("/api/other"); code != http.StatusTooManyRequests {
		t.Errorf("third default call = %d, want 429", code)
	}
}

func TestRateLimitUnknownPolicyFallsBack(t *testing.T) {
	lim := ratelimit.New(nil, memory.New())
	h := RateLimit(lim, testPolicies(), "MISSING", nil, nil)(okHandler())

	r := httptest.NewRequest("GET", "/api/x", nil)
	r.RemoteAddr = "192.0.2.1:1000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	// MODERATE is the safety net.
	if got := w.Header().Get("X-RateLimit-Limit"); got != "500" {
		t.Errorf("limit header = %q, want 500", got)
	}
}

func TestBodyLimit(t *testing.T) {
	h := BodyLimit(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("POST", "/api/uploads", strings.NewReader("far too big"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body status = %d", w.Code)
	}

	r = httptest.NewRequest("POST", "/api/uploads", strings.NewReader("ok"))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("small body status = %d", w.Code)
	}
}
