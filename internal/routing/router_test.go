package routing

import (
	"net/http/httptest"
	"testing"
)

func TestTableMatch(t *testing.T) {
	tbl := New()
	tbl.Add(&Rule{ID: "auth", Prefix: "/api/auth", Policy: "AUTH"})
	tbl.Add(&Rule{ID: "uploads", Prefix: "/api/uploads/", Policy: "UPLOAD"})
	tbl.Add(&Rule{ID: "api", Prefix: "/api", Policy: "MODERATE"})

	cases := []struct {
		path string
		want string
		ok   bool
	}{
		{"/api/auth", "auth", true},
		{"/api/auth/login", "auth", true},
		{"/api/uploads/2024", "uploads", true},
		{"/api/portfolio", "api", true}, // falls through to the broad rule
		{"/health", "", false},
		{"/api-docs", "", false}, // prefix match is segment-aware
	}
	for _, c := range cases {
		rule, ok := tbl.Match(c.path)
		if ok != c.ok {
			t.Errorf("Match(%q) ok = %v, want %v", c.path, ok, c.ok)
			continue
		}
		if ok && rule.ID != c.want {
			t.Errorf("Match(%q) = %q, want %q", c.path, rule.ID, c.want)
		}
	}
}

func TestMatchOrderFirstWins(t *testing.T) {
	tbl := New()
	tbl.Add(&Rule{ID: "broad", Prefix: "/api", Policy: "MODERATE"})
	tbl.Add(&Rule{ID: "narrow", Prefix: "/api/auth", Policy: "AUTH"})

	rule, ok := tbl.Match("/api/auth/login")
	if !ok || rule.ID != "broad" {
		t.Errorf("expected insertion order to win, got %+v", rule)
	}
}

func TestRuleContextRoundTrip(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/auth", nil)

	if _, ok := RuleFrom(r); ok {
		t.Fatal("rule present on fresh request")
	}

	rule := &Rule{ID: "auth", Prefix: "/api/auth", Policy: "AUTH"}
	r = WithRule(r, rule)
	got, ok := RuleFrom(r)
	if !ok || got != rule {
		t.Errorf("RuleFrom = %+v, %v", got, ok)
	}
}
