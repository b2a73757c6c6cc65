// Package routing binds path prefixes to named admission policies. The
// HTTP framework in front of this engine does the real routing; this
// table only decides which budget a request draws from.
package routing

import (
	"context"
	"net/http"
	"strings"
)

// Rule binds a path prefix to a named admission policy.
type Rule struct {
	ID     string
	Prefix string
	Policy string
}

type Table struct {
	rules []*Rule
}

func New() *Table {
	return &Table{}
}

func (t *Table) Add(r *Rule) {
	t.rules = append(t.rules, r)
}

func (t *Table) Rules() []*Rule {
	return t.rules
}

// Match returns the first rule whose prefix covers path. Rules are
// checked in insertion order, so narrower prefixes belong first.
func (t *Table) Match(path string) (*Rule, bool) {
	for _, r := range t.rules {
		prefix := strings.TrimSuffix(strings.TrimSpace(r.Prefix), "/")
		if prefix == "" {
			prefix = "/"
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return r, true
		}
	}
	return nil, false
}

// --- context helpers ---
type ctxKey int

const keyRule ctxKey = 0

func WithRule(r *http.Request, rule *Rule) *http.Request {
	ctx := context.WithValue(r.Context(), keyRule, rule)
	return r.WithContext(ctx)
}

func RuleFrom(r *http.Request) (*Rule, bool) {
	v := r.Context().Value(keyRule)
	if v == nil {
		return nil, false
	}
	rule, ok := v.(*Rule)
	return rule, ok
}
