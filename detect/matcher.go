package detect

import (
	"strings"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
)

// RuleMatcher finds the protected rule a path falls under
type RuleMatcher struct {
	rules []core.ProtectedRule
}

// NewRuleMatcher keeps rules in declaration order. Substrings are
// lower-cased and rules with an empty substring are dropped.
func NewRuleMatcher(rules []core.ProtectedRule) *RuleMatcher {
	m := &RuleMatcher{rules: make([]core.ProtectedRule, 0, len(rules))}
	for _, r := range rules {
		r.Substring = strings.ToLower(r.Substring)
		if r.Substring == "" {
			continue
		}
		m.rules = append(m.rules, r)
	}
	return m
}

// Match returns the first rule whose substring occurs in path, ignoring
// case. Empty paths never match.
func (m *RuleMatcher) Match(path string) (core.ProtectedRule, bool) {
	if path == "" {
		return core.ProtectedRule{}, false
	}
	lower := strings.ToLower(path)
	for _, r := range m.rules {
		if strings.Contains(lower, r.Substring) {
			return r, true
		}
	}
	return core.ProtectedRule{}, false
}

// Rules returns the normalized rules
func (m *RuleMatcher) Rules() []core.ProtectedRule {
	out := make([]core.ProtectedRule, len(m.rules))
	copy(out, m.rules)
	return out
}
