package routing

import (
	"fmt"
	"regexp"

	"github.com/jakubmeysner/kobweb/internal/config"
)

// Redirects rewrites site-relative request paths according to the
// configured rule list. Rewrite is a pure function of the path and the
// rules, so a single instance is shared by every request.
type Redirects struct {
	rules []redirectRule
}

type redirectRule struct {
	from *regexp.Regexp
	to   string
}

// NewRedirects compiles the configured rules in order. Every from pattern
// must match the whole path, so patterns are anchored at both ends.
func NewRedirects(rules []config.RedirectConfig) (*Redirects, error) {
	r := &Redirects{rules: make([]redirectRule, 0, len(rules))}
	for i, rule := range rules {
		from, err := regexp.Compile("^(?:" + rule.From + ")$")
		if err != nil {
			return nil, fmt.Errorf("redirect %d: bad pattern %q: %w", i, rule.From, err)
		}
		r.rules = append(r.rules, redirectRule{from: from, to: rule.To})
	}
	return r, nil
}

// Rewrite folds the rules over path left to right. A rule applies when its
// pattern matches the whole current path; the match's capture groups are
// substituted into the template ($1..$9) and the result becomes the input
// of the next rule. The fold is cumulative, letting small normalization
// rules compose instead of forcing combined patterns. The bool reports
// whether the final path differs from the input.
func (r *Redirects) Rewrite(path string) (string, bool) {
	current := path
	for _, rule := range r.rules {
		m := rule.from.FindStringSubmatchIndex(current)
		if m == nil {
			continue
		}
		current = string(rule.from.ExpandString(nil, rule.to, current, m))
	}
	return current, current != path
}

// Empty reports whether no rules are configured.
func (r *Redirects) Empty() bool {
	return len(r.rules) == 0
}
