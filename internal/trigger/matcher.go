// Package trigger finds keyword categories in chat messages.
package trigger

import (
	"regexp"
	"strings"
)

// Category names a group of trigger words that share one reply
type Category string

const (
	CategoryIP      Category = "ip"
	CategorySite    Category = "site"
	CategoryVersion Category = "version"
	CategoryStatus  Category = "status"
)

// Order is the order in which matched categories are reported
var Order = []Category{CategoryIP, CategorySite, CategoryVersion, CategoryStatus}

// Matcher holds one precompiled pattern per category.
// It is immutable after New and safe for concurrent use.
type Matcher struct {
	patterns map[Category]*regexp.Regexp
}

// New compiles the trigger words of every category. Categories without
// words never match.
func New(words map[Category][]string) *Matcher {
	m := &Matcher{patterns: make(map[Category]*regexp.Regexp, len(words))}
	for cat, list := range words {
		alts := make([]string, 0, len(list))
		for _, w := range list {
			if w = strings.TrimSpace(w); w != "" {
				alts = append(alts, regexp.QuoteMeta(w))
			}
		}
		if len(alts) == 0 {
			continue
		}
		m.patterns[cat] = regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
	}
	return m
}

// Match returns every category whose words appear in text as whole words
func (m *Matcher) Match(text string) []Category {
	var out []Category
	for _, cat := range Order {
		if re, ok := m.patterns[cat]; ok && re.MatchString(text) {
			out = append(out, cat)
		}
	}
	return out
}

// Enabled reports whether cat has any trigger words
func (m *Matcher) Enabled(cat Category) bool {
	_, ok := m.patterns[cat]
	return ok
}
