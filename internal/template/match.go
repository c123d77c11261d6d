package template

import (
	"fmt"
	"regexp"
	"strings"

	"schedcal/internal/model"
)

type rule struct {
	typeName string
	contains []string
	regexes  []*regexp.Regexp
	label    *regexp.Regexp
}

func (r rule) matches(title string) bool {
	if r.regexes != nil {
		for _, re := range r.regexes {
			if re.MatchString(title) {
				return true
			}
		}
		return false
	}
	lower := strings.ToLower(title)
	for _, p := range r.contains {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Matcher assigns event types from titles using a template's type patterns.
type Matcher struct {
	rules []rule
}

// NewMatcher compiles the patterns of every type in declaration order.
func NewMatcher(t *Template) (*Matcher, error) {
	m := &Matcher{}
	for _, name := range t.TypeNames() {
		tc := t.Types[name]
		r := rule{typeName: name}
		if tc.MatchMode == MatchRegex {
			r.regexes = make([]*regexp.Regexp, 0, len(tc.Match))
			for _, p := range tc.Match {
				re, err := regexp.Compile("(?i)" + p)
				if err != nil {
					return nil, &ConfigError{Template: t.Name, Field: "types." + name + ".match",
						Err: fmt.Errorf("compile %q: %w", p, err)}
				}
				r.regexes = append(r.regexes, re)
			}
		} else {
			for _, p := range tc.Match {
				r.contains = append(r.contains, strings.ToLower(p))
			}
		}
		if tc.Label != "" {
			re, err := regexp.Compile("(?i)" + tc.Label)
			if err != nil {
				return nil, &ConfigError{Template: t.Name, Field: "types." + name + ".label",
					Err: fmt.Errorf("compile %q: %w", tc.Label, err)}
			}
			r.label = re
		}
		m.rules = append(m.rules, r)
	}
	return m, nil
}

// Match returns the first type whose patterns match title and the label
// extracted by that type's label pattern. ok is false when nothing matches.
func (m *Matcher) Match(title string) (typeName, label string, ok bool) {
	for _, r := range m.rules {
		if !r.matches(title) {
			continue
		}
		if r.label != nil {
			if sub := r.label.FindStringSubmatch(title); len(sub) > 1 {
				label = strings.TrimSpace(sub[1])
			}
		}
		return r.typeName, label, true
	}
	return "", "", false
}

// Classify returns a copy of events with Type and Label filled in for
// events that do not have a type yet.
func (m *Matcher) Classify(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	for i, e := range events {
		if e.Type == "" {
			if typ, label, ok := m.Match(e.Title); ok {
				e.Type = typ
				if e.Label == "" {
					e.Label = label
				}
			}
		}
		out[i] = e
	}
	return out
}
