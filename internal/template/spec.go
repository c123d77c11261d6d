package template

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Group-by keys for consolidation.
const (
	GroupByTitle = "title"
	GroupByLabel = "label"
)

// Overnight policies.
const (
	OvernightSplit  = "split"
	OvernightAllDay = "all_day"
	OvernightKeep   = "keep"
)

// DefaultOvernightFormat is the title format used when a policy is given in
// shorthand form or the object form omits "format".
const DefaultOvernightFormat = "{title} {time_range}"

// ConsolidateConfig is the canonical (expanded) consolidation rule.
type ConsolidateConfig struct {
	GroupBy          string `json:"group_by"`
	PatternAware     bool   `json:"pattern_aware"`
	OnlyAllDay       bool   `json:"only_all_day,omitempty"`
	RequireSameTimes bool   `json:"require_same_times,omitempty"`
}

func (c ConsolidateConfig) validate() error {
	switch c.GroupBy {
	case GroupByTitle, GroupByLabel:
		return nil
	default:
		return fmt.Errorf("consolidate: unknown group_by %q (want %q or %q)", c.GroupBy, GroupByTitle, GroupByLabel)
	}
}

// OvernightConfig is the canonical (expanded) overnight rule.
type OvernightConfig struct {
	As     string `json:"as"`
	Format string `json:"format"`
}

func (c OvernightConfig) validate() error {
	switch c.As {
	case OvernightSplit, OvernightAllDay, OvernightKeep:
		return nil
	default:
		return fmt.Errorf("overnight: unknown policy %q (want split, all_day or keep)", c.As)
	}
}

type specKind uint8

const (
	kindUnset specKind = iota
	kindDisabled
	kindShorthand
	kindFull
)

// ConsolidateSpec is the consolidate field as written in a template: unset,
// false, a group_by shorthand string, or a full object. It is kept in that
// form and only expanded by ResolveConsolidate.
type ConsolidateSpec struct {
	kind      specKind
	shorthand string
	full      ConsolidateConfig
}

// ConsolidateOff is the explicit `false` form.
func ConsolidateOff() ConsolidateSpec { return ConsolidateSpec{kind: kindDisabled} }

// ConsolidateBy is the shorthand form, e.g. "title".
func ConsolidateBy(groupBy string) ConsolidateSpec {
	return ConsolidateSpec{kind: kindShorthand, shorthand: groupBy}
}

// ConsolidateWith is the full object form.
func ConsolidateWith(c ConsolidateConfig) ConsolidateSpec {
	return ConsolidateSpec{kind: kindFull, full: c}
}

func (s ConsolidateSpec) IsSet() bool       { return s.kind != kindUnset }
func (s ConsolidateSpec) IsDisabled() bool  { return s.kind == kindDisabled }
func (s ConsolidateSpec) IsShorthand() bool { return s.kind == kindShorthand }

// String renders the stored form for display.
func (s ConsolidateSpec) String() string {
	switch s.kind {
	case kindDisabled:
		return "false"
	case kindShorthand:
		return s.shorthand
	case kindFull:
		out := "group_by=" + s.full.GroupBy
		if s.full.PatternAware {
			out += " pattern_aware"
		}
		if s.full.OnlyAllDay {
			out += " only_all_day"
		}
		if s.full.RequireSameTimes {
			out += " require_same_times"
		}
		return out
	default:
		return "(default)"
	}
}

func (s ConsolidateSpec) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case kindDisabled:
		return []byte("false"), nil
	case kindShorthand:
		return json.Marshal(s.shorthand)
	case kindFull:
		return json.Marshal(s.full)
	default:
		return []byte("null"), nil
	}
}

func (s *ConsolidateSpec) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ConsolidateSpec{}
	case bytes.Equal(b, []byte("false")):
		*s = ConsolidateOff()
	case bytes.Equal(b, []byte("true")):
		return fmt.Errorf("consolidate: true is not allowed, use %q, %q or an object", GroupByTitle, GroupByLabel)
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = ConsolidateBy(v)
	case len(b) > 0 && b[0] == '{':
		var v ConsolidateConfig
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("consolidate: %w", err)
		}
		*s = ConsolidateWith(v)
	default:
		return fmt.Errorf("consolidate: unsupported value %s", b)
	}
	return nil
}

// OvernightSpec is the overnight field as written in a template: unset, a
// policy shorthand string, or a full {as, format} object.
type OvernightSpec struct {
	kind      specKind
	shorthand string
	full      OvernightConfig
}

// OvernightAs is the shorthand form, e.g. "split".
func OvernightAs(policy string) OvernightSpec {
	return OvernightSpec{kind: kindShorthand, shorthand: policy}
}

// OvernightWith is the full object form.
func OvernightWith(c OvernightConfig) OvernightSpec {
	return OvernightSpec{kind: kindFull, full: c}
}

func (s OvernightSpec) IsSet() bool       { return s.kind != kindUnset }
func (s OvernightSpec) IsShorthand() bool { return s.kind == kindShorthand }

func (s OvernightSpec) String() string {
	switch s.kind {
	case kindShorthand:
		return s.shorthand
	case kindFull:
		return fmt.Sprintf("as=%s format=%q", s.full.As, s.full.Format)
	default:
		return "(default)"
	}
}

func (s OvernightSpec) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case kindShorthand:
		return json.Marshal(s.shorthand)
	case kindFull:
		return json.Marshal(s.full)
	default:
		return []byte("null"), nil
	}
}

func (s *OvernightSpec) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = OvernightSpec{}
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = OvernightAs(v)
	case len(b) > 0 && b[0] == '{':
		var v OvernightConfig
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("overnight: %w", err)
		}
		*s = OvernightWith(v)
	default:
		return fmt.Errorf("overnight: unsupported value %s", b)
	}
	return nil
}

// ResolveConsolidate expands raw at the point of use. A nil result means
// consolidation is disabled. Unset falls back to defaults.Consolidate,
// resolved the same way (and to "title" when that is unset as well).
func ResolveConsolidate(raw ConsolidateSpec, defaults Defaults) (*ConsolidateConfig, error) {
	if !raw.IsSet() {
		raw = defaults.Consolidate
		if !raw.IsSet() {
			raw = ConsolidateBy(GroupByTitle)
		}
	}
	var cfg ConsolidateConfig
	switch raw.kind {
	case kindDisabled:
		return nil, nil
	case kindShorthand:
		cfg = ConsolidateConfig{GroupBy: raw.shorthand}
	default:
		cfg = raw.full
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveOvernight expands raw at the point of use, falling back to
// defaults.Overnight (and to "split" when that is unset as well).
func ResolveOvernight(raw OvernightSpec, defaults Defaults) (OvernightConfig, error) {
	if !raw.IsSet() {
		raw = defaults.Overnight
		if !raw.IsSet() {
			raw = OvernightAs(OvernightSplit)
		}
	}
	var cfg OvernightConfig
	if raw.kind == kindShorthand {
		cfg = OvernightConfig{As: raw.shorthand}
	} else {
		cfg = raw.full
	}
	if cfg.Format == "" {
		cfg.Format = DefaultOvernightFormat
	}
	if err := cfg.validate(); err != nil {
		return OvernightConfig{}, err
	}
	return cfg, nil
}
