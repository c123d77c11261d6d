package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"schedcal/internal/model"
)

// Time formats accepted in settings.time_format.
const (
	TimeFormat12h = "12h"
	TimeFormat24h = "24h"
)

// Match modes for TypeConfig.MatchMode.
const (
	MatchContains = "contains"
	MatchRegex    = "regex"
)

const defaultVersion = "1.0"

// Template is a named, versioned processing configuration. A loaded
// Template is shared through the Loader cache and must not be modified.
type Template struct {
	Name      string              `json:"name"`
	Version   string              `json:"version"`
	Extends   string              `json:"extends,omitempty"`
	Settings  Settings            `json:"settings"`
	Locations map[string]Location `json:"locations"`
	Defaults  Defaults            `json:"defaults"`
	Types     map[string]TypeConfig

	// declaration order of Types as read from JSON
	order []string
}

type Settings struct {
	TimeFormat string `json:"time_format"`
}

// Location is a named place events can reference by id.
type Location struct {
	Address    string     `json:"address,omitempty"`
	Geo        *model.Geo `json:"geo,omitempty"`
	AppleTitle string     `json:"apple_title,omitempty"`
}

type Defaults struct {
	Location    string            `json:"location,omitempty"`
	Consolidate ConsolidateSpec   `json:"consolidate"`
	Overnight   OvernightSpec     `json:"overnight"`
	TimePeriods map[string]Period `json:"time_periods"`
}

// TypeConfig describes one event type. Zero-valued fields are "not set" and
// resolve against Defaults.
type TypeConfig struct {
	Match       Patterns          `json:"match"`
	MatchMode   string            `json:"match_mode,omitempty"`
	Label       string            `json:"label,omitempty"`
	Location    string            `json:"location,omitempty"`
	Consolidate ConsolidateSpec   `json:"consolidate"`
	Overnight   OvernightSpec     `json:"overnight"`
	TimePeriods map[string]Period `json:"time_periods,omitempty"`
}

// Patterns is a match list that may be written as a single string.
type Patterns []string

func (p *Patterns) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = Patterns{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("match: want string or list of strings: %w", err)
	}
	*p = list
	return nil
}

// Period is a named time window, written as ["HHMM", "HHMM"].
type Period struct {
	Start model.Clock
	End   model.Clock
}

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]model.Clock{p.Start, p.End})
}

func (p *Period) UnmarshalJSON(b []byte) error {
	var pair []model.Clock
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("time period: %w", err)
	}
	if len(pair) != 2 || !pair[0].IsSet() || !pair[1].IsSet() {
		return fmt.Errorf("time period: want [\"HHMM\", \"HHMM\"], got %s", b)
	}
	p.Start, p.End = pair[0], pair[1]
	return nil
}

// DefaultTimePeriods are used when a template does not declare any.
func DefaultTimePeriods() map[string]Period {
	return map[string]Period{
		"AM": {Start: model.At(8, 0), End: model.At(12, 0)},
		"PM": {Start: model.At(13, 0), End: model.At(17, 0)},
	}
}

// Fallback is the no-intervention template used when none is configured:
// nothing is consolidated and overnight events are kept as they are.
func Fallback() *Template {
	return &Template{
		Name:      "default_fallback",
		Version:   defaultVersion,
		Settings:  Settings{TimeFormat: TimeFormat12h},
		Locations: map[string]Location{},
		Defaults: Defaults{
			Consolidate: ConsolidateOff(),
			Overnight:   OvernightAs(OvernightKeep),
			TimePeriods: map[string]Period{},
		},
		Types: map[string]TypeConfig{},
	}
}

// Parse decodes a single template file without resolving extends.
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// TypeNames returns type names in declaration order. Templates built in
// code without a recorded order fall back to sorted names.
func (t *Template) TypeNames() []string {
	if len(t.order) == len(t.Types) {
		ok := true
		for _, n := range t.order {
			if _, found := t.Types[n]; !found {
				ok = false
				break
			}
		}
		if ok {
			return slices.Clone(t.order)
		}
	}
	names := make([]string, 0, len(t.Types))
	for n := range t.Types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Type looks up a type config by exact name, then lower-cased.
func (t *Template) Type(name string) (TypeConfig, bool) {
	if name == "" {
		return TypeConfig{}, false
	}
	if tc, ok := t.Types[name]; ok {
		return tc, true
	}
	tc, ok := t.Types[strings.ToLower(name)]
	return tc, ok
}

// Consolidate resolves the consolidation rule for a type config.
func (t *Template) Consolidate(tc TypeConfig) (*ConsolidateConfig, error) {
	return ResolveConsolidate(tc.Consolidate, t.Defaults)
}

// Overnight resolves the overnight rule for a type config.
func (t *Template) Overnight(tc TypeConfig) (OvernightConfig, error) {
	return ResolveOvernight(tc.Overnight, t.Defaults)
}

// LocationRef returns the location id a type assigns, or the default.
func (t *Template) LocationRef(tc TypeConfig) string {
	if tc.Location != "" {
		return tc.Location
	}
	return t.Defaults.Location
}

// normalize fills in the documented defaults for unset fields.
func (t *Template) normalize() {
	if t.Version == "" {
		t.Version = defaultVersion
	}
	if t.Settings.TimeFormat == "" {
		t.Settings.TimeFormat = TimeFormat12h
	}
	if t.Locations == nil {
		t.Locations = map[string]Location{}
	}
	if !t.Defaults.Consolidate.IsSet() {
		t.Defaults.Consolidate = ConsolidateBy(GroupByTitle)
	}
	if !t.Defaults.Overnight.IsSet() {
		t.Defaults.Overnight = OvernightAs(OvernightSplit)
	}
	if t.Defaults.TimePeriods == nil {
		t.Defaults.TimePeriods = DefaultTimePeriods()
	}
	if t.Types == nil {
		t.Types = map[string]TypeConfig{}
	}
	for name, tc := range t.Types {
		if tc.MatchMode == "" {
			tc.MatchMode = MatchContains
			t.Types[name] = tc
		}
	}
}

// Validate checks settings and resolves every type's rules so that broken
// configuration surfaces at load time.
func (t *Template) Validate() error {
	switch t.Settings.TimeFormat {
	case "", TimeFormat12h, TimeFormat24h:
	default:
		return &ConfigError{Template: t.Name, Field: "settings.time_format",
			Err: fmt.Errorf("unknown time format %q", t.Settings.TimeFormat)}
	}
	if _, err := ResolveConsolidate(t.Defaults.Consolidate, Defaults{}); err != nil {
		return &ConfigError{Template: t.Name, Field: "defaults.consolidate", Err: err}
	}
	if _, err := ResolveOvernight(t.Defaults.Overnight, Defaults{}); err != nil {
		return &ConfigError{Template: t.Name, Field: "defaults.overnight", Err: err}
	}
	for _, name := range t.TypeNames() {
		tc := t.Types[name]
		field := "types." + name
		if len(tc.Match) == 0 {
			return &ConfigError{Template: t.Name, Field: field + ".match", Err: fmt.Errorf("at least one pattern is required")}
		}
		switch tc.MatchMode {
		case "", MatchContains, MatchRegex:
		default:
			return &ConfigError{Template: t.Name, Field: field + ".match_mode",
				Err: fmt.Errorf("unknown match mode %q", tc.MatchMode)}
		}
		if _, err := t.Consolidate(tc); err != nil {
			return &ConfigError{Template: t.Name, Field: field + ".consolidate", Err: err}
		}
		if _, err := t.Overnight(tc); err != nil {
			return &ConfigError{Template: t.Name, Field: field + ".overnight", Err: err}
		}
	}
	if _, err := NewMatcher(t); err != nil {
		return err
	}
	return nil
}

type templateJSON struct {
	Name      string              `json:"name"`
	Version   string              `json:"version"`
	Extends   string              `json:"extends,omitempty"`
	Settings  Settings            `json:"settings"`
	Locations map[string]Location `json:"locations"`
	Defaults  Defaults            `json:"defaults"`
	Types     json.RawMessage     `json:"types"`
}

func (t *Template) UnmarshalJSON(b []byte) error {
	var raw templateJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = Template{
		Name:      raw.Name,
		Version:   raw.Version,
		Extends:   raw.Extends,
		Settings:  raw.Settings,
		Locations: raw.Locations,
		Defaults:  raw.Defaults,
	}
	if len(raw.Types) == 0 || bytes.Equal(bytes.TrimSpace(raw.Types), []byte("null")) {
		return nil
	}
	types, order, err := decodeOrderedTypes(raw.Types)
	if err != nil {
		return err
	}
	t.Types, t.order = types, order
	return nil
}

// MarshalJSON writes types in declaration order.
func (t *Template) MarshalJSON() ([]byte, error) {
	var types bytes.Buffer
	types.WriteByte('{')
	for i, name := range t.TypeNames() {
		if i > 0 {
			types.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(t.Types[name])
		if err != nil {
			return nil, err
		}
		types.Write(k)
		types.WriteByte(':')
		types.Write(v)
	}
	types.WriteByte('}')
	return json.Marshal(templateJSON{
		Name:      t.Name,
		Version:   t.Version,
		Extends:   t.Extends,
		Settings:  t.Settings,
		Locations: t.Locations,
		Defaults:  t.Defaults,
		Types:     types.Bytes(),
	})
}

type typeConfigJSON struct {
	Match       Patterns          `json:"match"`
	MatchMode   string            `json:"match_mode,omitempty"`
	Label       string            `json:"label,omitempty"`
	Location    string            `json:"location,omitempty"`
	Consolidate *ConsolidateSpec  `json:"consolidate,omitempty"`
	Overnight   *OvernightSpec    `json:"overnight,omitempty"`
	TimePeriods map[string]Period `json:"time_periods,omitempty"`
}

// MarshalJSON omits unset consolidate/overnight rules.
func (tc TypeConfig) MarshalJSON() ([]byte, error) {
	out := typeConfigJSON{
		Match:       tc.Match,
		MatchMode:   tc.MatchMode,
		Label:       tc.Label,
		Location:    tc.Location,
		TimePeriods: tc.TimePeriods,
	}
	if tc.Consolidate.IsSet() {
		out.Consolidate = &tc.Consolidate
	}
	if tc.Overnight.IsSet() {
		out.Overnight = &tc.Overnight
	}
	return json.Marshal(out)
}

// decodeOrderedTypes decodes the "types" object keeping key order.
func decodeOrderedTypes(b []byte) (map[string]TypeConfig, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("types: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("types: want object")
	}
	types := make(map[string]TypeConfig)
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("types: %w", err)
		}
		name, _ := tok.(string)
		var tc TypeConfig
		if err := dec.Decode(&tc); err != nil {
			return nil, nil, fmt.Errorf("types.%s: %w", name, err)
		}
		if _, dup := types[name]; !dup {
			order = append(order, name)
		}
		types[name] = tc
	}
	return types, order, nil
}
