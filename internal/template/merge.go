package template

import "maps"

// merge overlays ext onto a resolved base and returns a new template.
// Set fields of ext win; time periods, locations and types merge per key.
func merge(base, ext *Template) *Template {
	out := &Template{
		Name:      base.Name,
		Version:   base.Version,
		Settings:  base.Settings,
		Locations: maps.Clone(base.Locations),
		Defaults:  base.Defaults,
		Types:     make(map[string]TypeConfig, len(base.Types)+len(ext.Types)),
		order:     base.TypeNames(),
	}
	out.Defaults.TimePeriods = maps.Clone(base.Defaults.TimePeriods)
	if out.Locations == nil {
		out.Locations = map[string]Location{}
	}
	if ext.Name != "" {
		out.Name = ext.Name
	}
	if ext.Version != "" {
		out.Version = ext.Version
	}
	if ext.Settings.TimeFormat != "" {
		out.Settings.TimeFormat = ext.Settings.TimeFormat
	}
	maps.Copy(out.Locations, ext.Locations)

	if ext.Defaults.Location != "" {
		out.Defaults.Location = ext.Defaults.Location
	}
	if ext.Defaults.Consolidate.IsSet() {
		out.Defaults.Consolidate = ext.Defaults.Consolidate
	}
	if ext.Defaults.Overnight.IsSet() {
		out.Defaults.Overnight = ext.Defaults.Overnight
	}
	if len(ext.Defaults.TimePeriods) > 0 {
		if out.Defaults.TimePeriods == nil {
			out.Defaults.TimePeriods = map[string]Period{}
		}
		maps.Copy(out.Defaults.TimePeriods, ext.Defaults.TimePeriods)
	}

	maps.Copy(out.Types, base.Types)
	for _, name := range ext.TypeNames() {
		tc := ext.Types[name]
		if prev, ok := out.Types[name]; ok {
			out.Types[name] = overlayType(prev, tc)
			continue
		}
		out.Types[name] = tc
		out.order = append(out.order, name)
	}
	return out
}

func overlayType(base, ext TypeConfig) TypeConfig {
	if len(ext.Match) > 0 {
		base.Match = ext.Match
	}
	if ext.MatchMode != "" {
		base.MatchMode = ext.MatchMode
	}
	if ext.Label != "" {
		base.Label = ext.Label
	}
	if ext.Location != "" {
		base.Location = ext.Location
	}
	if ext.Consolidate.IsSet() {
		base.Consolidate = ext.Consolidate
	}
	if ext.Overnight.IsSet() {
		base.Overnight = ext.Overnight
	}
	if ext.TimePeriods != nil {
		base.TimePeriods = ext.TimePeriods
	}
	return base
}
