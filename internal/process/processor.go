// Package process turns raw schedule events into normalized calendar events:
// overnight shifts are split or folded, consecutive days are consolidated
// and location references are assigned, all driven by a template.
package process

import (
	"fmt"
	"slices"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/template"
)

// OtherType is the summary key for events without a type.
const OtherType = "other"

// Summary counts events per type (or OtherType) before and after processing.
type Summary struct {
	InputCounts  map[string]int `json:"input_counts"`
	OutputCounts map[string]int `json:"output_counts"`
	InputTotal   int            `json:"input_total"`
	OutputTotal  int            `json:"output_total"`
}

// Result is the output of Processor.Process.
type Result struct {
	Events   []model.Event `json:"events"`
	Summary  Summary       `json:"summary"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Processor applies a template's rules to event lists. It holds no state
// besides the template and is safe for concurrent use.
type Processor struct {
	tpl *template.Template
}

// New returns a Processor for tpl; nil means template.Fallback().
func New(tpl *template.Template) *Processor {
	if tpl == nil {
		tpl = template.Fallback()
	}
	return &Processor{tpl: tpl}
}

func (p *Processor) Template() *template.Template { return p.tpl }

// plan is the resolved configuration for one type group.
type plan struct {
	typeName    string
	configured  bool
	events      []model.Event
	consolidate *template.ConsolidateConfig
	overnight   template.OvernightConfig
	location    string
}

// Process validates events, normalizes them per type and returns them
// stably sorted by date together with a summary. Every group's
// configuration is resolved before any output is produced.
func (p *Processor) Process(events []model.Event) (Result, error) {
	if err := model.ValidateAll(events); err != nil {
		return Result{}, err
	}
	res := Result{Events: []model.Event{}}
	if len(events) == 0 {
		res.Summary = Summarize(nil, nil)
		return res, nil
	}

	plans, err := p.plan(events)
	if err != nil {
		return Result{}, err
	}

	seenWarning := make(map[string]bool)
	for _, pl := range plans {
		out := p.run(pl)
		out, warning := AssignLocations(out, pl.location, p.tpl.Locations)
		if warning != "" && !seenWarning[warning] {
			seenWarning[warning] = true
			res.Warnings = append(res.Warnings, warning)
		}
		appLog.Debug("processed type group", "type", pl.typeName, "configured", pl.configured, "in", len(pl.events), "out", len(out))
		res.Events = append(res.Events, out...)
	}

	model.SortByDate(res.Events)
	res.Summary = Summarize(events, res.Events)
	return res, nil
}

func (p *Processor) plan(events []model.Event) ([]plan, error) {
	index := make(map[string]int)
	var plans []plan
	for _, e := range events {
		i, ok := index[e.Type]
		if !ok {
			i = len(plans)
			index[e.Type] = i
			plans = append(plans, plan{typeName: e.Type})
		}
		plans[i].events = append(plans[i].events, e)
	}

	for i := range plans {
		pl := &plans[i]
		tc, ok := p.tpl.Type(pl.typeName)
		pl.configured = ok
		field := "defaults"
		if ok {
			field = "types." + pl.typeName
		}

		cc, err := p.tpl.Consolidate(tc)
		if err != nil {
			return nil, &template.ConfigError{Template: p.tpl.Name, Field: field + ".consolidate", Err: err}
		}
		ov, err := p.tpl.Overnight(tc)
		if err != nil {
			return nil, &template.ConfigError{Template: p.tpl.Name, Field: field + ".overnight", Err: err}
		}
		pl.consolidate, pl.overnight = cc, ov
		pl.location = p.tpl.LocationRef(tc)
	}
	return plans, nil
}

func (p *Processor) run(pl plan) []model.Event {
	settings := p.tpl.Settings
	if !pl.configured {
		transformed := TransformOvernight(pl.events, pl.overnight, settings)
		return Consolidate(transformed, pl.consolidate, pl.overnight).Events
	}

	c := Consolidate(pl.events, pl.consolidate, pl.overnight)
	if pl.consolidate != nil && pl.consolidate.PatternAware {
		return append(c.Events, OvernightMarkers(c.Overnight, pl.overnight, settings)...)
	}
	return TransformOvernight(c.Events, pl.overnight, settings)
}

// Summarize counts input and output events per type.
func Summarize(in, out []model.Event) Summary {
	return Summary{
		InputCounts:  countByType(in),
		OutputCounts: countByType(out),
		InputTotal:   len(in),
		OutputTotal:  len(out),
	}
}

func countByType(events []model.Event) map[string]int {
	counts := make(map[string]int)
	for _, e := range events {
		key := e.Type
		if key == "" {
			key = OtherType
		}
		counts[key]++
	}
	return counts
}

// Types returns the keys of a count map sorted for display.
func (s Summary) Types() []string {
	keys := make([]string, 0, len(s.InputCounts)+len(s.OutputCounts))
	for k := range s.InputCounts {
		keys = append(keys, k)
	}
	for k := range s.OutputCounts {
		if _, ok := s.InputCounts[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (s Summary) String() string {
	return fmt.Sprintf("%d events -> %d events", s.InputTotal, s.OutputTotal)
}
