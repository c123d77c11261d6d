package process

import (
	"slices"

	"schedcal/internal/model"
	"schedcal/internal/template"
)

// markerStart is where the day portion of a mixed stretch is taken
// to end; overnight markers are titled from here to the original end time.
var markerStart = model.At(17, 0)

// Consolidation is the output of Consolidate. Overnight holds the original
// overnight events of mixed stretches, in date order per group; callers turn
// them into markers with OvernightMarkers.
type Consolidation struct {
	Events    []model.Event
	Overnight []model.Event
}

// Consolidate merges runs of date-consecutive events within each group.
// A nil cfg disables consolidation and returns events unchanged.
func Consolidate(events []model.Event, cfg *template.ConsolidateConfig, overnight template.OvernightConfig) Consolidation {
	if cfg == nil {
		return Consolidation{Events: slices.Clone(events)}
	}

	var out Consolidation
	for _, group := range groupBy(events, groupKey(cfg.GroupBy)) {
		if cfg.PatternAware {
			c := consolidatePatternAware(group, *cfg, overnight)
			out.Events = append(out.Events, c.Events...)
			out.Overnight = append(out.Overnight, c.Overnight...)
			continue
		}
		out.Events = append(out.Events, consolidateSimple(group, *cfg)...)
	}
	return out
}

func groupKey(groupBy string) func(model.Event) string {
	if groupBy == template.GroupByLabel {
		return func(e model.Event) string { return e.Label }
	}
	return func(e model.Event) string { return e.Title }
}

// groupBy partitions events by key in first-appearance order.
func groupBy(events []model.Event, key func(model.Event) string) [][]model.Event {
	index := make(map[string]int)
	var groups [][]model.Event
	for _, e := range events {
		k := key(e)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}
	return groups
}

// byDate keeps one event per date (the last one in date-stable order wins)
// and returns the distinct dates ascending.
func byDate(events []model.Event) (map[model.Date]model.Event, []model.Date) {
	sorted := slices.Clone(events)
	model.SortByDate(sorted)
	m := make(map[model.Date]model.Event, len(sorted))
	dates := make([]model.Date, 0, len(sorted))
	for _, e := range sorted {
		if _, seen := m[e.Date]; !seen {
			dates = append(dates, e.Date)
		}
		m[e.Date] = e
	}
	return m, dates
}

// ConsecutiveStretches splits sorted distinct dates into maximal runs of
// consecutive days.
func ConsecutiveStretches(dates []model.Date) [][]model.Date {
	if len(dates) == 0 {
		return nil
	}
	var stretches [][]model.Date
	cur := []model.Date{dates[0]}
	for _, d := range dates[1:] {
		if cur[len(cur)-1].DaysUntil(d) == 1 {
			cur = append(cur, d)
			continue
		}
		stretches = append(stretches, cur)
		cur = []model.Date{d}
	}
	return append(stretches, cur)
}

func consolidateSimple(events []model.Event, cfg template.ConsolidateConfig) []model.Event {
	if len(events) == 0 {
		return nil
	}
	m, dates := byDate(events)
	var out []model.Event
	for _, stretch := range ConsecutiveStretches(dates) {
		run := make([]model.Event, len(stretch))
		for i, d := range stretch {
			run[i] = m[d]
		}
		if (cfg.OnlyAllDay && !allAllDay(run)) || (cfg.RequireSameTimes && !sameTimes(run)) {
			out = append(out, run...)
			continue
		}
		if len(run) == 1 {
			out = append(out, run[0])
			continue
		}
		out = append(out, run[0].WithEndDate(stretch[len(stretch)-1]))
	}
	return out
}

func allAllDay(run []model.Event) bool {
	for _, e := range run {
		if !e.IsAllDay() {
			return false
		}
	}
	return true
}

func sameTimes(run []model.Event) bool {
	for _, e := range run[1:] {
		if e.Start != run[0].Start || e.End != run[0].End {
			return false
		}
	}
	return true
}

// allDayCopies drops the times of every event. A span that is already
// multi-day keeps its EndDate; an overnight shift stays on its start date.
func allDayCopies(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	for i, e := range events {
		if IsOvernight(e) {
			out[i] = e.AllDay()
			continue
		}
		out[i] = e.WithTimes(model.Clock{}, model.Clock{})
	}
	return out
}

func consolidatePatternAware(events []model.Event, cfg template.ConsolidateConfig, overnight template.OvernightConfig) Consolidation {
	var out Consolidation
	if len(events) == 0 {
		return out
	}
	toAllDay := overnight.As == template.OvernightAllDay
	m, dates := byDate(events)
	for _, stretch := range ConsecutiveStretches(dates) {
		run := make([]model.Event, len(stretch))
		for i, d := range stretch {
			run[i] = m[d]
		}

		switch DetectPattern(run) {
		case PatternUniform24h:
			first := run[0]
			if toAllDay {
				first = first.AllDay()
			}
			if len(stretch) > 1 {
				first = first.WithEndDate(stretch[len(stretch)-1])
			}
			out.Events = append(out.Events, first)
		case PatternUniformDay:
			if toAllDay {
				run = allDayCopies(run)
			}
			out.Events = append(out.Events, consolidateSimple(run, cfg)...)
		default:
			for _, e := range run {
				if IsOvernight(e) {
					out.Overnight = append(out.Overnight, e)
				}
			}
			out.Events = append(out.Events, consolidateSimple(allDayCopies(run), cfg)...)
		}
	}
	return out
}

// OvernightMarkers builds one all-day event per recorded overnight original
// when the policy is all_day, titled with the time range from
// markerStart to the original end. Other policies produce none.
func OvernightMarkers(originals []model.Event, cfg template.OvernightConfig, settings template.Settings) []model.Event {
	if cfg.As != template.OvernightAllDay {
		return nil
	}
	markers := make([]model.Event, 0, len(originals))
	for _, e := range originals {
		shown := e.WithTimes(markerStart, e.End)
		markers = append(markers, e.AllDay().WithTitle(FormatTitle(cfg.Format, shown, settings)))
	}
	return markers
}
