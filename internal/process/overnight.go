package process

import (
	"schedcal/internal/model"
	"schedcal/internal/template"
)

// IsOvernight reports whether a timed event crosses midnight: both times
// are set and start >= end. Stored multi-day spans are model.Event.IsMultiDay.
func IsOvernight(e model.Event) bool {
	return e.Start.IsSet() && e.End.IsSet() && e.Start.Compare(e.End) >= 0
}

// TransformOvernight applies the overnight policy to every overnight event.
// Other events pass through unchanged.
func TransformOvernight(events []model.Event, cfg template.OvernightConfig, settings template.Settings) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		if !IsOvernight(e) {
			out = append(out, e)
			continue
		}
		switch cfg.As {
		case template.OvernightKeep:
			if e.EndDate.IsZero() {
				e = e.WithEndDate(e.Date.AddDays(1))
			}
			out = append(out, e)
		case template.OvernightSplit:
			out = append(out, splitAtMidnight(e)...)
		case template.OvernightAllDay:
			out = append(out, e.AllDay().WithTitle(FormatTitle(cfg.Format, e, settings)))
		default:
			out = append(out, e)
		}
	}
	return out
}

// splitAtMidnight returns the evening part (start to midnight) and the
// morning part (midnight to end) of an overnight event.
func splitAtMidnight(e model.Event) []model.Event {
	next := e.EndDate
	if next.IsZero() {
		next = e.Date.AddDays(1)
	}
	evening := e.WithTimes(e.Start, model.Clock{}).WithEndDate(model.Date{})
	morning := e.WithDate(next).WithTimes(model.Clock{}, e.End).WithEndDate(model.Date{})
	return []model.Event{evening, morning}
}
