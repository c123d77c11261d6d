package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 1000

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd is the inclusive window for occurrences. When
	// both are zero, recurring events expand over the calendar year of
	// their DTSTART and single events are always kept.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps one RRULE's expansion.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the concrete events and the UIDs whose expansion hit
// the cap.
type ExpandResult struct {
	Events          []model.Event
	TruncatedEvents []string
}

// Expand turns parsed VEVENTs into events, expanding RRULEs with EXDATEs
// and RECURRENCE-ID overrides applied. Output keeps input order, with
// occurrences of a recurring event in time order.
func Expand(parsed []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult
	if !cfg.RangeEnd.IsZero() && cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overrides := make(map[string][]ParsedEvent)
	for _, ev := range parsed {
		if ev.IsOverride && ev.UID != "" {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	result.Events = make([]model.Event, 0, len(parsed))
	for _, ev := range parsed {
		if ev.IsOverride && ev.UID != "" {
			continue
		}
		if ev.RawRRule == "" {
			if inWindow(ev.Start, eventEnd(ev), cfg) {
				result.Events = append(result.Events, toEvent(ev, ev.Start, eventEnd(ev)))
			}
			continue
		}
		events, hitCap := expandRecurring(ev, overrides[ev.UID], cfg)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Warn("expand: occurrences truncated", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		}
		result.Events = append(result.Events, events...)
	}
	return result, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	from, to := cfg.RangeStart, cfg.RangeEnd
	if from.IsZero() && to.IsZero() {
		loc := ev.Start.Location()
		from = time.Date(ev.Start.Year(), time.January, 1, 0, 0, 0, 0, loc)
		to = time.Date(ev.Start.Year(), time.December, 31, 23, 59, 59, 0, loc)
	}
	times := set.Between(from.In(ev.Start.Location()), to.In(ev.Start.Location()), true)

	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := eventEnd(ev).Sub(ev.Start)
	out := make([]model.Event, 0, len(times))
	for _, occStart := range times {
		base, start, end := ev, occStart, occStart.Add(dur)
		if o, ok := findOverride(overrides, occStart); ok {
			base, start, end = o, o.Start, eventEnd(o)
		}
		out = append(out, toEvent(base, start, end))
	}
	return out, hitCap
}

func findOverride(overrides []ParsedEvent, occStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(occStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// eventEnd returns DTEND, or the implied end when it is missing: the next
// day for all-day events, DTSTART for timed ones.
func eventEnd(ev ParsedEvent) time.Time {
	if ev.HasEnd {
		return ev.End
	}
	if ev.AllDay {
		return ev.Start.AddDate(0, 0, 1)
	}
	return ev.Start
}

func inWindow(start, end time.Time, cfg ExpandConfig) bool {
	if cfg.RangeStart.IsZero() && cfg.RangeEnd.IsZero() {
		return true
	}
	if !cfg.RangeStart.IsZero() && end.Before(cfg.RangeStart) {
		return false
	}
	if !cfg.RangeEnd.IsZero() && start.After(cfg.RangeEnd) {
		return false
	}
	return true
}

// toEvent maps one occurrence onto the schedule event model. All-day DTEND
// is exclusive; a timed event ending on a later day gets EndDate. A timed
// event without a duration keeps only its start. Events running up to the
// next midnight keep only their start, and events starting at midnight
// that end the same day keep only their end, matching split shift halves.
func toEvent(ev ParsedEvent, start, end time.Time) model.Event {
	out := model.Event{
		Title:              ev.Summary,
		Date:               model.DateOf(start),
		Location:           ev.Location,
		LocationGeo:        ev.Geo,
		LocationAppleTitle: ev.AppleTitle,
	}
	if ev.AllDay {
		last := model.DateOf(end).AddDays(-1)
		if last.After(out.Date) {
			out.EndDate = last
		}
		return out
	}
	out.Start = model.ClockOf(start)
	if !end.After(start) {
		return out
	}
	midnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	switch {
	case !start.Equal(midnight) && end.Equal(midnight.AddDate(0, 0, 1)):
		return out
	case start.Equal(midnight) && model.DateOf(end) == out.Date:
		out.Start = model.Clock{}
	}
	out.End = model.ClockOf(end)
	if endDate := model.DateOf(end); endDate.After(out.Date) {
		out.EndDate = endDate
	}
	return out
}

// Import parses body and expands it into events in one step.
func Import(body []byte, loc *time.Location, cfg ExpandConfig) ([]model.Event, error) {
	parsed, err := ParseICS(body, loc)
	if err != nil {
		return nil, err
	}
	res, err := Expand(parsed, cfg)
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}
