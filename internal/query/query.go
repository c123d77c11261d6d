// Package query filters the events of a calendar.
package query

import (
	"strings"

	"schedcal/internal/model"
	"schedcal/internal/process"
)

// Filter combines search criteria with AND. Empty fields match everything.
type Filter struct {
	// Text is a case-insensitive substring of the title.
	Text string
	// Type matches case-insensitively; "other" matches untyped events.
	Type string
	// Location is a case-insensitive substring of Location or LocationID.
	Location string
}

// Query answers date and text questions about a fixed set of events.
// Every result is a new slice sorted by date, then start time.
type Query struct {
	events []model.Event
}

func New(events []model.Event) *Query {
	return &Query{events: events}
}

// All returns every event.
func (q *Query) All() []model.Event {
	return model.SortByDateTime(q.events)
}

// Search returns the events matching f.
func (q *Query) Search(f Filter) []model.Event {
	text := strings.ToLower(f.Text)
	typ := strings.ToLower(f.Type)
	loc := strings.ToLower(f.Location)
	return q.filter(func(e model.Event) bool {
		if text != "" && !strings.Contains(strings.ToLower(e.Title), text) {
			return false
		}
		if typ != "" {
			et := strings.ToLower(e.Type)
			if et == "" {
				et = process.OtherType
			}
			if et != typ {
				return false
			}
		}
		if loc != "" &&
			!strings.Contains(strings.ToLower(e.Location), loc) &&
			!strings.Contains(strings.ToLower(e.LocationID), loc) {
			return false
		}
		return true
	})
}

// OnDate returns events starting on d plus multi-day events covering it.
func (q *Query) OnDate(d model.Date) []model.Event {
	return q.filter(func(e model.Event) bool { return covers(e, d) })
}

// Range returns events starting within [start, end] plus multi-day events
// that began earlier and reach into it.
func (q *Query) Range(start, end model.Date) []model.Event {
	return q.filter(func(e model.Event) bool {
		if !e.Date.Before(start) && !e.Date.After(end) {
			return true
		}
		return e.Date.Before(start) && !e.LastDate().Before(start)
	})
}

// Upcoming returns events in the days days starting at from. days below 1
// yields nothing.
func (q *Query) Upcoming(from model.Date, days int) []model.Event {
	if days < 1 {
		return []model.Event{}
	}
	return q.Range(from, from.AddDays(days-1))
}

// ByYear returns events starting in year.
func (q *Query) ByYear(year int) []model.Event {
	return q.filter(func(e model.Event) bool { return e.Date.Year == year })
}

func (q *Query) filter(keep func(model.Event) bool) []model.Event {
	out := make([]model.Event, 0)
	for _, e := range q.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return model.SortByDateTime(out)
}

func covers(e model.Event, d model.Date) bool {
	if e.Date == d {
		return true
	}
	return e.Date.Before(d) && !e.LastDate().Before(d)
}
