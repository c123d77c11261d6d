package model

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Geo is a latitude/longitude pair, encoded in JSON as [lat, lon].
type Geo struct {
	Lat float64
	Lon float64
}

func (g Geo) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{g.Lat, g.Lon})
}

func (g *Geo) UnmarshalJSON(b []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("geo must be [lat, lon]: %w", err)
	}
	g.Lat, g.Lon = pair[0], pair[1]
	return nil
}

// Event is one schedulable item. It is a value type: the With* helpers
// return modified copies and never touch the receiver.
//
// Empty strings mean "absent". Start/End unset means all-day. EndDate is
// only set for events spanning several calendar days.
type Event struct {
	Title   string `json:"title"`
	Date    Date   `json:"date"`
	Start   Clock  `json:"start"`
	End     Clock  `json:"end"`
	EndDate Date   `json:"end_date"`

	// Location and LocationID are mutually exclusive. LocationID refers to
	// a template location and is resolved at export time.
	Location           string `json:"location,omitempty"`
	LocationID         string `json:"location_id,omitempty"`
	LocationGeo        *Geo   `json:"location_geo,omitempty"`
	LocationAppleTitle string `json:"location_apple_title,omitempty"`

	Type  string `json:"type,omitempty"`
	Label string `json:"label,omitempty"`
}

// IsAllDay reports whether the event has no start and no end time.
func (e Event) IsAllDay() bool { return !e.Start.IsSet() && !e.End.IsSet() }

// IsMultiDay reports whether the event already spans calendar days
// (EndDate after Date). This is unrelated to a timed shift crossing
// midnight, see process.IsOvernight.
func (e Event) IsMultiDay() bool { return !e.EndDate.IsZero() && e.EndDate.After(e.Date) }

// LastDate returns EndDate when set, otherwise Date.
func (e Event) LastDate() Date {
	if e.EndDate.IsZero() {
		return e.Date
	}
	return e.EndDate
}

func (e Event) WithTitle(title string) Event {
	e.Title = title
	return e
}

func (e Event) WithDate(d Date) Event {
	e.Date = d
	return e
}

func (e Event) WithTimes(start, end Clock) Event {
	e.Start, e.End = start, end
	return e
}

func (e Event) WithEndDate(d Date) Event {
	e.EndDate = d
	return e
}

// AllDay returns a single-day all-day copy: times and EndDate cleared.
func (e Event) AllDay() Event {
	e.Start, e.End = Clock{}, Clock{}
	e.EndDate = Date{}
	return e
}

func (e Event) WithLocationID(id string) Event {
	e.LocationID = id
	return e
}

// Equal compares every stored field. Derived predicates are not state and
// are not compared.
func (e Event) Equal(o Event) bool {
	if e.LocationGeo == nil || o.LocationGeo == nil {
		if e.LocationGeo != o.LocationGeo {
			return false
		}
	} else if *e.LocationGeo != *o.LocationGeo {
		return false
	}
	a, b := e, o
	a.LocationGeo, b.LocationGeo = nil, nil
	return a == b
}

// Validate checks the record invariants.
func (e Event) Validate() error {
	if e.Title == "" {
		return &ValidationError{Field: "title", Msg: "must not be empty", Date: e.Date}
	}
	if e.Date.IsZero() {
		return &ValidationError{Field: "date", Msg: "is required", Title: e.Title}
	}
	if !e.EndDate.IsZero() && e.EndDate.Before(e.Date) {
		return &ValidationError{
			Field: "end_date",
			Title: e.Title,
			Date:  e.Date,
			Msg:   fmt.Sprintf("%s is before date %s", e.EndDate, e.Date),
		}
	}
	if e.Location != "" && e.LocationID != "" {
		return &ValidationError{
			Field: "location",
			Title: e.Title,
			Date:  e.Date,
			Msg:   fmt.Sprintf("%q conflicts with location_id %q", e.Location, e.LocationID),
		}
	}
	return nil
}

// ValidationError reports an event that violates a record invariant.
type ValidationError struct {
	Field string
	Title string
	Date  Date
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Title == "" {
		return fmt.Sprintf("invalid event on %s: %s %s", e.Date, e.Field, e.Msg)
	}
	return fmt.Sprintf("invalid event %q on %s: %s %s", e.Title, e.Date, e.Field, e.Msg)
}

// ValidateAll returns the first validation error in events.
func ValidateAll(events []Event) error {
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SortByDate stably sorts events by Date only, in place.
func SortByDate(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int { return a.Date.Compare(b.Date) })
}

// SortByDateTime returns a copy sorted by date, then start time (all-day first).
func SortByDateTime(events []Event) []Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b Event) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return a.Start.Compare(b.Start)
	})
	return out
}
