// Package merge combines a freshly processed event set with a stored one.
package merge

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"schedcal/internal/model"
)

// ErrNoEvents is returned by DetermineYear when there is nothing to infer from.
var ErrNoEvents = errors.New("no events to infer a year from")

// InvalidYearError reports an incoming event outside the year being replaced.
type InvalidYearError struct {
	Got   int
	Want  int
	Event model.Event
}

func (e *InvalidYearError) Error() string {
	return fmt.Sprintf("calendar contains event from year %d, but specified year is %d (%q on %s)",
		e.Got, e.Want, e.Event.Title, e.Event.Date)
}

// AmbiguousYearError reports incoming events spanning several years when no
// explicit year was given.
type AmbiguousYearError struct {
	Years []int
}

func (e *AmbiguousYearError) Error() string {
	parts := make([]string, len(e.Years))
	for i, y := range e.Years {
		parts[i] = strconv.Itoa(y)
	}
	return fmt.Sprintf("events span multiple years (%s); specify the year explicitly", strings.Join(parts, ", "))
}

// ReplaceYear drops every existing event dated in year and appends all of
// incoming. Every incoming event must be dated in year.
func ReplaceYear(existing, incoming []model.Event, year int) ([]model.Event, error) {
	for _, e := range incoming {
		if e.Date.Year != year {
			return nil, &InvalidYearError{Got: e.Date.Year, Want: year, Event: e}
		}
	}
	return ReplaceByYear{Year: year}.Merge(existing, incoming), nil
}

// InferYear returns the single year all events share.
func InferYear(events []model.Event) (int, bool) {
	years := model.EventYears(events)
	if len(years) != 1 {
		return 0, false
	}
	return years[0], true
}

// DetermineYear returns override when positive, otherwise the year inferred
// from events.
func DetermineYear(events []model.Event, override int) (int, error) {
	if override > 0 {
		return override, nil
	}
	if len(events) == 0 {
		return 0, ErrNoEvents
	}
	if y, ok := InferYear(events); ok {
		return y, nil
	}
	return 0, &AmbiguousYearError{Years: model.EventYears(events)}
}

// Strategy combines existing and incoming events. Implementations never
// modify their inputs.
type Strategy interface {
	Merge(existing, incoming []model.Event) []model.Event
	String() string
}

// ReplaceByRange replaces existing events dated within [Start, End].
type ReplaceByRange struct {
	Start model.Date
	End   model.Date
}

func (s ReplaceByRange) Merge(existing, incoming []model.Event) []model.Event {
	out := slices.DeleteFunc(slices.Clone(existing), func(e model.Event) bool {
		return !e.Date.Before(s.Start) && !e.Date.After(s.End)
	})
	return append(out, incoming...)
}

func (s ReplaceByRange) String() string {
	return fmt.Sprintf("replace %s..%s", s.Start, s.End)
}

// ReplaceByYear replaces existing events dated in Year.
type ReplaceByYear struct {
	Year int
}

func (s ReplaceByYear) Range() ReplaceByRange {
	return ReplaceByRange{
		Start: model.NewDate(s.Year, time.January, 1),
		End:   model.NewDate(s.Year, time.December, 31),
	}
}

func (s ReplaceByYear) Merge(existing, incoming []model.Event) []model.Event {
	return s.Range().Merge(existing, incoming)
}

func (s ReplaceByYear) String() string { return fmt.Sprintf("replace year %d", s.Year) }

// Add appends incoming without removing anything.
type Add struct{}

func (Add) Merge(existing, incoming []model.Event) []model.Event {
	return append(slices.Clone(existing), incoming...)
}

func (Add) String() string { return "add" }
