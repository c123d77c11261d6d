// Package stats summarizes a calendar: counts per type and year, and
// coverage measured in booked half days (AM/PM split at noon).
package stats

import (
	"fmt"
	"sort"
	"strings"

	"schedcal/internal/model"
	"schedcal/internal/process"
)

var noon = model.At(12, 0)

// Stats is the summary of one calendar, optionally restricted to a year.
type Stats struct {
	TotalEvents int            `json:"total_events"`
	First       model.Date     `json:"first"`
	Last        model.Date     `json:"last"`
	Years       []int          `json:"years"`
	ByType      map[string]int `json:"by_type"`
	ByYear      map[int]int    `json:"by_year"`

	// Coverage ignores events of type "other".
	TotalHalfDays  int            `json:"total_half_days"`
	HalfDaysByWeek map[string]int `json:"half_days_by_week"`
	WeeklyAverage  float64        `json:"weekly_average"`
	ExcludedOther  int            `json:"excluded_other"`
}

type slots struct{ am, pm bool }

// Compute builds Stats for events. year 0 includes every year.
func Compute(events []model.Event, year int) Stats {
	s := Stats{
		Years:          []int{},
		ByType:         make(map[string]int),
		ByYear:         make(map[int]int),
		HalfDaysByWeek: make(map[string]int),
	}
	booked := make(map[model.Date]*slots)

	selected := make([]model.Event, 0, len(events))
	for _, e := range events {
		if year == 0 || e.Date.Year == year {
			selected = append(selected, e)
		}
	}
	s.TotalEvents = len(selected)
	s.Years = model.EventYears(selected)

	for _, e := range selected {
		if s.First.IsZero() || e.Date.Before(s.First) {
			s.First = e.Date
		}
		if s.Last.IsZero() || e.Date.After(s.Last) {
			s.Last = e.Date
		}
		typ := strings.ToLower(e.Type)
		if typ == "" {
			typ = process.OtherType
		}
		s.ByType[typ]++
		s.ByYear[e.Date.Year]++

		if typ == process.OtherType {
			s.ExcludedOther++
			continue
		}
		markHalfDays(booked, e)
	}

	for d, sl := range booked {
		n := 0
		if sl.am {
			n++
		}
		if sl.pm {
			n++
		}
		y, w := d.ISOWeek()
		s.HalfDaysByWeek[fmt.Sprintf("%d-W%02d", y, w)] += n
		s.TotalHalfDays += n
	}
	if len(s.HalfDaysByWeek) > 0 {
		s.WeeklyAverage = float64(s.TotalHalfDays) / float64(len(s.HalfDaysByWeek))
	}
	return s
}

// Weeks returns the ISO week keys with coverage, ascending.
func (s Stats) Weeks() []string {
	out := make([]string, 0, len(s.HalfDaysByWeek))
	for k := range s.HalfDaysByWeek {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Types returns the type keys, ascending.
func (s Stats) Types() []string {
	out := make([]string, 0, len(s.ByType))
	for k := range s.ByType {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DateRange renders "first to last", or "no events".
func (s Stats) DateRange() string {
	if s.TotalEvents == 0 {
		return "no events"
	}
	return fmt.Sprintf("%s to %s", s.First, s.Last)
}

func markHalfDays(booked map[model.Date]*slots, e model.Event) {
	at := func(d model.Date) *slots {
		sl, ok := booked[d]
		if !ok {
			sl = &slots{}
			booked[d] = sl
		}
		return sl
	}
	full := func(from, to model.Date) {
		for d := from; !d.After(to); d = d.AddDays(1) {
			sl := at(d)
			sl.am, sl.pm = true, true
		}
	}

	switch {
	case e.IsMultiDay(), e.IsAllDay():
		full(e.Date, e.LastDate())
	case !e.End.IsSet():
		// open-ended start
		sl := at(e.Date)
		sl.pm = true
		sl.am = sl.am || e.Start.Compare(noon) < 0
	case !e.Start.IsSet():
		// morning half of a split shift
		sl := at(e.Date)
		sl.am = true
		sl.pm = sl.pm || e.End.Compare(noon) > 0
	case process.IsOvernight(e):
		sl := at(e.Date)
		sl.pm = true
		sl.am = sl.am || e.Start.Compare(noon) < 0
		at(e.Date.AddDays(1)).am = true
	case e.End.Compare(noon) <= 0:
		at(e.Date).am = true
	case e.Start.Compare(noon) >= 0:
		at(e.Date).pm = true
	default:
		full(e.Date, e.Date)
	}
}
