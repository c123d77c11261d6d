package model

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Calendar is a list of events plus the revision date printed on the source
// schedule, if any.
type Calendar struct {
	Events      []Event `json:"events"`
	RevisedDate Date    `json:"revised_date"`
}

// Years returns the distinct start years of the events, ascending.
func (c Calendar) Years() []int {
	return EventYears(c.Events)
}

// EventYears returns the distinct start years of events, ascending.
func EventYears(events []Event) []int {
	seen := make(map[int]struct{})
	years := make([]int, 0)
	for _, e := range events {
		if _, ok := seen[e.Date.Year]; ok {
			continue
		}
		seen[e.Date.Year] = struct{}{}
		years = append(years, e.Date.Year)
	}
	slices.Sort(years)
	return years
}

// DecodeEvents accepts either {"events": [...], ...} or a bare JSON list.
func DecodeEvents(data []byte) (Calendar, error) {
	var cal Calendar
	trimmed := firstNonSpace(data)
	switch trimmed {
	case '[':
		if err := json.Unmarshal(data, &cal.Events); err != nil {
			return Calendar{}, fmt.Errorf("decode event list: %w", err)
		}
	case '{':
		if err := json.Unmarshal(data, &cal); err != nil {
			return Calendar{}, fmt.Errorf("decode calendar: %w", err)
		}
	default:
		return Calendar{}, fmt.Errorf("decode calendar: expected JSON object or list")
	}
	if cal.Events == nil {
		cal.Events = []Event{}
	}
	return cal, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
