package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// PropertyAppleLocation carries the structured location Apple clients show.
const PropertyAppleLocation ical.ComponentProperty = "X-APPLE-STRUCTURED-LOCATION"

// ParsedEvent is a VEVENT as read from an ICS payload, before recurrence
// expansion. Times are wall clock values in Location.
type ParsedEvent struct {
	UID string
	Seq int

	Summary    string
	Location   string
	Geo        *model.Geo
	AppleTitle string

	Start  time.Time
	End    time.Time
	HasEnd bool
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time
	IsOverride bool
}

// ParseICS parses an ICS payload. Floating times and times with an unknown
// TZID are read in loc (UTC when nil). Events without SUMMARY or DTSTART are
// skipped with a log line.
func ParseICS(body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	events := make([]ParsedEvent, 0)
	for i, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, loc)
		if perr != nil {
			appLog.Warn("skipping vevent", "index", i, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}
	appLog.Debug("ics parse completed", "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}
	if out.Summary == "" {
		return out, errors.New("missing SUMMARY")
	}

	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
		// "<apple title>\n<address>" written by Export: keep the address.
		if _, addr, ok := strings.Cut(out.Location, "\n"); ok {
			out.Location = addr
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyGeo); p != nil {
		if g, err := parseGeo(p.Value); err == nil {
			out.Geo = g
		} else {
			appLog.Warn("ignoring malformed GEO", "value", p.Value, "uid", out.UID)
		}
	}
	if p := ve.GetProperty(PropertyAppleLocation); p != nil {
		if vs := p.ICalParameters["X-TITLE"]; len(vs) > 0 {
			out.AppleTitle = strings.Trim(vs[0], `"`)
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parsePropTime(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start, out.AllDay = start, allDay

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && dtEnd.Value != "" {
		end, _, err := parsePropTime(dtEnd.Value, dtEnd.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End, out.HasEnd = end, true
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := parsePropTime(part, p.ICalParameters, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, _, err := parsePropTime(p.Value, p.ICalParameters, loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}
	return out, nil
}

// parsePropTime parses a DATE or DATE-TIME value honoring VALUE and TZID
// parameters. UTC values are converted to loc so the wall clock matches
// what the calendar displays.
func parsePropTime(v string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	isDate := !strings.Contains(v, "T")
	if vs := params["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}
	if isDate {
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t.In(loc), false, err
	}
	in := loc
	if tz := params["TZID"]; len(tz) > 0 {
		if l, err := time.LoadLocation(strings.Trim(tz[0], `"`)); err == nil {
			in = l
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, in)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.In(loc), false, nil
}

func parseGeo(v string) (*model.Geo, error) {
	latS, lonS, ok := strings.Cut(v, ";")
	if !ok {
		return nil, fmt.Errorf("geo %q: want lat;lon", v)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return nil, err
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil {
		return nil, err
	}
	return &model.Geo{Lat: lat, Lon: lon}, nil
}

var (
	textEscaper   = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)
	textUnescaper = strings.NewReplacer(`\\`, `\`, `\;`, ";", `\,`, ",", `\n`, "\n", `\N`, "\n")
)

func escapeText(s string) string   { return textEscaper.Replace(s) }
func unescapeText(s string) string { return textUnescaper.Replace(s) }
