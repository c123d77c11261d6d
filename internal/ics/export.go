package ics

import (
	"fmt"
	"io"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"schedcal/internal/model"
	"schedcal/internal/template"
)

const (
	productID         = "-//schedcal//EN"
	appleRadiusMeters = "49"

	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
)

// uidNamespace scopes the name-based UIDs generated for exported events.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://schedcal.invalid/events"))

// MissingLocationError reports an event whose location_id is not defined
// in the template used for export.
type MissingLocationError struct {
	ID       string
	Template string
	Event    model.Event
}

func (e *MissingLocationError) Error() string {
	return fmt.Sprintf("location %q (event %q on %s) is not defined in template %q",
		e.ID, e.Event.Title, e.Event.Date, e.Template)
}

// ExportOptions controls calendar-level properties.
type ExportOptions struct {
	// Name is used for X-WR-CALNAME; "Calendar" when empty.
	Name string
	// TZID, when set, is attached to timed DTSTART/DTEND values. Otherwise
	// times are written floating.
	TZID string
	// Now stamps DTSTAMP; time.Now when nil.
	Now func() time.Time
}

// Export writes cal as an iCalendar document. location_id references are
// resolved against tpl; a nil tpl only allows events without references.
func Export(w io.Writer, cal model.Calendar, tpl *template.Template, opts ExportOptions) error {
	doc, err := Build(cal, tpl, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, doc.Serialize())
	return err
}

// Build assembles the iCalendar document without serializing it.
func Build(cal model.Calendar, tpl *template.Template, opts ExportOptions) (*ical.Calendar, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	name := opts.Name
	if name == "" {
		name = "Calendar"
	}
	stamp := now().UTC()

	doc := ical.NewCalendar()
	doc.SetProductId(productID)
	doc.SetVersion("2.0")
	if !cal.RevisedDate.IsZero() {
		doc.SetXWRCalName(fmt.Sprintf("%s (Revised %s)", name, cal.RevisedDate))
	} else {
		doc.SetXWRCalName(name)
	}

	seen := make(map[string]int)
	for _, e := range cal.Events {
		loc, err := resolveLocation(e, tpl)
		if err != nil {
			return nil, err
		}

		key := eventKey(e)
		seen[key]++
		uid := uuid.NewSHA1(uidNamespace, []byte(key+"#"+strconv.Itoa(seen[key]))).String()

		ve := doc.AddEvent(uid)
		ve.SetDtStampTime(stamp)
		ve.SetProperty(ical.ComponentPropertySummary, escapeText(e.Title))
		setTimes(ve, e, opts.TZID)
		setLocation(ve, loc)
	}
	return doc, nil
}

func eventKey(e model.Event) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", e.Date, e.Title, e.Start.HHMM(), e.End.HHMM(), e.EndDate)
}

func setTimes(ve *ical.VEvent, e model.Event, tzid string) {
	dateParam := &ical.KeyValues{Key: "VALUE", Value: []string{"DATE"}}
	var timeParams []ical.PropertyParameter
	if tzid != "" {
		timeParams = append(timeParams, &ical.KeyValues{Key: "TZID", Value: []string{tzid}})
	}
	formatAt := func(d model.Date, c model.Clock) string {
		return c.On(d, time.UTC).Format(dateTimeLayout)
	}

	switch {
	case e.Start.IsSet() && e.End.IsSet():
		last := e.Date
		if e.IsMultiDay() {
			last = e.EndDate
		}
		ve.SetProperty(ical.ComponentPropertyDtStart, formatAt(e.Date, e.Start), timeParams...)
		ve.SetProperty(ical.ComponentPropertyDtEnd, formatAt(last, e.End), timeParams...)
	case e.Start.IsSet():
		// evening half of a split shift: Start to midnight
		ve.SetProperty(ical.ComponentPropertyDtStart, formatAt(e.Date, e.Start), timeParams...)
		ve.SetProperty(ical.ComponentPropertyDtEnd, formatAt(e.Date.AddDays(1), model.At(0, 0)), timeParams...)
	case e.End.IsSet():
		// morning half of a split shift: midnight to End
		ve.SetProperty(ical.ComponentPropertyDtStart, formatAt(e.Date, model.At(0, 0)), timeParams...)
		ve.SetProperty(ical.ComponentPropertyDtEnd, formatAt(e.Date, e.End), timeParams...)
	default:
		ve.SetProperty(ical.ComponentPropertyDtStart, e.Date.Time().Format(dateLayout), dateParam)
		ve.SetProperty(ical.ComponentPropertyDtEnd, e.LastDate().AddDays(1).Time().Format(dateLayout), dateParam)
	}
}

type resolvedLocation struct {
	address    string
	geo        *model.Geo
	appleTitle string
}

func resolveLocation(e model.Event, tpl *template.Template) (resolvedLocation, error) {
	if e.LocationID == "" {
		return resolvedLocation{address: e.Location, geo: e.LocationGeo, appleTitle: e.LocationAppleTitle}, nil
	}
	tplName := ""
	if tpl != nil {
		tplName = tpl.Name
		if loc, ok := tpl.Locations[e.LocationID]; ok {
			return resolvedLocation{address: loc.Address, geo: loc.Geo, appleTitle: loc.AppleTitle}, nil
		}
	}
	return resolvedLocation{}, &MissingLocationError{ID: e.LocationID, Template: tplName, Event: e}
}

func setLocation(ve *ical.VEvent, loc resolvedLocation) {
	if loc.address == "" && loc.appleTitle == "" {
		return
	}
	text := loc.address
	if loc.appleTitle != "" && loc.address != "" {
		text = loc.appleTitle + "\n" + loc.address
	} else if loc.address == "" {
		text = loc.appleTitle
	}
	ve.SetProperty(ical.ComponentPropertyLocation, escapeText(text))

	if loc.geo == nil {
		return
	}
	lat := strconv.FormatFloat(loc.geo.Lat, 'f', -1, 64)
	lon := strconv.FormatFloat(loc.geo.Lon, 'f', -1, 64)
	ve.SetProperty(ical.ComponentPropertyGeo, lat+";"+lon)

	title := loc.appleTitle
	if title == "" {
		title = loc.address
	}
	ve.SetProperty(PropertyAppleLocation, "geo:"+lat+","+lon,
		&ical.KeyValues{Key: "VALUE", Value: []string{"URI"}},
		&ical.KeyValues{Key: "X-ADDRESS", Value: []string{loc.address}},
		&ical.KeyValues{Key: "X-APPLE-RADIUS", Value: []string{appleRadiusMeters}},
		&ical.KeyValues{Key: "X-TITLE", Value: []string{title}},
	)
}
