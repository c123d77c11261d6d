package ics

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/model"
	"schedcal/internal/template"
)

var fixedNow = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) }

func testTemplate() *template.Template {
	return &template.Template{
		Name: "work",
		Locations: map[string]template.Location{
			"clinic": {Address: "1 Main St", Geo: &model.Geo{Lat: 51.06, Lon: -114.13}, AppleTitle: "Clinic"},
		},
	}
}

func exportString(t *testing.T, cal model.Calendar, tpl *template.Template) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, cal, tpl, ExportOptions{Name: "Work", Now: fixedNow}))
	return buf.String()
}

func TestExportAllDayAndTimed(t *testing.T) {
	cal := model.Calendar{
		RevisedDate: model.MustDate("2025-01-10"),
		Events: []model.Event{
			{Title: "Vacation", Date: model.MustDate("2025-01-01")},
			{Title: "Call", Date: model.MustDate("2025-01-02"), EndDate: model.MustDate("2025-01-04")},
			{Title: "Clinic", Date: model.MustDate("2025-01-05"), Start: model.At(8, 0), End: model.At(12, 0)},
			{Title: "Night", Date: model.MustDate("2025-01-06"), Start: model.At(17, 0), End: model.At(8, 0), EndDate: model.MustDate("2025-01-07")},
		},
	}
	out := exportString(t, cal, nil)

	assert.Contains(t, out, "X-WR-CALNAME:Work (Revised 2025-01-10)")
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20250101")
	assert.Contains(t, out, "DTEND;VALUE=DATE:20250102")
	assert.Contains(t, out, "DTEND;VALUE=DATE:20250105", "multi-day all-day end is exclusive")
	assert.Contains(t, out, "DTSTART:20250105T080000")
	assert.Contains(t, out, "DTEND:20250105T120000")
	assert.Contains(t, out, "DTSTART:20250106T170000")
	assert.Contains(t, out, "DTEND:20250107T080000")
	assert.Equal(t, 4, strings.Count(out, "BEGIN:VEVENT"))
}

func TestExportUIDsAreStable(t *testing.T) {
	cal := model.Calendar{Events: []model.Event{
		{Title: "Vacation", Date: model.MustDate("2025-01-01")},
		{Title: "Vacation", Date: model.MustDate("2025-01-01")},
	}}
	a := exportString(t, cal, nil)
	b := exportString(t, cal, nil)
	assert.Equal(t, a, b)

	doc, err := Build(cal, nil, ExportOptions{Now: fixedNow})
	require.NoError(t, err)
	events := doc.Events()
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].Id(), events[1].Id(), "duplicates get distinct UIDs")
}

func TestExportResolvesLocationID(t *testing.T) {
	cal := model.Calendar{Events: []model.Event{
		{Title: "Clinic", Date: model.MustDate("2025-01-01"), LocationID: "clinic"},
	}}
	out := exportString(t, cal, testTemplate())
	assert.Contains(t, out, "GEO:51.06;-114.13")

	doc, err := Build(cal, testTemplate(), ExportOptions{Now: fixedNow})
	require.NoError(t, err)
	apple := doc.Events()[0].GetProperty(PropertyAppleLocation)
	require.NotNil(t, apple)
	assert.Equal(t, "geo:51.06,-114.13", apple.Value)
	assert.Equal(t, []string{"49"}, apple.ICalParameters["X-APPLE-RADIUS"])

	events, err := Import([]byte(out), time.UTC, ExpandConfig{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "1 Main St", events[0].Location)
	assert.Equal(t, "Clinic", events[0].LocationAppleTitle)
	require.NotNil(t, events[0].LocationGeo)
	assert.InDelta(t, 51.06, events[0].LocationGeo.Lat, 1e-9)
}

func TestExportMissingLocation(t *testing.T) {
	cal := model.Calendar{Events: []model.Event{
		{Title: "Clinic", Date: model.MustDate("2025-01-01"), LocationID: "hospital"},
	}}
	var buf bytes.Buffer
	err := Export(&buf, cal, testTemplate(), ExportOptions{})
	var missing *MissingLocationError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "hospital", missing.ID)
	assert.Equal(t, "work", missing.Template)
	assert.Contains(t, err.Error(), "hospital")
	assert.Contains(t, err.Error(), "work")
}

func TestRoundTrip(t *testing.T) {
	events := []model.Event{
		{Title: "Vacation", Date: model.MustDate("2025-01-01"), EndDate: model.MustDate("2025-01-03")},
		{Title: "Clinic", Date: model.MustDate("2025-01-05"), Start: model.At(8, 0), End: model.At(12, 0)},
		{Title: "Night", Date: model.MustDate("2025-01-06"), Start: model.At(17, 0), End: model.At(8, 0), EndDate: model.MustDate("2025-01-07")},
		{Title: "Admin", Date: model.MustDate("2025-01-08")},
	}
	out := exportString(t, model.Calendar{Events: events}, nil)
	back, err := Import([]byte(out), time.UTC, ExpandConfig{})
	require.NoError(t, err)
	require.Len(t, back, len(events))
	for i := range events {
		assert.True(t, events[i].Equal(back[i]), "event %d: want %+v got %+v", i, events[i], back[i])
	}
}

func TestSplitShiftHalvesRoundTrip(t *testing.T) {
	halves := []model.Event{
		{Title: "Night", Date: model.MustDate("2025-01-01"), Start: model.At(17, 0)},
		{Title: "Night", Date: model.MustDate("2025-01-02"), End: model.At(8, 0)},
	}
	out := exportString(t, model.Calendar{Events: halves}, nil)
	assert.Contains(t, out, "DTSTART:20250101T170000")
	assert.Contains(t, out, "DTEND:20250102T000000", "evening half ends at midnight")
	assert.Contains(t, out, "DTSTART:20250102T000000")
	assert.Contains(t, out, "DTEND:20250102T080000")

	back, err := Import([]byte(out), time.UTC, ExpandConfig{})
	require.NoError(t, err)
	require.Len(t, back, 2)
	for i := range halves {
		assert.True(t, halves[i].Equal(back[i]), "half %d: want %+v got %+v", i, halves[i], back[i])
	}
}

func TestImportKeepsFullDayTimedEvent(t *testing.T) {
	body := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:1\r\nSUMMARY:Call\r\nDTSTART:20250103T000000\r\nDTEND:20250104T000000\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	events, err := Import([]byte(body), time.UTC, ExpandConfig{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.At(0, 0), events[0].Start)
	assert.Equal(t, model.At(0, 0), events[0].End)
	assert.Equal(t, model.MustDate("2025-01-04"), events[0].EndDate)
}

const recurringICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-1\r\n" +
	"SUMMARY:Clinic\r\n" +
	"DTSTART:20250106T080000\r\n" +
	"DTEND:20250106T120000\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
	"EXDATE:20250113T080000\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-1\r\n" +
	"RECURRENCE-ID:20250120T080000\r\n" +
	"SUMMARY:Clinic (moved)\r\n" +
	"DTSTART:20250120T130000\r\n" +
	"DTEND:20250120T170000\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:no-summary\r\n" +
	"DTSTART;VALUE=DATE:20250101\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestImportExpandsRecurrence(t *testing.T) {
	events, err := Import([]byte(recurringICS), time.UTC, ExpandConfig{})
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, model.MustDate("2025-01-06"), events[0].Date)
	assert.Equal(t, model.At(8, 0), events[0].Start)
	assert.Equal(t, "Clinic (moved)", events[1].Title)
	assert.Equal(t, model.At(13, 0), events[1].Start)
	assert.Equal(t, model.MustDate("2025-01-27"), events[2].Date)
}

func TestExpandWindowAndCap(t *testing.T) {
	parsed, err := ParseICS([]byte(recurringICS), time.UTC)
	require.NoError(t, err)

	res, err := Expand(parsed, ExpandConfig{
		RangeStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)

	res, err = Expand(parsed, ExpandConfig{MaxOccurrencesPerEvent: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"weekly-1"}, res.TruncatedEvents)

	_, err = Expand(parsed, ExpandConfig{
		RangeStart: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}

func TestParseEmptyBody(t *testing.T) {
	events, err := ParseICS([]byte("  \n"), nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFetcherUsesETagAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		switch {
		case n == 1:
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte(recurringICS))
		case r.Header.Get("If-None-Match") == `"v1"` && n == 2:
			w.WriteHeader(http.StatusNotModified)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	ctx := context.Background()
	url := srv.URL + "/feed.ics?token=secret"

	first, err := f.Fetch(ctx, url)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.Fetch(ctx, url)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)

	third, err := f.Fetch(ctx, url)
	require.NoError(t, err, "server error falls back to cache")
	assert.True(t, third.FromCache)

	_, err = NewFetcher(t.TempDir(), srv.Client()).Fetch(ctx, url)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}
