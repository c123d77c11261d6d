package process

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/model"
	"schedcal/internal/template"
)

var (
	d = model.MustDate
	c = model.MustClock
)

func timed(title, date, start, end string) model.Event {
	return model.Event{Title: title, Date: d(date), Start: c(start), End: c(end)}
}

func allDay(title, date string) model.Event {
	return model.Event{Title: title, Date: d(date)}
}

func typed(e model.Event, typ, label string) model.Event {
	e.Type, e.Label = typ, label
	return e
}

func onCallTemplate() *template.Template {
	return &template.Template{
		Name:     "oncall",
		Settings: template.Settings{TimeFormat: template.TimeFormat12h},
		Locations: map[string]template.Location{
			"hospital": {Address: "9 Elm St"},
		},
		Defaults: template.Defaults{
			Consolidate: template.ConsolidateBy(template.GroupByTitle),
			Overnight:   template.OvernightAs(template.OvernightSplit),
		},
		Types: map[string]template.TypeConfig{
			"on_call": {
				Match:    template.Patterns{"on call"},
				Location: "hospital",
				Consolidate: template.ConsolidateWith(template.ConsolidateConfig{
					GroupBy: template.GroupByTitle, PatternAware: true,
				}),
				Overnight: template.OvernightAs(template.OvernightAllDay),
			},
		},
	}
}

// assertDateRanges checks that no event ends before it starts.
func assertDateRanges(t *testing.T, events []model.Event) {
	t.Helper()
	for _, e := range events {
		assert.False(t, e.LastDate().Before(e.Date), "%s on %s ends %s", e.Title, e.Date, e.EndDate)
	}
}

// assertStable runs processed output through p again and expects it back
// unchanged.
func assertStable(t *testing.T, p *Processor, events []model.Event) {
	t.Helper()
	again, err := p.Process(events)
	require.NoError(t, err)
	require.Len(t, again.Events, len(events))
	for i := range events {
		assert.True(t, events[i].Equal(again.Events[i]), "event %d: want %+v got %+v", i, events[i], again.Events[i])
	}
}

func titles(events []model.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Title
	}
	return out
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		clock  string
		format string
		want   string
	}{
		{"0000", template.TimeFormat12h, "12:00 AM"},
		{"0005", template.TimeFormat12h, "12:05 AM"},
		{"0800", template.TimeFormat12h, "8:00 AM"},
		{"1200", template.TimeFormat12h, "12:00 PM"},
		{"1730", template.TimeFormat12h, "5:30 PM"},
		{"1730", template.TimeFormat24h, "17:30"},
		{"0800", template.TimeFormat24h, "08:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatClock(c(tt.clock), tt.format), tt.clock+" "+tt.format)
	}
	assert.Equal(t, "", FormatClock(model.Clock{}, template.TimeFormat12h))
	assert.Equal(t, "5:00 PM to 8:00 AM", FormatTimeRange(c("1700"), c("0800"), template.TimeFormat12h))
}

func TestFormatTitle(t *testing.T) {
	settings := template.Settings{TimeFormat: template.TimeFormat12h}
	e := typed(timed("On call", "2025-01-01", "1700", "0800"), "on_call", "PRIMARY")

	assert.Equal(t, "On call 5:00 PM to 8:00 AM", FormatTitle(template.DefaultOvernightFormat, e, settings))
	assert.Equal(t, "Primary (5:00 PM-8:00 AM)", FormatTitle("{label} ({start}-{end})", e, settings))

	noTimes := e.AllDay()
	assert.Equal(t, "On call ", FormatTitle(template.DefaultOvernightFormat, noTimes, settings))

	noLabel := e
	noLabel.Label = ""
	assert.Equal(t, " call", FormatTitle("{label} call", noLabel, settings))
}

func TestIsOvernightAndPattern(t *testing.T) {
	assert.True(t, IsOvernight(timed("x", "2025-01-01", "1700", "0800")))
	assert.True(t, IsOvernight(timed("x", "2025-01-01", "0800", "0800")))
	assert.False(t, IsOvernight(timed("x", "2025-01-01", "0800", "1700")))
	assert.False(t, IsOvernight(allDay("x", "2025-01-01")))

	multi := allDay("x", "2025-01-01").WithEndDate(d("2025-01-03"))
	assert.True(t, multi.IsMultiDay())
	assert.False(t, IsOvernight(multi), "stored span is not a timed overnight")

	assert.Equal(t, PatternUniformDay, DetectPattern(nil))
	assert.Equal(t, PatternUniform24h, DetectPattern([]model.Event{timed("x", "2025-01-01", "0800", "0800")}))
	assert.Equal(t, PatternMixed, DetectPattern([]model.Event{
		timed("x", "2025-01-01", "0800", "0800"),
		timed("x", "2025-01-02", "0800", "1700"),
	}))
}

func TestTransformOvernightSplit(t *testing.T) {
	e := timed("Night", "2025-01-01", "1700", "0800")
	e.LocationID = "hospital"
	out := TransformOvernight([]model.Event{e}, template.OvernightConfig{As: template.OvernightSplit}, template.Settings{})
	require.Len(t, out, 2)

	assert.Equal(t, d("2025-01-01"), out[0].Date)
	assert.Equal(t, c("1700"), out[0].Start)
	assert.False(t, out[0].End.IsSet())

	assert.Equal(t, d("2025-01-02"), out[1].Date)
	assert.False(t, out[1].Start.IsSet())
	assert.Equal(t, c("0800"), out[1].End)

	for _, part := range out {
		assert.Equal(t, "Night", part.Title)
		assert.Equal(t, "hospital", part.LocationID)
		assert.True(t, part.EndDate.IsZero())
	}
}

func TestTransformOvernightSplitUsesEndDate(t *testing.T) {
	e := timed("Night", "2025-01-01", "1700", "0800").WithEndDate(d("2025-01-03"))
	out := TransformOvernight([]model.Event{e}, template.OvernightConfig{As: template.OvernightSplit}, template.Settings{})
	require.Len(t, out, 2)
	assert.Equal(t, d("2025-01-03"), out[1].Date)
}

func TestTransformOvernightKeepAndAllDay(t *testing.T) {
	night := timed("Night", "2025-01-01", "1700", "0800")
	day := timed("Clinic", "2025-01-01", "0800", "1200")
	set := night.WithEndDate(d("2025-01-05"))

	kept := TransformOvernight([]model.Event{night, day, set}, template.OvernightConfig{As: template.OvernightKeep}, template.Settings{})
	require.Len(t, kept, 3)
	assert.Equal(t, d("2025-01-02"), kept[0].EndDate)
	assert.Equal(t, c("1700"), kept[0].Start)
	assert.Equal(t, day, kept[1])
	assert.Equal(t, d("2025-01-05"), kept[2].EndDate)

	cfg := template.OvernightConfig{As: template.OvernightAllDay, Format: template.DefaultOvernightFormat}
	folded := TransformOvernight([]model.Event{night, day}, cfg, template.Settings{TimeFormat: template.TimeFormat24h})
	require.Len(t, folded, 2)
	assert.True(t, folded[0].IsAllDay())
	assert.Equal(t, "Night 17:00 to 08:00", folded[0].Title)
	assert.Equal(t, day, folded[1])
}

func TestConsecutiveStretches(t *testing.T) {
	got := ConsecutiveStretches([]model.Date{d("2024-12-31"), d("2025-01-01"), d("2025-01-03")})
	assert.Equal(t, [][]model.Date{{d("2024-12-31"), d("2025-01-01")}, {d("2025-01-03")}}, got)
	assert.Nil(t, ConsecutiveStretches(nil))
}

func TestConsolidateSimple(t *testing.T) {
	cfg := &template.ConsolidateConfig{GroupBy: template.GroupByTitle}
	events := []model.Event{
		allDay("Vacation", "2025-01-03"),
		allDay("Vacation", "2025-01-01"),
		allDay("Clinic", "2025-01-01"),
		allDay("Vacation", "2025-01-02"),
		allDay("Vacation", "2025-01-05"),
	}
	got := Consolidate(events, cfg, template.OvernightConfig{}).Events
	require.Len(t, got, 3)
	assert.Equal(t, "Vacation", got[0].Title)
	assert.Equal(t, d("2025-01-01"), got[0].Date)
	assert.Equal(t, d("2025-01-03"), got[0].EndDate)
	assert.Equal(t, d("2025-01-05"), got[1].Date)
	assert.True(t, got[1].EndDate.IsZero())
	assert.Equal(t, "Clinic", got[2].Title)
}

func TestConsolidateKeepsFirstTimesAndDedupesDates(t *testing.T) {
	cfg := &template.ConsolidateConfig{GroupBy: template.GroupByTitle}
	events := []model.Event{
		timed("Clinic", "2025-01-01", "0800", "1200"),
		timed("Clinic", "2025-01-01", "0900", "1300"),
		timed("Clinic", "2025-01-02", "1300", "1700"),
	}
	got := Consolidate(events, cfg, template.OvernightConfig{}).Events
	require.Len(t, got, 1)
	assert.Equal(t, c("0900"), got[0].Start, "last event on a date wins")
	assert.Equal(t, c("1300"), got[0].End)
	assert.Equal(t, d("2025-01-02"), got[0].EndDate)
}

func TestConsolidateGuards(t *testing.T) {
	events := []model.Event{
		timed("Clinic", "2025-01-01", "0800", "1200"),
		timed("Clinic", "2025-01-02", "1300", "1700"),
	}
	onlyAllDay := &template.ConsolidateConfig{GroupBy: template.GroupByTitle, OnlyAllDay: true}
	assert.Len(t, Consolidate(events, onlyAllDay, template.OvernightConfig{}).Events, 2)

	sameTimes := &template.ConsolidateConfig{GroupBy: template.GroupByTitle, RequireSameTimes: true}
	assert.Len(t, Consolidate(events, sameTimes, template.OvernightConfig{}).Events, 2)

	events[1] = events[1].WithTimes(c("0800"), c("1200"))
	assert.Len(t, Consolidate(events, sameTimes, template.OvernightConfig{}).Events, 1)

	assert.Equal(t, events, Consolidate(events, nil, template.OvernightConfig{}).Events)
}

func TestConsolidateByLabel(t *testing.T) {
	cfg := &template.ConsolidateConfig{GroupBy: template.GroupByLabel}
	events := []model.Event{
		typed(allDay("Primary call", "2025-01-01"), "on_call", "primary"),
		typed(allDay("Primary on call", "2025-01-02"), "on_call", "primary"),
		typed(allDay("Backup call", "2025-01-02"), "on_call", "backup"),
	}
	got := Consolidate(events, cfg, template.OvernightConfig{}).Events
	require.Len(t, got, 2)
	assert.Equal(t, "Primary call", got[0].Title)
	assert.Equal(t, d("2025-01-02"), got[0].EndDate)
	assert.Equal(t, "backup", got[1].Label)
}

func TestPatternAwareUniform24h(t *testing.T) {
	cfg := &template.ConsolidateConfig{GroupBy: template.GroupByTitle, PatternAware: true}
	events := []model.Event{
		timed("Call", "2025-01-01", "0800", "0800"),
		timed("Call", "2025-01-02", "0800", "0800"),
		timed("Call", "2025-01-03", "0800", "0800"),
	}

	keep := Consolidate(events, cfg, template.OvernightConfig{As: template.OvernightKeep})
	require.Len(t, keep.Events, 1)
	assert.Equal(t, c("0800"), keep.Events[0].Start)
	assert.Equal(t, d("2025-01-03"), keep.Events[0].EndDate)
	assert.Empty(t, keep.Overnight)

	folded := Consolidate(events, cfg, template.OvernightConfig{As: template.OvernightAllDay})
	require.Len(t, folded.Events, 1)
	assert.True(t, folded.Events[0].IsAllDay())
	assert.Equal(t, d("2025-01-03"), folded.Events[0].EndDate)
}

func TestPatternAwareUniformDayAllDayCopies(t *testing.T) {
	cfg := &template.ConsolidateConfig{GroupBy: template.GroupByTitle, PatternAware: true}
	events := []model.Event{
		timed("Clinic", "2025-01-01", "0800", "1700"),
		timed("Clinic", "2025-01-02", "0800", "1700"),
	}
	folded := Consolidate(events, cfg, template.OvernightConfig{As: template.OvernightAllDay}).Events
	require.Len(t, folded, 1)
	assert.True(t, folded[0].IsAllDay())

	split := Consolidate(events, cfg, template.OvernightConfig{As: template.OvernightSplit}).Events
	require.Len(t, split, 1)
	assert.Equal(t, c("0800"), split[0].Start)
	assert.Equal(t, d("2025-01-02"), split[0].EndDate)
}

func TestOvernightMarkersOnlyForAllDay(t *testing.T) {
	orig := []model.Event{typed(timed("Call", "2025-01-01", "0800", "0800"), "on_call", "")}
	settings := template.Settings{TimeFormat: template.TimeFormat12h}

	assert.Empty(t, OvernightMarkers(orig, template.OvernightConfig{As: template.OvernightSplit}, settings))

	markers := OvernightMarkers(orig, template.OvernightConfig{As: template.OvernightAllDay, Format: "{title} {time_range}"}, settings)
	require.Len(t, markers, 1)
	assert.Equal(t, "Call 5:00 PM to 8:00 AM", markers[0].Title)
	assert.True(t, markers[0].IsAllDay())
	assert.Equal(t, "on_call", markers[0].Type)
}

func TestProcessMixedOnCallStretch(t *testing.T) {
	events := []model.Event{
		typed(timed("Primary on call", "2025-01-01", "0800", "0800"), "on_call", ""),
		typed(timed("Primary on call", "2025-01-02", "0800", "1700"), "on_call", ""),
		typed(timed("Primary on call", "2025-01-03", "0800", "0800"), "on_call", ""),
		typed(timed("Primary on call", "2025-01-04", "0800", "1700"), "on_call", ""),
	}
	p := New(onCallTemplate())
	res, err := p.Process(events)
	require.NoError(t, err)
	require.Len(t, res.Events, 3)
	assertDateRanges(t, res.Events)
	assertStable(t, p, res.Events)

	span := res.Events[0]
	assert.Equal(t, "Primary on call", span.Title)
	assert.True(t, span.IsAllDay())
	assert.Equal(t, d("2025-01-01"), span.Date)
	assert.Equal(t, d("2025-01-04"), span.EndDate)

	assert.Equal(t, "Primary on call 5:00 PM to 8:00 AM", res.Events[1].Title)
	assert.Equal(t, d("2025-01-01"), res.Events[1].Date)
	assert.Equal(t, "Primary on call 5:00 PM to 8:00 AM", res.Events[2].Title)
	assert.Equal(t, d("2025-01-03"), res.Events[2].Date)

	for _, e := range res.Events {
		assert.Equal(t, "hospital", e.LocationID)
	}
	assert.Equal(t, 4, res.Summary.InputCounts["on_call"])
	assert.Equal(t, 3, res.Summary.OutputCounts["on_call"])
	assert.Empty(t, res.Warnings)
}

func TestProcessGapDoesNotMerge(t *testing.T) {
	events := []model.Event{
		typed(timed("Primary on call", "2025-01-01", "0800", "1700"), "on_call", ""),
		typed(timed("Primary on call", "2025-01-03", "0800", "1700"), "on_call", ""),
	}
	p := New(onCallTemplate())
	res, err := p.Process(events)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assertDateRanges(t, res.Events)
	assertStable(t, p, res.Events)
	for _, e := range res.Events {
		assert.True(t, e.EndDate.IsZero())
	}
}

func TestProcessSplitsOvernightOnDefaults(t *testing.T) {
	tpl := onCallTemplate()
	tpl.Defaults.Consolidate = template.ConsolidateOff()
	p := New(tpl)
	res, err := p.Process([]model.Event{timed("Late shift", "2025-01-01", "1700", "0800")})
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assertDateRanges(t, res.Events)
	assertStable(t, p, res.Events)
	assert.Equal(t, c("1700"), res.Events[0].Start)
	assert.False(t, res.Events[0].End.IsSet())
	assert.Equal(t, d("2025-01-02"), res.Events[1].Date)
	assert.Equal(t, c("0800"), res.Events[1].End)
	assert.Equal(t, 1, res.Summary.InputCounts[OtherType])
	assert.Equal(t, 2, res.Summary.OutputCounts[OtherType])
}

func TestProcessMissingDefaultLocationWarns(t *testing.T) {
	tpl := onCallTemplate()
	tpl.Defaults.Location = "clinic"
	res, err := New(tpl).Process([]model.Event{allDay("Admin", "2025-01-01")})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assertDateRanges(t, res.Events)
	assert.Empty(t, res.Events[0].LocationID)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "clinic")
}

func TestConsolidateIsIdempotent(t *testing.T) {
	simple := &template.ConsolidateConfig{GroupBy: template.GroupByTitle}
	aware := &template.ConsolidateConfig{GroupBy: template.GroupByTitle, PatternAware: true}
	allDayPolicy := template.OvernightConfig{As: template.OvernightAllDay}

	cases := []struct {
		name      string
		cfg       *template.ConsolidateConfig
		overnight template.OvernightConfig
		events    []model.Event
	}{
		{"simple", simple, template.OvernightConfig{}, []model.Event{
			allDay("Vacation", "2025-01-01"),
			allDay("Vacation", "2025-01-02"),
			allDay("Vacation", "2025-01-05"),
			timed("Clinic", "2025-01-01", "0800", "1200"),
			timed("Clinic", "2025-01-02", "0800", "1200"),
		}},
		{"uniform day folded", aware, allDayPolicy, []model.Event{
			timed("Clinic", "2025-01-01", "0800", "1700"),
			timed("Clinic", "2025-01-02", "0800", "1700"),
			timed("Clinic", "2025-01-03", "0800", "1700"),
		}},
		{"uniform 24h kept", aware, template.OvernightConfig{As: template.OvernightKeep}, []model.Event{
			timed("Call", "2025-01-01", "0800", "0800"),
			timed("Call", "2025-01-02", "0800", "0800"),
		}},
		{"mixed", aware, allDayPolicy, []model.Event{
			timed("Call", "2025-01-01", "0800", "0800"),
			timed("Call", "2025-01-02", "0800", "1700"),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			once := Consolidate(tc.events, tc.cfg, tc.overnight).Events
			require.NotEmpty(t, once)
			assertDateRanges(t, once)
			twice := Consolidate(once, tc.cfg, tc.overnight).Events
			assert.Equal(t, once, twice)
		})
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	p := New(onCallTemplate())
	events := []model.Event{
		allDay("Vacation", "2025-01-06"),
		allDay("Vacation", "2025-01-07"),
		allDay("Vacation", "2025-01-08"),
		typed(timed("On call", "2025-01-01", "0800", "1700"), "on_call", ""),
		typed(timed("On call", "2025-01-02", "0800", "1700"), "on_call", ""),
	}
	res, err := p.Process(events)
	require.NoError(t, err)
	assertDateRanges(t, res.Events)
	assertStable(t, p, res.Events)
}

func TestFormatTitleConcurrent(t *testing.T) {
	settings := template.Settings{TimeFormat: template.TimeFormat12h}
	e := typed(timed("On call", "2025-01-01", "1700", "0800"), "on_call", "primary")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.Equal(t, "Primary 5:00 PM to 8:00 AM", FormatTitle("{label} {time_range}", e, settings))
			}
		}()
	}
	wg.Wait()
}

func TestAssignLocationsFirstWriteWins(t *testing.T) {
	locs := map[string]template.Location{"clinic": {}}
	withLoc := allDay("A", "2025-01-01")
	withLoc.Location = "Elsewhere"
	withID := allDay("B", "2025-01-01").WithLocationID("hospital")
	bare := allDay("C", "2025-01-01")

	out, warning := AssignLocations([]model.Event{withLoc, withID, bare}, "clinic", locs)
	assert.Empty(t, warning)
	assert.Empty(t, out[0].LocationID)
	assert.Equal(t, "hospital", out[1].LocationID)
	assert.Equal(t, "clinic", out[2].LocationID)
	assert.Empty(t, bare.LocationID)

	same, _ := AssignLocations([]model.Event{bare}, "", locs)
	assert.Equal(t, []model.Event{bare}, same)
}

func TestProcessTypeLookupLowercase(t *testing.T) {
	events := []model.Event{
		typed(timed("Call", "2025-01-01", "0800", "0800"), "ON_CALL", ""),
		typed(timed("Call", "2025-01-02", "0800", "0800"), "ON_CALL", ""),
	}
	res, err := New(onCallTemplate()).Process(events)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.True(t, res.Events[0].IsAllDay())
	assert.Equal(t, d("2025-01-02"), res.Events[0].EndDate)
}

func TestProcessSortsStablyByDate(t *testing.T) {
	tpl := template.Fallback()
	events := []model.Event{
		allDay("B", "2025-01-02"),
		typed(allDay("A", "2025-01-01"), "clinic", ""),
		allDay("C", "2025-01-01"),
	}
	res, err := New(tpl).Process(events)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, titles(res.Events))
}

func TestProcessRejectsInvalidEvents(t *testing.T) {
	bad := allDay("X", "2025-01-02").WithEndDate(d("2025-01-01"))
	_, err := New(nil).Process([]model.Event{bad})
	var verr *model.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestProcessFailsWholeCallOnBrokenGroup(t *testing.T) {
	tpl := onCallTemplate()
	tpl.Types["broken"] = template.TypeConfig{Match: template.Patterns{"x"}, Consolidate: template.ConsolidateBy("color")}
	events := []model.Event{
		typed(allDay("Call", "2025-01-01"), "on_call", ""),
		typed(allDay("X", "2025-01-01"), "broken", ""),
	}
	res, err := New(tpl).Process(events)
	var cerr *template.ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "types.broken.consolidate", cerr.Field)
	assert.Empty(t, res.Events)
}

func TestProcessEmpty(t *testing.T) {
	res, err := New(nil).Process(nil)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Equal(t, 0, res.Summary.OutputTotal)
}

func TestProcessDoesNotMutateInput(t *testing.T) {
	events := []model.Event{
		typed(timed("Call", "2025-01-02", "0800", "0800"), "on_call", ""),
		typed(timed("Call", "2025-01-01", "0800", "0800"), "on_call", ""),
	}
	before := append([]model.Event(nil), events...)
	_, err := New(onCallTemplate()).Process(events)
	require.NoError(t, err)
	assert.Equal(t, before, events)
}
