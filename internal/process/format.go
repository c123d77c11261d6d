package process

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"schedcal/internal/model"
	"schedcal/internal/template"
)

// TimeRangeSeparator joins the two ends of a formatted time range.
const TimeRangeSeparator = " to "

// FormatClock renders c as "5:00 PM" (12h) or "17:00" (24h). An unset
// clock renders as "".
func FormatClock(c model.Clock, format string) string {
	if !c.IsSet() {
		return ""
	}
	h, m := c.Hour(), c.Minute()
	if format == template.TimeFormat24h {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	period := "AM"
	if h >= 12 {
		period = "PM"
	}
	switch {
	case h == 0:
		h = 12
	case h > 12:
		h -= 12
	}
	return fmt.Sprintf("%d:%02d %s", h, m, period)
}

func FormatTimeRange(start, end model.Clock, format string) string {
	return FormatClock(start, format) + TimeRangeSeparator + FormatClock(end, format)
}

// FormatTitle expands {title}, {label}, {start}, {end} and {time_range} in
// format. Time variables are empty unless both start and end are set.
func FormatTitle(format string, e model.Event, settings template.Settings) string {
	var start, end, timeRange string
	if e.Start.IsSet() && e.End.IsSet() {
		start = FormatClock(e.Start, settings.TimeFormat)
		end = FormatClock(e.End, settings.TimeFormat)
		timeRange = start + TimeRangeSeparator + end
	}
	label := ""
	if e.Label != "" {
		// a Caser holds state, so each call gets its own
		label = cases.Title(language.Und).String(e.Label)
	}
	r := strings.NewReplacer(
		"{title}", e.Title,
		"{label}", label,
		"{start}", start,
		"{end}", end,
		"{time_range}", timeRange,
	)
	return r.Replace(format)
}
