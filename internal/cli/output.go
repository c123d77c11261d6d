package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"schedcal/internal/diff"
	"schedcal/internal/model"
	"schedcal/internal/store"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes tab-separated rows aligned into columns.
func table(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func timeRange(e model.Event) string {
	switch {
	case e.IsAllDay():
		return "all day"
	case !e.End.IsSet():
		return e.Start.String() + "-"
	case !e.Start.IsSet():
		return "-" + e.End.String()
	}
	return e.Start.String() + "-" + e.End.String()
}

func dateRange(e model.Event) string {
	if e.IsMultiDay() {
		return e.Date.String() + ".." + e.EndDate.String()
	}
	return e.Date.String()
}

func location(e model.Event) string {
	if e.LocationID != "" {
		return "@" + e.LocationID
	}
	return e.Location
}

func eventRow(e model.Event) []string {
	return []string{dateRange(e), timeRange(e), e.Title, e.Type, location(e)}
}

var eventHeaders = []string{"DATE", "TIME", "TITLE", "TYPE", "LOCATION"}

func printEvents(w io.Writer, events []model.Event) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "no events")
		return err
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, eventRow(e))
	}
	return table(w, eventHeaders, rows)
}

// printDiff lists added, removed and modified events, one per line.
func printDiff(w io.Writer, d diff.Result) error {
	if d.Empty() {
		_, err := fmt.Fprintln(w, "no changes")
		return err
	}
	rows := make([][]string, 0, len(d.Added)+len(d.Removed)+len(d.Modified))
	for _, e := range d.Added {
		rows = append(rows, append([]string{"+"}, eventRow(e)...))
	}
	for _, e := range d.Removed {
		rows = append(rows, append([]string{"-"}, eventRow(e)...))
	}
	for _, c := range d.Modified {
		row := append([]string{"~"}, eventRow(c.New)...)
		row[len(row)-1] += " (" + strings.Join(c.Fields(), ",") + ")"
		rows = append(rows, row)
	}
	if err := table(w, append([]string{""}, eventHeaders...), rows); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, d.String())
	return err
}

func printCalendars(w io.Writer, infos []store.Info) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "no calendars")
		return err
	}
	rows := make([][]string, 0, len(infos))
	for _, c := range infos {
		rows = append(rows, []string{
			c.Name,
			strconv.Itoa(c.LatestVersion),
			strconv.Itoa(c.EventCount),
			c.TemplateName,
			c.RevisedDate.String(),
			c.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return table(w, []string{"NAME", "VERSION", "EVENTS", "TEMPLATE", "REVISED", "UPDATED"}, rows)
}

func printVersions(w io.Writer, versions []store.Version) error {
	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		rows = append(rows, []string{
			strconv.Itoa(v.Number),
			v.CreatedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(v.EventCount),
			v.RevisedDate.String(),
			v.Note,
		})
	}
	return table(w, []string{"VERSION", "CREATED", "EVENTS", "REVISED", "NOTE"}, rows)
}
