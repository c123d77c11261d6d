package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"schedcal/internal/diff"
	"schedcal/internal/model"
	"schedcal/internal/publish"
	"schedcal/internal/query"
	"schedcal/internal/stats"
)

func newDiffCmd(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "diff NAME FROM [TO]",
		Short: "Compare two stored versions of a calendar (TO defaults to latest)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := strconv.Atoi(args[1])
			if err != nil || from < 1 {
				return fmt.Errorf("invalid version %q", args[1])
			}
			to := 0
			if len(args) == 3 {
				if to, err = strconv.Atoi(args[2]); err != nil || to < 1 {
					return fmt.Errorf("invalid version %q", args[2])
				}
			}
			m, err := app.Manager()
			if err != nil {
				return err
			}
			old, err := m.Store().Load(cmd.Context(), args[0], from)
			if err != nil {
				return err
			}
			next, err := m.Store().Load(cmd.Context(), args[0], to)
			if err != nil {
				return err
			}
			d := diff.Compute(old.Calendar.Events, next.Calendar.Events)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), d)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: version %d -> %d\n", args[0], old.Version.Number, next.Version.Number)
			return printDiff(cmd.OutOrStdout(), d)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the diff as JSON")
	return cmd
}

func newVersionsCmd(app *App) *cobra.Command {
	var restore, keep int

	cmd := &cobra.Command{
		Use:   "versions NAME",
		Short: "List, restore or prune the stored versions of a calendar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, name, out := cmd.Context(), args[0], cmd.OutOrStdout()
			m, err := app.Manager()
			if err != nil {
				return err
			}
			if restore > 0 {
				v, err := m.Store().Restore(ctx, name, restore)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "restored version %d of %s as version %d\n", restore, name, v)
			}
			if keep > 0 {
				n, err := m.Store().Prune(ctx, name, keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pruned %d version(s) of %s\n", n, name)
			}
			versions, err := m.Store().Versions(ctx, name)
			if err != nil {
				return err
			}
			return printVersions(out, versions)
		},
	}
	cmd.Flags().IntVar(&restore, "restore", 0, "save an old version's events as a new version")
	cmd.Flags().IntVar(&keep, "keep", 0, "delete all but the newest N versions")
	return cmd
}

func newExportCmd(app *App) *cobra.Command {
	var (
		dir     string
		version int
		stdout  bool
	)

	cmd := &cobra.Command{
		Use:   "export [NAME]",
		Short: "Write stored calendars as .ics files (all calendars without NAME)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			m, err := app.Manager()
			if err != nil {
				return err
			}
			if stdout || version > 0 {
				if len(args) == 0 {
					return fmt.Errorf("--stdout and --version need a calendar NAME")
				}
				return publish.WriteCalendar(ctx, m, out, args[0], version, app.exportOptions(""))
			}

			if dir == "" {
				dir = app.Config.ExportDir
			}
			p := publish.New(m, dir, app.exportOptions(""))
			if len(args) == 1 {
				path, err := p.Export(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, path)
				return nil
			}
			paths, err := p.ExportAll(ctx)
			for _, path := range paths {
				fmt.Fprintln(out, path)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "output directory (default export_dir from config)")
	cmd.Flags().IntVar(&version, "version", 0, "export an older version to stdout")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "write the calendar to stdout")
	return cmd
}

func newShowCmd(app *App) *cobra.Command {
	var (
		version  int
		date     string
		from, to string
		days     int
		year     int
		filter   query.Filter
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "show [NAME]",
		Short: "List stored calendars, or the events of one calendar",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			m, err := app.Manager()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				infos, err := m.Store().List(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(out, infos)
				}
				return printCalendars(out, infos)
			}

			snap, err := m.Store().Load(ctx, args[0], version)
			if err != nil {
				return err
			}
			q := query.New(snap.Calendar.Events)
			var events []model.Event
			switch {
			case date != "":
				d, err := model.ParseDate(date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				events = q.OnDate(d)
			case from != "" || to != "":
				start, err := model.ParseDate(from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				end, err := model.ParseDate(to)
				if err != nil {
					return fmt.Errorf("--to: %w", err)
				}
				events = q.Range(start, end)
			case days > 0:
				events = q.Upcoming(model.DateOf(time.Now().In(app.Config.Location())), days)
			case year > 0:
				events = q.ByYear(year)
			default:
				events = q.All()
			}
			if filter != (query.Filter{}) {
				events = query.New(events).Search(filter)
			}

			if asJSON {
				return printJSON(out, events)
			}
			fmt.Fprintf(out, "%s version %d, revised %s\n", snap.Info.Name, snap.Version.Number, orDash(snap.Calendar.RevisedDate.String()))
			return printEvents(out, events)
		},
	}

	f := cmd.Flags()
	f.IntVar(&version, "version", 0, "stored version (default latest)")
	f.StringVar(&date, "date", "", "events on a date, including multi-day events spanning it")
	f.StringVar(&from, "from", "", "range start (YYYY-MM-DD)")
	f.StringVar(&to, "to", "", "range end (YYYY-MM-DD)")
	f.IntVar(&days, "days", 0, "events in the next N days")
	f.IntVar(&year, "year", 0, "events starting in a year")
	f.StringVarP(&filter.Text, "search", "s", "", "text in title, label or location")
	f.StringVar(&filter.Type, "type", "", "event type (\"other\" for untyped)")
	f.StringVar(&filter.Location, "location", "", "location text or location id")
	f.BoolVar(&asJSON, "json", false, "print JSON")
	cmd.MarkFlagsRequiredTogether("from", "to")
	return cmd
}

func newMoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "mv OLD NEW",
		Short: "Rename a calendar, keeping its versions",
		Long: `Rename a calendar. Its version history moves with it. A file exported
under the old name is removed; run export to publish the new one.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := app.Manager()
			if err != nil {
				return err
			}
			oldName, newName := args[0], args[1]
			if err := m.Store().Rename(cmd.Context(), oldName, newName); err != nil {
				return err
			}
			stale := filepath.Join(app.Config.ExportDir, publish.FileName(oldName))
			if oldName != newName {
				if err := os.Remove(stale); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("remove %s: %w", stale, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %s to %s\n", oldName, newName)
			return nil
		},
	}
}

func newDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a calendar and all its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := app.Manager()
			if err != nil {
				return err
			}
			if err := m.Store().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newStatsCmd(app *App) *cobra.Command {
	var (
		year   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats NAME",
		Short: "Summarize event counts and half-day coverage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := app.Manager()
			if err != nil {
				return err
			}
			snap, err := m.Store().Load(cmd.Context(), args[0], 0)
			if err != nil {
				return err
			}
			s := stats.Compute(snap.Calendar.Events, year)
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, s)
			}

			fmt.Fprintf(out, "%d events, %s\n", s.TotalEvents, s.DateRange())
			rows := make([][]string, 0, len(s.ByType))
			for _, t := range s.Types() {
				rows = append(rows, []string{t, strconv.Itoa(s.ByType[t])})
			}
			if err := table(out, []string{"TYPE", "EVENTS"}, rows); err != nil {
				return err
			}
			weeks := s.Weeks()
			if len(weeks) == 0 {
				return nil
			}
			rows = rows[:0]
			for _, w := range weeks {
				rows = append(rows, []string{w, strconv.Itoa(s.HalfDaysByWeek[w])})
			}
			fmt.Fprintln(out)
			if err := table(out, []string{"WEEK", "HALF-DAYS"}, rows); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d half-days, %.1f per week (%d other events excluded)\n",
				s.TotalHalfDays, s.WeeklyAverage, s.ExcludedOther)
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "limit to events starting in a year")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
