package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"schedcal/internal/merge"
	"schedcal/internal/model"
	"schedcal/internal/store"
)

func newIngestCmd(app *App) *cobra.Command {
	var (
		tplName  string
		year     int
		add      bool
		from, to string
		preview  bool
		note     string
	)

	cmd := &cobra.Command{
		Use:   "ingest NAME SOURCE",
		Short: "Process a schedule and merge it into a stored calendar",
		Long: `Read SOURCE, process it with the calendar's template and save a new
version of calendar NAME.

By default the incoming events replace the stored year they belong to.
--add keeps every stored event, --from/--to replaces a date range.
--preview prints the changes without saving.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, source := args[0], args[1]
			ctx := cmd.Context()

			strategy, err := strategyFlag(add, from, to)
			if err != nil {
				return err
			}
			m, err := app.Manager()
			if err != nil {
				return err
			}

			// classify with the template the calendar will be processed with
			resolved := tplName
			if resolved == "" {
				if info, err := m.Store().Info(ctx, name); err == nil {
					resolved = info.TemplateName
				} else if !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}
			tpl, err := m.Template(resolved)
			if err != nil {
				return err
			}
			in, err := app.Ingester(tpl)
			if err != nil {
				return err
			}
			cal, err := in.Ingest(ctx, source)
			if err != nil {
				return err
			}

			req := store.UpdateRequest{
				Name:     name,
				Template: tplName,
				Incoming: cal,
				Source:   sourceLabel(source),
				Note:     note,
				Strategy: strategy,
				Year:     year,
			}
			apply := m.Update
			if preview {
				apply = m.Preview
			}
			res, err := apply(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, w := range res.Process.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			switch {
			case preview:
				fmt.Fprintf(out, "preview of %s (%s, %s)\n", name, res.Strategy, res.Process.Summary)
			case !res.Changed:
				fmt.Fprintf(out, "%s unchanged\n", name)
				return nil
			case res.Created:
				fmt.Fprintf(out, "created %s version %d (%s)\n", name, res.Version, res.Process.Summary)
			default:
				fmt.Fprintf(out, "updated %s to version %d (%s)\n", name, res.Version, res.Strategy)
			}
			return printDiff(out, res.Diff)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&tplName, "template", "t", "", "template name (default: the calendar's, then config)")
	f.IntVar(&year, "year", 0, "year to replace instead of inferring it")
	f.BoolVar(&add, "add", false, "add events without replacing any")
	f.StringVar(&from, "from", "", "replace stored events from this date (YYYY-MM-DD)")
	f.StringVar(&to, "to", "", "replace stored events up to this date (YYYY-MM-DD)")
	f.BoolVar(&preview, "preview", false, "show the changes without saving")
	f.StringVar(&note, "note", "", "note stored with the new version")
	cmd.MarkFlagsMutuallyExclusive("add", "from")
	cmd.MarkFlagsMutuallyExclusive("add", "year")
	cmd.MarkFlagsRequiredTogether("from", "to")
	return cmd
}

// strategyFlag returns nil for the default replace-by-year merge.
func strategyFlag(add bool, from, to string) (merge.Strategy, error) {
	if add {
		return merge.Add{}, nil
	}
	if from == "" && to == "" {
		return nil, nil
	}
	start, err := model.ParseDate(from)
	if err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	end, err := model.ParseDate(to)
	if err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("--to %s is before --from %s", end, start)
	}
	return merge.ReplaceByRange{Start: start, End: end}, nil
}

// sourceLabel keeps file names but never stores a URL, which may carry
// credentials.
func sourceLabel(source string) string {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return "url"
	}
	return filepath.Base(source)
}
