package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"schedcal/internal/ics"
	"schedcal/internal/model"
	"schedcal/internal/process"
)

func newProcessCmd(app *App) *cobra.Command {
	var (
		tplName string
		format  string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "process SOURCE",
		Short: "Run a schedule file through the template pipeline without storing it",
		Long: `Read SOURCE (.json, .ics or an http(s) feed), apply the template's
overnight, consolidation and location rules and print the result.

Formats: json (default), ics, table.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "ics" && format != "table" {
				return fmt.Errorf("unknown format %q (json, ics, table)", format)
			}
			tpl, err := app.Template(tplName)
			if err != nil {
				return err
			}
			in, err := app.Ingester(tpl)
			if err != nil {
				return err
			}
			cal, err := in.Ingest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := process.New(tpl).Process(cal.Events)
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}

			var out io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			processed := model.Calendar{Events: res.Events, RevisedDate: cal.RevisedDate}
			switch format {
			case "ics":
				err = ics.Export(out, processed, tpl, app.exportOptions(app.Config.CalendarName))
			case "table":
				err = printEvents(out, res.Events)
			default:
				err = printJSON(out, processed)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s (template %s)\n", res.Summary, tpl.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tplName, "template", "t", "", "template name (default from config)")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format (json, ics, table)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
