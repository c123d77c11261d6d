package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"schedcal/internal/template"
)

func newTemplateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Inspect schedule templates",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List templates in the template directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := template.List(app.Config.TemplateDir)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(names))
			for _, n := range names {
				tpl, err := app.loader.Get(app.Config.TemplateDir, n)
				if err != nil {
					rows = append(rows, []string{n, "", "error: " + err.Error()})
					continue
				}
				rows = append(rows, []string{n, tpl.Version, strings.Join(tpl.TypeNames(), ",")})
			}
			return table(cmd.OutOrStdout(), []string{"NAME", "VERSION", "TYPES"}, rows)
		},
	}

	show := &cobra.Command{
		Use:   "show NAME",
		Short: "Print a template with its extends chain resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl, err := app.loader.Get(app.Config.TemplateDir, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tpl)
		},
	}

	check := &cobra.Command{
		Use:   "check NAME...",
		Short: "Load and validate templates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, n := range args {
				if _, err := app.loader.Get(app.Config.TemplateDir, n); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", n, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", n)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d templates invalid", failed, len(args))
			}
			return nil
		},
	}

	cmd.AddCommand(list, show, check)
	return cmd
}
