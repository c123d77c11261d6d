package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	appLog "schedcal/internal/log"
	"schedcal/internal/publish"
	"schedcal/internal/web"
)

func newServeCmd(app *App) *cobra.Command {
	var (
		noWatch bool
		once    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and refresh feeds on the configured schedule",
		Long: `Start the HTTP API on the configured listen address, reload templates
when the template directory changes and, when "refresh" is set, pull the
configured feeds and re-export every calendar on that cron schedule.

--once runs one refresh and export cycle and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.Config
			m, err := app.Manager()
			if err != nil {
				return err
			}
			in, err := app.Ingester(nil)
			if err != nil {
				return err
			}
			refresher := publish.NewRefresher(m, in, cfg.Feeds)
			publisher := publish.New(m, cfg.ExportDir, app.exportOptions(""))
			cycle := func(ctx context.Context) error {
				rerr := refresher.Refresh(ctx)
				_, eerr := publisher.ExportAll(ctx)
				return errors.Join(rerr, eerr)
			}
			if once {
				return cycle(cmd.Context())
			}

			var sched *publish.Scheduler
			if cfg.RefreshCron != "" {
				if sched, err = publish.NewScheduler(cfg.RefreshCron, "refresh", cycle); err != nil {
					return err
				}
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return web.NewServer(cfg, m).Serve(ctx)
			})
			if !noWatch {
				g.Go(func() error {
					if err := app.loader.Watch(ctx, cfg.TemplateDir); err != nil {
						// a missing directory only disables reloading
						appLog.Warn("template reload disabled", "err", err)
					}
					return nil
				})
			}
			if sched != nil {
				g.Go(func() error { return sched.Run(ctx) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	_ = app.v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload templates on change")
	cmd.Flags().BoolVar(&once, "once", false, "run one refresh and export cycle and exit")
	return cmd
}
