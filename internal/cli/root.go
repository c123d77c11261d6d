// Package cli implements the schedcal command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"schedcal/internal/config"
	"schedcal/internal/ics"
	"schedcal/internal/ingest"
	appLog "schedcal/internal/log"
	"schedcal/internal/store"
	"schedcal/internal/template"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

// App carries the loaded configuration and lazily opened store through
// the command tree.
type App struct {
	Config *config.Config

	v       *viper.Viper
	loader  *template.Loader
	store   *store.Store
	manager *store.Manager
}

// Manager opens the calendar store on first use.
func (a *App) Manager() (*store.Manager, error) {
	if a.manager != nil {
		return a.manager, nil
	}
	s, err := store.Open(a.Config.DBPath)
	if err != nil {
		return nil, err
	}
	a.store = s
	a.manager = store.NewManager(s, store.LoaderSource{
		Loader:  a.loader,
		Dir:     a.Config.TemplateDir,
		Default: a.Config.DefaultTemplate,
	})
	return a.manager, nil
}

// Template resolves name, or the configured default for "".
func (a *App) Template(name string) (*template.Template, error) {
	if name == "" {
		name = a.Config.DefaultTemplate
	}
	return a.loader.Get(a.Config.TemplateDir, name)
}

// Ingester reads local files and remote feeds, classifying event types
// with tpl when given.
func (a *App) Ingester(tpl *template.Template) (*ingest.Ingester, error) {
	fetcher := ics.NewFetcher(a.Config.CacheDir, &http.Client{Timeout: 30 * time.Second})
	in := ingest.New(fetcher, ingest.Options{Location: a.Config.Location()})
	if tpl == nil {
		return in, nil
	}
	m, err := template.NewMatcher(tpl)
	if err != nil {
		return nil, err
	}
	return in.WithMatcher(m), nil
}

// exportOptions leaves Name empty for stored calendars, which are named
// after themselves.
func (a *App) exportOptions(name string) ics.ExportOptions {
	return ics.ExportOptions{Name: name, TZID: a.Config.Timezone}
}

// Close releases the store, if it was opened.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store, a.manager = nil, nil
	return err
}

func (a *App) init(cmd *cobra.Command) error {
	path := a.v.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Overlay(a.v); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	appLog.Debug("effective config",
		"config", path,
		"db_path", cfg.DBPath,
		"template_dir", cfg.TemplateDir,
		"timezone", cfg.Timezone,
		"feeds", len(cfg.Feeds),
		"command", cmd.Name(),
	)
	a.Config = cfg
	return nil
}

func newRoot() (*cobra.Command, *App) {
	app := &App{v: config.NewViper(), loader: template.NewLoader()}

	cmd := &cobra.Command{
		Use:     "schedcal",
		Short:   "Process, version and publish shift schedules",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.init(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "schedcal.yaml", "config file path (created with defaults if missing)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	_ = app.v.BindPFlag("config", pf.Lookup("config"))
	_ = app.v.BindPFlag("log_level", pf.Lookup("log-level"))

	cmd.AddCommand(
		newProcessCmd(app),
		newIngestCmd(app),
		newDiffCmd(app),
		newVersionsCmd(app),
		newExportCmd(app),
		newShowCmd(app),
		newDeleteCmd(app),
		newMoveCmd(app),
		newStatsCmd(app),
		newTemplateCmd(app),
		newServeCmd(app),
	)
	return cmd, app
}

// Execute runs the CLI with args until ctx is done.
func Execute(ctx context.Context, args []string) error {
	cmd, app := newRoot()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if cerr := app.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}
