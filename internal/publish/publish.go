// Package publish writes stored calendars out as .ics files and keeps them
// fresh on a schedule.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"schedcal/internal/ics"
	appLog "schedcal/internal/log"
	"schedcal/internal/store"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName maps a calendar name to its export file name.
func FileName(name string) string {
	return unsafeName.ReplaceAllString(name, "_") + ".ics"
}

// WriteCalendar renders calendar name at version (0 = latest) as iCalendar.
// location_id references are resolved against the calendar's template.
func WriteCalendar(ctx context.Context, m *store.Manager, w io.Writer, name string, version int, opts ics.ExportOptions) error {
	snap, err := m.Store().Load(ctx, name, version)
	if err != nil {
		return err
	}
	tpl, err := m.Template(snap.Info.TemplateName)
	if err != nil {
		return fmt.Errorf("calendar %q: %w", name, err)
	}
	if opts.Name == "" {
		opts.Name = name
	}
	return ics.Export(w, snap.Calendar, tpl, opts)
}

// Publisher exports stored calendars into a directory.
type Publisher struct {
	manager *store.Manager
	dir     string
	opts    ics.ExportOptions
}

func New(m *store.Manager, dir string, opts ics.ExportOptions) *Publisher {
	return &Publisher{manager: m, dir: dir, opts: opts}
}

// Export writes the latest version of calendar name and returns the path.
// The file is replaced atomically.
func (p *Publisher) Export(ctx context.Context, name string) (string, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(p.dir, FileName(name))

	tmp, err := os.CreateTemp(p.dir, ".schedcal-export-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := WriteCalendar(ctx, p.manager, tmp, name, 0, p.opts); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", err
	}
	appLog.Info("calendar exported", "name", name, "path", path)
	return path, nil
}

// ExportAll exports every stored calendar. A failing calendar does not stop
// the others; all failures are returned joined.
func (p *Publisher) ExportAll(ctx context.Context) ([]string, error) {
	infos, err := p.manager.Store().List(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(infos))
	var errs []error
	for _, info := range infos {
		path, err := p.Export(ctx, info.Name)
		if err != nil {
			appLog.Error("calendar export failed", err, "name", info.Name)
			errs = append(errs, fmt.Errorf("%s: %w", info.Name, err))
			continue
		}
		paths = append(paths, path)
	}
	return paths, errors.Join(errs...)
}
