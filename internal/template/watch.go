package template

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	appLog "schedcal/internal/log"
)

// Watch clears the loader cache whenever a *.json file in dir is written,
// created, removed or renamed. It blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("template watch: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("template watch %s: %w", dir, err)
	}
	appLog.Info("watching template directory", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".json" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			appLog.Info("template changed, invalidating cache", "file", ev.Name, "op", ev.Op.String())
			l.Clear()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Error("template watcher error", err, "dir", dir)
		}
	}
}
