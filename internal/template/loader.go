package template

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	appLog "schedcal/internal/log"
)

type cacheKey struct {
	dir  string
	name string
}

// Loader reads templates from a directory, resolves extends chains and
// caches the result until Clear is called.
type Loader struct {
	mu    sync.Mutex
	cache map[cacheKey]*Template
}

func NewLoader() *Loader {
	return &Loader{cache: make(map[cacheKey]*Template)}
}

// Load returns the resolved template <dir>/<name>.json.
func (l *Loader) Load(dir, name string) (*Template, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(filepath.Clean(dir), name, nil)
}

// Get is Load, except an empty name yields the Fallback template.
func (l *Loader) Get(dir, name string) (*Template, error) {
	if name == "" {
		appLog.Warn("no template configured, using fallback (no consolidation)")
		return Fallback(), nil
	}
	return l.Load(dir, name)
}

// Clear drops every cached template.
func (l *Loader) Clear() {
	l.mu.Lock()
	n := len(l.cache)
	clear(l.cache)
	l.mu.Unlock()
	if n > 0 {
		appLog.Debug("template cache cleared", "entries", n)
	}
}

// List returns the template names available in dir, sorted.
func List(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		names = append(names, base[:len(base)-len(".json")])
	}
	slices.Sort(names)
	return names, nil
}

func (l *Loader) load(dir, name string, chain []string) (*Template, error) {
	key := cacheKey{dir: dir, name: name}
	if t, ok := l.cache[key]; ok {
		return t, nil
	}
	if slices.Contains(chain, name) {
		return nil, &CycleError{Chain: append(slices.Clone(chain), name)}
	}
	chain = append(chain, name)

	path := filepath.Join(dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	raw, err := Parse(data)
	if err != nil {
		return nil, &ConfigError{Template: name, Path: path, Err: err}
	}
	if raw.Name == "" {
		raw.Name = name
	}

	t := raw
	if raw.Extends != "" {
		base, err := l.load(dir, raw.Extends, chain)
		if err != nil {
			return nil, err
		}
		t = merge(base, raw)
	}
	t.Extends = ""
	t.normalize()
	if err := t.Validate(); err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) && cerr.Path == "" {
			cerr.Path = path
		}
		return nil, err
	}

	l.cache[key] = t
	appLog.Info("loaded template", "name", name, "path", path, "version", t.Version)
	return t, nil
}
