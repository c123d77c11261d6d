package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen   = "127.0.0.1:8080"
	defaultTimezone = "UTC"
	defaultRefresh  = "*/30 * * * *"
	defaultLevel    = "info"
	defaultCalName  = "Schedule"
)

// FeedConfig is a remote ICS feed ingested into a stored calendar on every
// scheduled refresh.
type FeedConfig struct {
	// Calendar is the stored calendar the feed updates.
	Calendar string `yaml:"calendar" json:"calendar"`
	URL      string `yaml:"url" json:"url"`
	// Template overrides DefaultTemplate for this feed.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
// PasswordHash (bcrypt) takes precedence over Password.
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password,omitempty" json:"-"`
	PasswordHash string `yaml:"password_hash,omitempty" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for exported times and for reading
	// floating ICS times.
	Timezone string `yaml:"timezone" json:"timezone"`

	TemplateDir     string `yaml:"template_dir" json:"template_dir"`
	DefaultTemplate string `yaml:"default_template" json:"default_template"`

	// DBPath is the SQLite calendar store.
	DBPath string `yaml:"db_path" json:"db_path"`

	// ExportDir receives one .ics file per stored calendar.
	ExportDir string `yaml:"export_dir" json:"export_dir"`

	// CacheDir holds the last good body of every remote feed.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// RefreshCron is a cron schedule for feed refresh and re-export.
	// Empty disables the scheduler.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel     string `yaml:"log_level" json:"log_level"`
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and /metrics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		Timezone:     defaultTimezone,
		TemplateDir:  "templates",
		DBPath:       "schedcal.db",
		ExportDir:    "export",
		CacheDir:     "cache",
		RefreshCron:  defaultRefresh,
		LogLevel:     defaultLevel,
		CalendarName: defaultCalName,
		Feeds:        []FeedConfig{},
	}
}

// Normalize fills in missing values so partially filled configs behave.
// RefreshCron is left alone: empty means no scheduler.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.TemplateDir == "" {
		c.TemplateDir = "templates"
	}
	if c.DBPath == "" {
		c.DBPath = "schedcal.db"
	}
	if c.ExportDir == "" {
		c.ExportDir = "export"
	}
	if c.CacheDir == "" {
		c.CacheDir = "cache"
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLevel
	}
	if c.CalendarName == "" {
		c.CalendarName = defaultCalName
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		c.BasicAuth = nil
	}
}

// Validate reports settings that cannot be used as given.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	for i, f := range c.Feeds {
		if f.Calendar == "" || f.URL == "" {
			return fmt.Errorf("feeds[%d]: calendar and url are required", i)
		}
	}
	if a := c.BasicAuth; a != nil && a.Password == "" && a.PasswordHash == "" {
		return errors.New("basic_auth: password or password_hash is required")
	}
	return nil
}

// Location returns the configured time zone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read and defaults are filled in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// caller decides whether a read-only location is fatal
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory with 0700.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".schedcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
