package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SCHEDCAL_DB_PATH.
const EnvPrefix = "SCHEDCAL"

// NewViper returns a viper instance reading SCHEDCAL_* variables. Nested
// keys map "." to "_".
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	return v
}

// Overlay copies every key explicitly set in v, from a bound flag or the
// environment, over the file values, then normalizes and validates.
func (c *Config) Overlay(v *viper.Viper) error {
	fields := map[string]*string{
		"listen":           &c.Listen,
		"timezone":         &c.Timezone,
		"template_dir":     &c.TemplateDir,
		"default_template": &c.DefaultTemplate,
		"db_path":          &c.DBPath,
		"export_dir":       &c.ExportDir,
		"cache_dir":        &c.CacheDir,
		"refresh":          &c.RefreshCron,
		"log_level":        &c.LogLevel,
		"calendar_name":    &c.CalendarName,
	}
	for key, dst := range fields {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	if v.IsSet("basic_auth.username") {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		c.BasicAuth.Username = v.GetString("basic_auth.username")
	}
	if c.BasicAuth != nil {
		if v.IsSet("basic_auth.password") {
			c.BasicAuth.Password = v.GetString("basic_auth.password")
		}
		if v.IsSet("basic_auth.password_hash") {
			c.BasicAuth.PasswordHash = v.GetString("basic_auth.password_hash")
		}
	}
	c.Normalize()
	return c.Validate()
}
