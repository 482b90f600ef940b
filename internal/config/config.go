package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "schedline/internal/log"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "UTC"
	defaultDBPath         = "schedline.db"
	defaultHorizonWeeks   = 4
	defaultRefresh        = "0 * * * *"
	defaultMaxOccurrences = 5000
	defaultLogLevel       = "info"
	defaultWeekStart      = "monday"
)

// ICSConfig describes an iCalendar subscription imported on every refresh.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID identifies the source; imported items are replaced per ID.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone entries are read in and occurrences are
	// reported in (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// DBPath is the sqlite database file.
	DBPath string `yaml:"db_path" json:"db_path"`

	// HorizonWeeks is how far ahead open-ended schedules are materialized.
	HorizonWeeks int `yaml:"horizon_weeks" json:"horizon_weeks"`

	// RefreshCron is a cron-style schedule string (e.g. "0 * * * *") for
	// extending the horizon and re-importing subscriptions.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// MaxOccurrences caps a single expansion.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// WeekStart controls which weekday starts a week in agenda views:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		Timezone:       defaultTimezone,
		DBPath:         defaultDBPath,
		HorizonWeeks:   defaultHorizonWeeks,
		RefreshCron:    defaultRefresh,
		MaxOccurrences: defaultMaxOccurrences,
		LogLevel:       defaultLogLevel,
		WeekStart:      defaultWeekStart,
		ICS:            []ICSConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.HorizonWeeks <= 0 {
		c.HorizonWeeks = defaultHorizonWeeks
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = defaultMaxOccurrences
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = defaultWeekStart
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Validate checks the values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.WithHint(errors.Wrapf(err, "config: timezone %q", c.Timezone), "use an IANA name such as Europe/Berlin")
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return errors.WithHint(errors.Wrapf(err, "config: refresh %q", c.RefreshCron), "use a five-field cron spec such as \"0 * * * *\"")
	}
	if _, err := appLog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "config: log_level")
	}
	seen := map[string]bool{}
	for _, src := range c.ICS {
		if src.ID == "" || src.URL == "" {
			return errors.Newf("config: ics source %q needs both id and url", src.Name)
		}
		if seen[src.ID] {
			return errors.Newf("config: duplicate ics source id %q", src.ID)
		}
		seen[src.ID] = true
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		return errors.New("config: basic_auth needs a username")
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Horizon is HorizonWeeks as a duration.
func (c *Config) Horizon() time.Duration {
	return time.Duration(c.HorizonWeeks) * 7 * 24 * time.Hour
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			appLog.Info("config: wrote defaults", "path", path)
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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
		return errors.Wrap(err, "create config dir")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	tmp, err := os.CreateTemp(dir, ".schedline-config-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp config")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp config")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp config")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp config")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.Wrap(err, "chmod temp config")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "rename config into %s", path)
	}
	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
