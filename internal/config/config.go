// Package config loads the agent configuration from a TOML file in the
// data dir, with environment variables taking precedence over the file
// and the file over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

// Fetch-failure policies. Abort leaves the prior snapshot untouched and
// emits nothing; ResolveAll keeps the historical behavior of treating a
// failed fetch as "no active alerts", mass-resolving everything.
const (
	OnFetchErrorAbort      = "abort"
	OnFetchErrorResolveAll = "resolve-all"
)

// Store kinds.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
)

// Duration decodes TOML strings like "30s" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Zabbix holds the Source Collaborator settings.
type Zabbix struct {
	URL                string   `toml:"url"`
	User               string   `toml:"user"`
	Password           string   `toml:"password"`
	Timeout            Duration `toml:"timeout"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
}

// Snapshot selects and locates the snapshot store.
type Snapshot struct {
	Store string `toml:"store"`
	Path  string `toml:"path"`
}

// Hook configures the optional per-event shell hook.
type Hook struct {
	Command string   `toml:"command"`
	Timeout Duration `toml:"timeout"`
}

type Config struct {
	Label        string   `toml:"label"`
	Schedule     string   `toml:"schedule"`
	OnFetchError string   `toml:"on_fetch_error"`
	LogLevel     string   `toml:"log_level"`
	DataDir      string   `toml:"-"`
	Zabbix       Zabbix   `toml:"zabbix"`
	Snapshot     Snapshot `toml:"snapshot"`
	Hook         Hook     `toml:"hook"`
}

const defaultConfigContent = `# alertwatch configuration
# All values shown are defaults. Uncomment and edit to customize.

# Label attached to every alert line, identifying this monitored
# environment. Environment variable: ALERTWATCH_LABEL
# label = "Unknown-VM"

# Poll schedule for watch mode: a cron expression or an @every interval.
# Environment variable: ALERTWATCH_SCHEDULE
# schedule = "@every 1m"

# What to do when the Zabbix fetch fails: "abort" keeps the prior
# snapshot and emits nothing; "resolve-all" treats the failure as an
# empty alert list. Environment variable: ALERTWATCH_ON_FETCH_ERROR
# on_fetch_error = "abort"

# Log level: debug, info, warn, error.
# Environment variable: ALERTWATCH_LOG_LEVEL
# log_level = "info"

[zabbix]
# Frontend base URL; /api_jsonrpc.php is appended when missing.
# Environment variable: ALERTWATCH_ZABBIX_URL
# url = ""

# API credentials. The password can be supplied via environment only.
# Environment variables: ALERTWATCH_ZABBIX_USER, ALERTWATCH_ZABBIX_PASSWORD
# user = ""
# password = ""

# Per-request timeout.
# timeout = "30s"

# Skip TLS certificate verification (self-signed lab appliances only).
# insecure_skip_verify = false

[snapshot]
# Store backend: "sqlite" or "file" (a JSON document).
# Environment variable: ALERTWATCH_STORE
# store = "sqlite"

# Override the snapshot location. Defaults to alertwatch.db or
# last_problems.json under the data dir.
# path = ""

[hook]
# Shell snippet run once per emitted event with ALERT_* variables in the
# environment. Empty disables the hook.
# command = ""
# timeout = "10s"
`

// DefaultPath returns the config file location under the data dir,
// honoring ALERTWATCH_DATA_DIR.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// DataDir resolves the agent's data directory.
func DataDir() string {
	if v := strings.TrimSpace(os.Getenv("ALERTWATCH_DATA_DIR")); v != "" {
		return v
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".alertwatch")
	}
	return ".alertwatch"
}

// Load reads the config at path (DefaultPath when empty), creating a
// commented default file on first run, then applies env overrides and
// validates. The returned error names the offending key.
func Load(path string) (Config, error) {
	cfg := Config{
		Label:        "Unknown-VM",
		Schedule:     "@every 1m",
		OnFetchError: OnFetchErrorAbort,
		LogLevel:     "info",
		DataDir:      DataDir(),
		Zabbix: Zabbix{
			Timeout: Duration(30 * time.Second),
		},
		Snapshot: Snapshot{
			Store: StoreSQLite,
		},
		Hook: Hook{
			Timeout: Duration(10 * time.Second),
		},
	}

	// A missing default config is a normal first run; a missing
	// explicitly-given path is a mistake worth reporting.
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			writeDefaultConfig(path)
		}
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Snapshot.Path == "" {
		switch cfg.Snapshot.Store {
		case StoreFile:
			cfg.Snapshot.Path = filepath.Join(cfg.DataDir, "last_problems.json")
		default:
			cfg.Snapshot.Path = filepath.Join(cfg.DataDir, "alertwatch.db")
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Label, "ALERTWATCH_LABEL")
	set(&cfg.Schedule, "ALERTWATCH_SCHEDULE")
	set(&cfg.OnFetchError, "ALERTWATCH_ON_FETCH_ERROR")
	set(&cfg.Zabbix.URL, "ALERTWATCH_ZABBIX_URL")
	set(&cfg.Zabbix.User, "ALERTWATCH_ZABBIX_USER")
	set(&cfg.Zabbix.Password, "ALERTWATCH_ZABBIX_PASSWORD")
	set(&cfg.Snapshot.Store, "ALERTWATCH_STORE")
	if v := strings.TrimSpace(os.Getenv("ALERTWATCH_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
}

func (c Config) validate() error {
	if c.Zabbix.URL == "" {
		return fmt.Errorf("config: zabbix.url is required")
	}
	if c.Zabbix.User == "" {
		return fmt.Errorf("config: zabbix.user is required")
	}
	switch c.OnFetchError {
	case OnFetchErrorAbort, OnFetchErrorResolveAll:
	default:
		return fmt.Errorf("config: on_fetch_error must be %q or %q, got %q",
			OnFetchErrorAbort, OnFetchErrorResolveAll, c.OnFetchError)
	}
	switch c.Snapshot.Store {
	case StoreSQLite, StoreFile:
	default:
		return fmt.Errorf("config: snapshot.store must be %q or %q, got %q",
			StoreSQLite, StoreFile, c.Snapshot.Store)
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("config: invalid schedule %q: %w", c.Schedule, err)
	}
	return nil
}

// writeDefaultConfig creates the config file with commented-out
// defaults. Best-effort: errors are silently ignored.
func writeDefaultConfig(path string) {
	_ = os.MkdirAll(filepath.Dir(path), 0o700)
	_ = os.WriteFile(path, []byte(defaultConfigContent), 0o600)
}
