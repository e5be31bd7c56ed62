package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DatabaseConfig holds record store settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// BusinessHoursConfig enables a higher-frequency tick window.
type BusinessHoursConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	StartHour    int  `mapstructure:"start_hour" yaml:"start_hour"`
	EndHour      int  `mapstructure:"end_hour" yaml:"end_hour"`
	IntervalSec  int  `mapstructure:"interval_sec" yaml:"interval_sec"`
	WeekdaysOnly bool `mapstructure:"weekdays_only" yaml:"weekdays_only"`
}

// SchedulerConfig controls the periodic sweep and batch triggers.
type SchedulerConfig struct {
	// IntervalSec is how often (in seconds) a full tick runs.
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`

	BusinessHours BusinessHoursConfig `mapstructure:"business_hours" yaml:"business_hours"`

	// DueSoonDays is the lookahead window for due reminders, in calendar days.
	DueSoonDays int `mapstructure:"due_soon_days" yaml:"due_soon_days"`

	// StartedLookbackHours bounds how far back a start date may be for
	// a task to still be announced as started.
	StartedLookbackHours int `mapstructure:"started_lookback_hours" yaml:"started_lookback_hours"`

	// Timezone is the calendar-day reference for due and overdue math.
	Timezone string `mapstructure:"timezone" yaml:"timezone"`

	// WatchdogSec is how long a tick may run before a warning is logged.
	WatchdogSec int `mapstructure:"watchdog_sec" yaml:"watchdog_sec"`
}

// Location resolves Timezone, falling back to UTC.
func (c SchedulerConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StreamConfig holds push channel settings.
type StreamConfig struct {
	PingIntervalSec int `mapstructure:"ping_interval_sec" yaml:"ping_interval_sec"`
	BufferSize      int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Stream    StreamConfig    `mapstructure:"stream" yaml:"stream"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// envPrefix namespaces environment overrides (TRACKER_SERVER_ADDR, ...).
const envPrefix = "TRACKER"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/tracker/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "tracker", "config.yaml")
}

// DefaultDatabasePath returns the default SQLite file location.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "tracker.db")
	}
	return filepath.Join(home, ".local", "share", "tracker", "tracker.db")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{Path: DefaultDatabasePath()},
		Server:   ServerConfig{Addr: ":8080"},
		Scheduler: SchedulerConfig{
			IntervalSec: 3600,
			BusinessHours: BusinessHoursConfig{
				Enabled:      false,
				StartHour:    9,
				EndHour:      18,
				IntervalSec:  900,
				WeekdaysOnly: true,
			},
			DueSoonDays:          3,
			StartedLookbackHours: 24,
			Timezone:             "UTC",
			WatchdogSec:          600,
		},
		Stream: StreamConfig{
			PingIntervalSec: 30,
			BufferSize:      32,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// setDefaults registers every default so missing keys resolve to
// sensible values and env overrides can bind to them.
func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("scheduler.interval_sec", d.Scheduler.IntervalSec)
	v.SetDefault("scheduler.business_hours.enabled", d.Scheduler.BusinessHours.Enabled)
	v.SetDefault("scheduler.business_hours.start_hour", d.Scheduler.BusinessHours.StartHour)
	v.SetDefault("scheduler.business_hours.end_hour", d.Scheduler.BusinessHours.EndHour)
	v.SetDefault("scheduler.business_hours.interval_sec", d.Scheduler.BusinessHours.IntervalSec)
	v.SetDefault("scheduler.business_hours.weekdays_only", d.Scheduler.BusinessHours.WeekdaysOnly)
	v.SetDefault("scheduler.due_soon_days", d.Scheduler.DueSoonDays)
	v.SetDefault("scheduler.started_lookback_hours", d.Scheduler.StartedLookbackHours)
	v.SetDefault("scheduler.timezone", d.Scheduler.Timezone)
	v.SetDefault("scheduler.watchdog_sec", d.Scheduler.WatchdogSec)
	v.SetDefault("stream.ping_interval_sec", d.Stream.PingIntervalSec)
	v.SetDefault("stream.buffer_size", d.Stream.BufferSize)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// newViper builds a viper instance for path with defaults and
// TRACKER_* environment overrides applied.
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"db":        "database.path",
	"addr":      "server.addr",
	"log-level": "log.level",
}

// Loader reads configuration from a YAML file, the environment and
// bound command-line flags.
type Loader struct {
	path string
	v    *viper.Viper
}

// NewLoader creates a Loader for the given YAML path. Flags present in
// fs (db, addr, log-level) override file and environment values when set.
func NewLoader(path string, fs *pflag.FlagSet) (*Loader, error) {
	v := newViper(path)
	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}
	return &Loader{path: path, v: v}, nil
}

// Load reads the configuration. If the file does not exist, defaults
// (plus environment and flag overrides) are returned.
func (l *Loader) Load() (*AppConfig, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("reading config %s: %w", l.path, err)
		}
	}
	return l.decode()
}

// Watch re-reads the file whenever it changes and passes the new
// configuration to onChange. Decode failures are reported through onError.
func (l *Loader) Watch(onChange func(*AppConfig), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reloading config %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", l.path, err)
	}
	if cfg.Scheduler.IntervalSec <= 0 {
		cfg.Scheduler.IntervalSec = 3600
	}
	if cfg.Scheduler.DueSoonDays < 0 {
		cfg.Scheduler.DueSoonDays = 3
	}
	if cfg.Stream.BufferSize <= 0 {
		cfg.Stream.BufferSize = 32
	}
	return cfg, nil
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	l, err := NewLoader(path, nil)
	if err != nil {
		return nil, err
	}
	return l.Load()
}

func isNotFound(err error) bool {
	if _, ok := err.(*os.PathError); ok {
		return true
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("server", cfg.Server)
	v.Set("scheduler", cfg.Scheduler)
	v.Set("stream", cfg.Stream)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
