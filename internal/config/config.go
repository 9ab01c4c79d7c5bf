// Package config loads and saves the autisense TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all autisense configuration.
type Config struct {
	Store      StoreConfig      `toml:"store"`
	Sync       SyncConfig       `toml:"sync"`
	Ingest     IngestConfig     `toml:"ingest"`
	Daemon     DaemonConfig     `toml:"daemon"`
	Logging    LoggingConfig    `toml:"logging"`
	Appearance AppearanceConfig `toml:"appearance"`
}

// StoreConfig holds local database settings.
type StoreConfig struct {
	Path string `toml:"path,omitempty"`
}

// SyncConfig holds client-side delivery settings.
type SyncConfig struct {
	Endpoint         string   `toml:"endpoint"`
	MaxRetries       int      `toml:"max_retries"`
	RequestTimeout   Duration `toml:"request_timeout"`
	RequireCompleted bool     `toml:"require_completed"`
}

// IngestConfig holds settings for the remote ingest service.
type IngestConfig struct {
	Addr            string   `toml:"addr"`
	Backend         string   `toml:"backend"` // "sqlite" or "dynamodb"
	SQLitePath      string   `toml:"sqlite_path,omitempty"`
	SessionsTable   string   `toml:"sessions_table"`
	BiomarkersTable string   `toml:"biomarkers_table"`
	Region          string   `toml:"region"`
	Endpoint        string   `toml:"endpoint,omitempty"`
	Retention       Duration `toml:"retention"`
}

// DaemonConfig holds settings for the background sync agent.
type DaemonConfig struct {
	Addr          string   `toml:"addr"`
	ProbeInterval Duration `toml:"probe_interval"`
	EventsBuffer  int      `toml:"events_buffer"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme"`
}

// Duration is a time.Duration written as a Go duration string ("15s").
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Sync: SyncConfig{
			Endpoint:       "http://127.0.0.1:8080/api/sync",
			MaxRetries:     5,
			RequestTimeout: Duration{10 * time.Second},
		},
		Ingest: IngestConfig{
			Addr:            "127.0.0.1:8080",
			Backend:         "sqlite",
			SessionsTable:   "autisense-sessions",
			BiomarkersTable: "autisense-biomarkers",
			Region:          "ap-south-1",
			Retention:       Duration{365 * 24 * time.Hour},
		},
		Daemon: DaemonConfig{
			Addr:          "127.0.0.1:8787",
			ProbeInterval: Duration{15 * time.Second},
			EventsBuffer:  200,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
	}
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "autisense")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "autisense")
}

// DataDir returns the XDG-compliant data directory holding the local database.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "autisense")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "autisense")
}

// Path returns the full path to the config file.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// StorePath returns the configured local database path or the default.
func StorePath(cfg Config) string {
	if cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	return filepath.Join(DataDir(), "autisense.db")
}

// IngestSQLitePath returns the ingest SQLite path or the default.
func IngestSQLitePath(cfg Config) string {
	if cfg.Ingest.SQLitePath != "" {
		return cfg.Ingest.SQLitePath
	}
	return filepath.Join(DataDir(), "ingest.db")
}

// Load reads the config file at the default path.
func Load() (Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config file at path, returning defaults if it doesn't
// exist. Environment overrides are applied last.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // config path is chosen by the local user
	if err != nil {
		if os.IsNotExist(err) {
			return ApplyEnv(cfg), nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	return ApplyEnv(cfg), nil
}

// Save writes the config to the default path.
func Save(cfg Config) error {
	return SaveTo(Path(), cfg)
}

// SaveTo writes the config to path.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // user-chosen path
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(Path())
	return err == nil
}

// ApplyEnv overlays environment variables on cfg. Environment wins over the file.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("AUTISENSE_SYNC_ENDPOINT"); v != "" {
		cfg.Sync.Endpoint = v
	}
	if v := os.Getenv("AUTISENSE_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DYNAMODB_SESSIONS_TABLE"); v != "" {
		cfg.Ingest.SessionsTable = v
	}
	if v := os.Getenv("DYNAMODB_BIOMARKERS_TABLE"); v != "" {
		cfg.Ingest.BiomarkersTable = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Ingest.Region = v
	}
	if v := os.Getenv("AUTISENSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return cfg
}
