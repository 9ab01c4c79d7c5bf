package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/autisense/autisense/internal/config"
	"github.com/autisense/autisense/internal/identity"
	"github.com/autisense/autisense/internal/logging"
	"github.com/autisense/autisense/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagDB         string
	flagConfigPath string
	flagLogLevel   string
	flagDataDir    string
)

var rootCmd = &cobra.Command{
	Use:           "autisense",
	Short:         "Local-first screening store with background upload",
	Long:          "Record screening sessions on this device and deliver anonymized summaries to the ingest service when online.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cliErr(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Local database path (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Config file path (default "+config.Path()+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", config.DataDir(), "Directory for the identity file and daemon state")
}

func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}
	return config.Path()
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFrom(configPath())
	if err != nil {
		return cfg, err
	}
	if flagDB != "" {
		cfg.Store.Path = flagDB
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging.Level, cfg.Logging.Development)
}

// env bundles what most commands need: config, logger and the open store.
type env struct {
	cfg   config.Config
	log   *zap.Logger
	store *store.Store
}

func (e *env) Close() {
	if e.store != nil {
		_ = e.store.Close()
	}
	_ = e.log.Sync()
}

func openEnv() (*env, error) {
	return openEnvWith(nil)
}

// openEnvWith is openEnv with a caller-supplied logger; nil builds one
// from config.
func openEnvWith(log *zap.Logger) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if log == nil {
		if log, err = newLogger(cfg); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(config.StorePath(cfg), store.WithLogger(log))
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	return &env{cfg: cfg, log: log, store: st}, nil
}

func currentUser() (string, error) {
	return identity.Current(flagDataDir)
}

// cliErr turns store sentinels into short user-facing messages.
func cliErr(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "  Not found: " + err.Error()
	case errors.Is(err, store.ErrValidation):
		return "  Invalid input: " + err.Error()
	}
	return "  Error: " + err.Error()
}
