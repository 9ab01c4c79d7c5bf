// Package cmd implements the autisense CLI commands.
package cmd

import (
	"fmt"

	"github.com/autisense/autisense/internal/config"
	"github.com/autisense/autisense/internal/syncer"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := configPath()
	fmt.Printf("  Config file: %s\n", path)
	if fileExists(path) {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [Store]")
	fmt.Printf("    Database:          %s\n", config.StorePath(cfg))
	fmt.Println()

	fmt.Println("  [Sync]")
	fmt.Printf("    Endpoint:          %s\n", cfg.Sync.Endpoint)
	fmt.Printf("    Max retries:       %d\n", syncer.RetryBudget(cfg.Sync.MaxRetries))
	fmt.Printf("    Request timeout:   %s\n", cfg.Sync.RequestTimeout.Duration)
	fmt.Printf("    Require completed: %v\n", cfg.Sync.RequireCompleted)
	fmt.Println()

	fmt.Println("  [Daemon]")
	fmt.Printf("    Address:           %s\n", cfg.Daemon.Addr)
	fmt.Printf("    Probe interval:    %s\n", cfg.Daemon.ProbeInterval.Duration)
	fmt.Printf("    Events buffer:     %d\n", cfg.Daemon.EventsBuffer)
	fmt.Println()

	fmt.Println("  [Ingest]")
	fmt.Printf("    Address:           %s\n", cfg.Ingest.Addr)
	fmt.Printf("    Backend:           %s\n", cfg.Ingest.Backend)
	switch cfg.Ingest.Backend {
	case "dynamodb":
		fmt.Printf("    Sessions table:    %s\n", cfg.Ingest.SessionsTable)
		fmt.Printf("    Biomarkers table:  %s\n", cfg.Ingest.BiomarkersTable)
		fmt.Printf("    Region:            %s\n", cfg.Ingest.Region)
		if cfg.Ingest.Endpoint != "" {
			fmt.Printf("    Endpoint:          %s\n", cfg.Ingest.Endpoint)
		}
	default:
		fmt.Printf("    Database:          %s\n", config.IngestSQLitePath(cfg))
	}
	fmt.Printf("    Retention:         %s\n", cfg.Ingest.Retention.Duration)
	fmt.Println()

	fmt.Println("  [Logging]")
	fmt.Printf("    Level:             %s\n", cfg.Logging.Level)
	fmt.Printf("    Development:       %v\n", cfg.Logging.Development)
	fmt.Println()

	fmt.Println("  [Appearance]")
	fmt.Printf("    Theme:             %s\n", cfg.Appearance.Theme)
	fmt.Println()

	fmt.Println("  Run `autisense setup` to reconfigure.")
	return nil
}
