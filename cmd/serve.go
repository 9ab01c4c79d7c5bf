package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/autisense/autisense/internal/config"
	"github.com/autisense/autisense/internal/ingest"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagServeAddr    string
	flagServeBackend string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest service that receives uploads",
	Long: "Accept session uploads on POST /api/sync. Payloads carrying a child's name are " +
		"rejected. Repeated uploads of the same session are acknowledged without a second write.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "HTTP listen address (default from config)")
	serveCmd.Flags().StringVar(&flagServeBackend, "backend", "", "Storage backend: sqlite or dynamodb (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// openIngestBackend returns the configured backend and a function that
// releases it.
func openIngestBackend(ctx context.Context, cfg config.Config) (ingest.Backend, func(), error) {
	switch cfg.Ingest.Backend {
	case "", "sqlite":
		b, err := ingest.OpenSQLite(config.IngestSQLitePath(cfg))
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	case "dynamodb":
		b, err := ingest.NewDynamoBackend(ctx, ingest.DynamoConfig{
			SessionsTable:   cfg.Ingest.SessionsTable,
			BiomarkersTable: cfg.Ingest.BiomarkersTable,
			Region:          cfg.Ingest.Region,
			Endpoint:        cfg.Ingest.Endpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown ingest backend %q (want sqlite or dynamodb)", cfg.Ingest.Backend)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagServeAddr != "" {
		cfg.Ingest.Addr = flagServeAddr
	}
	if flagServeBackend != "" {
		cfg.Ingest.Backend = flagServeBackend
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	backend, closeBackend, err := openIngestBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	svc := ingest.New(ingest.Config{
		Addr:      cfg.Ingest.Addr,
		Retention: cfg.Ingest.Retention.Duration,
	}, backend, log)

	fmt.Printf("  autisense ingest listening on http://%s/api/sync\n", cfg.Ingest.Addr)
	fmt.Printf("  Backend: %s\n", cfg.Ingest.Backend)
	log.Info("ingest started",
		zap.String("addr", cfg.Ingest.Addr),
		zap.String("backend", cfg.Ingest.Backend),
		zap.Duration("retention", cfg.Ingest.Retention.Duration),
	)

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
