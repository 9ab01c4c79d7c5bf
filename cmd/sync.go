package cmd

import (
	"fmt"
	"time"

	"github.com/autisense/autisense/internal/cli"
	"github.com/autisense/autisense/internal/connectivity"
	"github.com/autisense/autisense/internal/remote"
	"github.com/autisense/autisense/internal/syncer"

	"github.com/spf13/cobra"
)

var flagSyncOffline bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one upload pass over the queue",
	Long: "Deliver every pending session to the ingest endpoint once. Failed uploads stay queued " +
		"with their retry count raised; a later pass or the daemon picks them up.",
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&flagSyncOffline, "offline", false, "Treat the device as offline (no network calls)")
	rootCmd.AddCommand(syncCmd)
}

func newRemoteClient(e *env) (*remote.Client, error) {
	return remote.NewClient(e.cfg.Sync.Endpoint, e.cfg.Sync.RequestTimeout.Duration)
}

// newEngine wires the local store to the remote client. A nil conn means
// the device is assumed online.
func newEngine(e *env, conn syncer.Connectivity) (*syncer.Engine, error) {
	client, err := newRemoteClient(e)
	if err != nil {
		return nil, err
	}
	return syncer.New(e.store, client, conn, syncer.Options{
		MaxRetries:       e.cfg.Sync.MaxRetries,
		RequireCompleted: e.cfg.Sync.RequireCompleted,
		Logger:           e.log,
	}), nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	var conn syncer.Connectivity
	if flagSyncOffline {
		conn = connectivity.New(false)
	}
	engine, err := newEngine(e, conn)
	if err != nil {
		return err
	}

	rep, err := engine.RequestFlush(cmd.Context())
	printReport(rep)
	return err
}

func printReport(rep syncer.Report) {
	fmt.Println()
	if rep.Skipped() {
		fmt.Println(cli.RenderWarning("Flush skipped: " + rep.Reason))
		fmt.Println()
		return
	}

	fmt.Print(cli.RenderFields("Flush report", []cli.Field{
		{Label: "Attempted", Value: cli.FormatNumber(int64(rep.Attempted))},
		{Label: "Synced", Value: cli.FormatNumber(int64(rep.Synced))},
		{Label: "Already on server", Value: cli.FormatNumber(int64(rep.Replayed))},
		{Label: "Failed", Value: cli.FormatNumber(int64(rep.Failed))},
		{Label: "Exhausted", Value: cli.FormatNumber(int64(rep.Exhausted))},
		{Label: "Orphans removed", Value: cli.FormatNumber(int64(rep.Orphaned))},
		{Label: "Deferred", Value: cli.FormatNumber(int64(rep.Deferred))},
		{Label: "Duration", Value: rep.Duration.Round(time.Millisecond).String()},
	}))
	for _, msg := range rep.Errors {
		fmt.Println(cli.RenderWarning(msg))
	}
	fmt.Println()
}
