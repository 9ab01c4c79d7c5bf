package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/autisense/autisense/internal/cli"
	"github.com/autisense/autisense/internal/store"
	"github.com/autisense/autisense/internal/syncer"

	"github.com/spf13/cobra"
)

var (
	flagQueueAllExhausted bool
	flagQueueForce        bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage pending uploads",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending uploads, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry [entry-id]",
	Short: "Reset the retry count of an exhausted upload",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQueueRetry,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every pending upload (sessions stay on this device)",
	Args:  cobra.NoArgs,
	RunE:  runQueueClear,
}

func init() {
	queueRetryCmd.Flags().BoolVar(&flagQueueAllExhausted, "all-exhausted", false, "Requeue every exhausted entry")
	queueClearCmd.Flags().BoolVar(&flagQueueForce, "force", false, "Confirm dropping the queue")

	queueCmd.AddCommand(queueListCmd, queueRetryCmd, queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueueList(cmd *cobra.Command, _ []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	entries, err := e.store.ListPendingSyncEntries(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("\n  Queue is empty.")
		return nil
	}

	maxRetries := syncer.RetryBudget(e.cfg.Sync.MaxRetries)
	exhausted := 0
	rows := make([][]string, 0, len(entries))
	for _, q := range entries {
		status := "pending"
		if q.Exhausted(maxRetries) {
			status = "exhausted"
			exhausted++
		}
		sessStatus := "orphaned"
		if s, err := e.store.GetSession(ctx, q.SessionID); err == nil {
			sessStatus = string(s.Status)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		rows = append(rows, []string{
			strconv.FormatInt(q.ID, 10),
			q.SessionID,
			sessStatus,
			cli.FormatMillis(q.QueuedAt),
			cli.FormatRetries(q.RetryCount, maxRetries),
			cli.RenderStatus(status),
		})
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:    fmt.Sprintf("Sync queue (%d pending)", len(entries)),
		Headers:  []string{"Entry", "Session", "Session status", "Queued", "Retries", "State"},
		Rows:     rows,
		LeftCols: 4,
	}))
	if exhausted > 0 {
		fmt.Println()
		fmt.Println(cli.RenderWarning(fmt.Sprintf(
			"%d entr%s exhausted the retry budget. Requeue with: autisense queue retry --all-exhausted",
			exhausted, plural(exhausted, "y", "ies"))))
	}
	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !flagQueueAllExhausted {
		return errors.New("pass an entry id or --all-exhausted")
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid entry id %q", args[0])
		}
		if err := e.store.ResetRetry(ctx, id); err != nil {
			return err
		}
		fmt.Printf("  Requeued entry %d\n", id)
		return nil
	}

	entries, err := e.store.ListPendingSyncEntries(ctx)
	if err != nil {
		return err
	}
	maxRetries := syncer.RetryBudget(e.cfg.Sync.MaxRetries)
	n := 0
	for _, q := range entries {
		if !q.Exhausted(maxRetries) {
			continue
		}
		if err := e.store.ResetRetry(ctx, q.ID); err != nil {
			return err
		}
		n++
	}
	fmt.Printf("  Requeued %d exhausted entr%s\n", n, plural(n, "y", "ies"))
	return nil
}

func runQueueClear(cmd *cobra.Command, _ []string) error {
	if !flagQueueForce {
		return errors.New("clearing drops every pending upload; re-run with --force")
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.store.ClearSyncQueue(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("  Dropped %d queue entr%s\n", n, plural(int(n), "y", "ies"))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
