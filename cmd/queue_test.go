package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/autisense/autisense/internal/model"
	"github.com/autisense/autisense/internal/store"
	"github.com/autisense/autisense/internal/syncer"

	"github.com/spf13/cobra"
)

// A zero budget in the config file falls back to the engine default, so
// fresh entries are not treated as exhausted.
func TestQueueRetryAllExhaustedUsesEffectiveBudget(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(cfgFile, []byte("[sync]\nmax_retries = 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	oldCfg, oldDB, oldLevel, oldAll := flagConfigPath, flagDB, flagLogLevel, flagQueueAllExhausted
	t.Cleanup(func() {
		flagConfigPath, flagDB, flagLogLevel, flagQueueAllExhausted = oldCfg, oldDB, oldLevel, oldAll
	})
	flagConfigPath = cfgFile
	flagDB = filepath.Join(dir, "local.db")
	flagLogLevel = "error"
	flagQueueAllExhausted = true

	ctx := context.Background()
	st, err := store.Open(flagDB)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	for _, id := range []string{"fresh", "stuck"} {
		if _, err := st.CreateSession(ctx, model.NewSession{
			ID: id, UserID: "anon-1", ChildName: "Kid", AgeMonths: 30, Language: "en", Gender: "girl",
		}); err != nil {
			t.Fatalf("CreateSession(%s): %v", id, err)
		}
	}
	entries, err := st.ListPendingSyncEntries(ctx)
	if err != nil || len(entries) != 2 {
		t.Fatalf("entries = %v, err = %v", entries, err)
	}
	var stuckID int64
	for _, q := range entries {
		if q.SessionID != "stuck" {
			continue
		}
		stuckID = q.ID
		for i := 0; i < syncer.DefaultMaxRetries; i++ {
			if err := st.IncrementRetry(ctx, q.ID); err != nil {
				t.Fatal(err)
			}
		}
	}
	// Leave the fresh entry with one failure so a reset would be visible.
	for _, q := range entries {
		if q.SessionID == "fresh" {
			if err := st.IncrementRetry(ctx, q.ID); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	c := &cobra.Command{}
	c.SetContext(ctx)
	if err := runQueueRetry(c, nil); err != nil {
		t.Fatalf("runQueueRetry: %v", err)
	}

	st, err = store.Open(flagDB)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	entries, err = st.ListPendingSyncEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range entries {
		switch {
		case q.ID == stuckID && q.RetryCount != 0:
			t.Errorf("exhausted entry retry_count = %d, want 0", q.RetryCount)
		case q.SessionID == "fresh" && q.RetryCount != 1:
			t.Errorf("fresh entry retry_count = %d, want 1 (untouched)", q.RetryCount)
		}
	}
}
