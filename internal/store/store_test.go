package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/autisense/autisense/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	s, err := Open(MemoryPath, WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func s1() model.NewSession {
	return model.NewSession{
		ID:        "S1",
		UserID:    "anon-device",
		ChildName: "Aarav",
		AgeMonths: 30,
		Language:  "Hindi",
		Gender:    "boy",
	}
}

func TestCreateSession_PersistsSessionAndQueueEntry(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)

	sess, err := s.CreateSession(ctx, s1())
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, sess.Status)
	assert.False(t, sess.Synced)
	assert.Nil(t, sess.CompletedAt)
	assert.Equal(t, clk.t.UnixMilli(), sess.CreatedAt)

	got, err := s.GetSession(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	entries, err := s.ListPendingSyncEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "S1", entries[0].SessionID)
	assert.Equal(t, 0, entries[0].RetryCount)
	assert.Equal(t, sess.CreatedAt, entries[0].QueuedAt)
}

func TestCreateSession_Validation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	cases := map[string]func(*model.NewSession){
		"missing id":     func(n *model.NewSession) { n.ID = "" },
		"missing user":   func(n *model.NewSession) { n.UserID = " " },
		"missing name":   func(n *model.NewSession) { n.ChildName = "" },
		"negative age":   func(n *model.NewSession) { n.AgeMonths = -1 },
		"missing lang":   func(n *model.NewSession) { n.Language = "" },
		"missing gender": func(n *model.NewSession) { n.Gender = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := s1()
			mutate(&in)
			_, err := s.CreateSession(ctx, in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	n, err := s.SyncQueueCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed creates must not leave queue entries")
}

func TestCreateSession_DuplicateIDIsAtomic(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.CreateSession(ctx, s1())
	require.NoError(t, err)

	dup := s1()
	dup.ChildName = "Other"
	_, err = s.CreateSession(ctx, dup)
	require.ErrorIs(t, err, ErrValidation)

	got, err := s.GetSession(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "Aarav", got.ChildName)

	n, err := s.SyncQueueCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAppendBiomarker_ClampsScores(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.CreateSession(ctx, s1())
	require.NoError(t, err)

	inputs := []model.Reading{
		{GazeScore: -0.5, MotorScore: 1.7, VocalizationScore: math.NaN()},
		{GazeScore: math.Inf(1), MotorScore: math.Inf(-1), VocalizationScore: 0.25},
	}
	for _, r := range inputs {
		_, err := s.AppendBiomarker(ctx, "S1", model.TaskMotorTap, r)
		require.NoError(t, err)
	}

	rows, err := s.GetBiomarkersForSession(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 0.0, rows[0].GazeScore)
	assert.Equal(t, 1.0, rows[0].MotorScore)
	assert.Equal(t, 0.0, rows[0].VocalizationScore)
	assert.Equal(t, 1.0, rows[1].GazeScore)
	assert.Equal(t, 0.0, rows[1].MotorScore)
	assert.Equal(t, 0.25, rows[1].VocalizationScore)
	for _, b := range rows {
		assert.Equal(t, "anon-device", b.UserID)
	}
}

func TestAppendBiomarker_Rejections(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.CreateSession(ctx, s1())
	require.NoError(t, err)

	_, err = s.AppendBiomarker(ctx, "missing", model.TaskGazeTracking, model.Reading{})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.AppendBiomarker(ctx, "S1", model.TaskID("juggling"), model.Reading{})
	require.ErrorIs(t, err, ErrValidation)

	neg := int64(-3)
	_, err = s.AppendBiomarker(ctx, "S1", model.TaskGazeTracking, model.Reading{ResponseLatencyMs: &neg})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAppendBiomarker_TimestampsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)
	_, err := s.CreateSession(ctx, s1())
	require.NoError(t, err)

	// Same millisecond, then a clock step backwards.
	_, err = s.AppendBiomarker(ctx, "S1", model.TaskGazeTracking, model.Reading{})
	require.NoError(t, err)
	_, err = s.AppendBiomarker(ctx, "S1", model.TaskMotorTap, model.Reading{})
	require.NoError(t, err)
	clk.Advance(-time.Minute)
	_, err = s.AppendBiomarker(ctx, "S1", model.TaskSoundMatch, model.Reading{})
	require.NoError(t, err)

	rows, err := s.GetBiomarkersForSession(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i := 1; i < len(rows); i++ {
		assert.Greater(t, rows[i].Timestamp, rows[i-1].Timestamp)
	}
	assert.Equal(t, []model.TaskID{model.TaskGazeTracking, model.TaskMotorTap, model.TaskSoundMatch},
		[]model.TaskID{rows[0].TaskID, rows[1].TaskID, rows[2].TaskID})

	byTask, err := s.GetBiomarkersByTask(ctx, "S1", model.TaskMotorTap)
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	assert.Equal(t, model.TaskMotorTap, byTask[0].TaskID)
}

func TestListSessionsForUser_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		in := s1()
		in.ID = id
		_, err := s.CreateSession(ctx, in)
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
	other := s1()
	other.ID = "x"
	other.UserID = "anon-other"
	_, err := s.CreateSession(ctx, other)
	require.NoError(t, err)

	list, err := s.ListSessionsForUser(ctx, "anon-device")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "a", list[2].ID)
}

func TestCompleteSession_Transitions(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)
	created, err := s.CreateSession(ctx, s1())
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	done, err := s.CompleteSession(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, created.CreatedAt+5*60*1000, *done.CompletedAt)

	_, err = s.CompleteSession(ctx, "S1")
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.MarkSynced(ctx, "S1"))
	_, err = s.CompleteSession(ctx, "S1")
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err := s.GetSession(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, *done.CompletedAt, *got.CompletedAt, "completedAt is set exactly once")

	_, err = s.CompleteSession(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteSession_NeverBeforeCreatedAt(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)
	created, err := s.CreateSession(ctx, s1())
	require.NoError(t, err)

	clk.Advance(-time.Hour)
	done, err := s.CompleteSession(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, *done.CompletedAt)
}

func TestMarkSynced_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.CreateSession(ctx, s1())
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, "S1"))
	require.NoError(t, s.MarkSynced(ctx, "S1"))

	got, err := s.GetSession(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSynced, got.Status)
	assert.True(t, got.Synced)

	require.ErrorIs(t, s.MarkSynced(ctx, "nope"), ErrNotFound)
}

func TestDeleteSession_LeavesNoResidue(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.CreateSession(ctx, s1())
	require.NoError(t, err)
	keep := s1()
	keep.ID = "S2"
	_, err = s.CreateSession(ctx, keep)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.AppendBiomarker(ctx, "S1", model.TaskGazeTracking, model.Reading{GazeScore: 0.2})
		require.NoError(t, err)
	}
	_, err = s.AppendBiomarker(ctx, "S2", model.TaskGazeTracking, model.Reading{GazeScore: 0.9})
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, "S1"))

	_, err = s.GetSession(ctx, "S1")
	require.ErrorIs(t, err, ErrNotFound)

	rows, err := s.GetBiomarkersForSession(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	entries, err := s.ListPendingSyncEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "S2", entries[0].SessionID)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM biomarkers WHERE session_id = 'S1'").Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, s.DeleteSession(ctx, "S1"), "deleting twice is a no-op")
}

func TestQueue_FIFOAndRetries(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)
	for _, id := range []string{"first", "second"} {
		in := s1()
		in.ID = id
		_, err := s.CreateSession(ctx, in)
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
	}

	entries, err := s.ListPendingSyncEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].SessionID)
	assert.Equal(t, "second", entries[1].SessionID)

	require.NoError(t, s.IncrementRetry(ctx, entries[0].ID))
	require.NoError(t, s.IncrementRetry(ctx, entries[0].ID))
	require.NoError(t, s.IncrementRetry(ctx, 9999), "missing entry is ignored")

	entries, err = s.ListPendingSyncEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, entries[0].RetryCount)

	require.NoError(t, s.ResetRetry(ctx, entries[0].ID))
	require.ErrorIs(t, s.ResetRetry(ctx, 9999), ErrNotFound)

	require.NoError(t, s.RemoveSyncEntry(ctx, "first"))
	n, err := s.SyncQueueCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cleared, err := s.ClearSyncQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-1, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {2, 1}, {math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
