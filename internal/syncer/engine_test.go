package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autisense/autisense/internal/connectivity"
	"github.com/autisense/autisense/internal/model"
	"github.com/autisense/autisense/internal/remote"
	"github.com/autisense/autisense/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakePusher struct {
	mu    sync.Mutex
	calls []model.SyncRequest
	fail  map[string]error
	// block, if set, is received from before each push returns.
	block   chan struct{}
	entered chan struct{}
}

func (p *fakePusher) Push(_ context.Context, req model.SyncRequest) (model.SyncResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	err := p.fail[req.Session.ID]
	p.mu.Unlock()

	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	if err != nil {
		return model.SyncResponse{}, err
	}
	return model.SyncResponse{OK: true, SessionID: req.Session.ID}, nil
}

func (p *fakePusher) Calls() []model.SyncRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.SyncRequest(nil), p.calls...)
}

type online bool

func (o online) Online() bool { return bool(o) }

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createSession(t *testing.T, s *store.Store, id string) {
	t.Helper()
	_, err := s.CreateSession(context.Background(), model.NewSession{
		ID:        id,
		UserID:    "anon-device",
		ChildName: "Aarav",
		AgeMonths: 30,
		Language:  "Hindi",
		Gender:    "boy",
	})
	require.NoError(t, err)
}

func TestRequestFlush_DeliversS1WithoutChildName(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	createSession(t, s, "S1")

	readings := []struct {
		task model.TaskID
		r    model.Reading
	}{
		{model.TaskGazeTracking, model.Reading{GazeScore: 0.3, MotorScore: 0.6, VocalizationScore: 0.2}},
		{model.TaskMotorTap, model.Reading{GazeScore: 0.3, MotorScore: 0.2, VocalizationScore: 0.2}},
	}
	for _, rd := range readings {
		_, err := s.AppendBiomarker(ctx, "S1", rd.task, rd.r)
		require.NoError(t, err)
	}
	_, err := s.CompleteSession(ctx, "S1")
	require.NoError(t, err)

	p := &fakePusher{}
	e := New(s, p, online(true), Options{})
	rep, err := e.RequestFlush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Attempted)
	assert.Equal(t, 1, rep.Synced)
	assert.False(t, rep.Skipped())

	calls := p.Calls()
	require.Len(t, calls, 1)
	body, err := json.Marshal(calls[0])
	require.NoError(t, err)
	assert.NotContains(t, strings.ToLower(string(body)), "childname")
	assert.NotContains(t, string(body), "Aarav")

	agg := calls[0].Biomarkers
	require.NotNil(t, agg)
	assert.Equal(t, "S1", agg.SessionID)
	assert.Equal(t, 2, agg.SampleCount)
	assert.Equal(t, 0.3, agg.AvgGazeScore)
	assert.Equal(t, 0.4, agg.AvgMotorScore)
	assert.Equal(t, 0.2, agg.AvgVocalizationScore)
	assert.Equal(t, 30, agg.OverallScore)
	assert.True(t, agg.Flags.SocialCommunication)
	assert.False(t, agg.Flags.RestrictedBehavior)

	n, err := s.SyncQueueCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sess, err := s.GetSession(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSynced, sess.Status)
	assert.True(t, sess.Synced)
}

func TestRequestFlush_InProgressSessionHasNullAggregate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	createSession(t, s, "S1")

	p := &fakePusher{}
	_, err := New(s, p, online(true), Options{}).RequestFlush(ctx)
	require.NoError(t, err)

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Biomarkers)
	assert.Equal(t, model.StatusInProgress, calls[0].Session.Status)
}

func TestRequestFlush_OfflineMakesNoCalls(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	createSession(t, s, "S1")

	var reports []Report
	p := &fakePusher{}
	e := New(s, p, online(false), Options{OnReport: func(r Report) { reports = append(reports, r) }})
	rep, err := e.RequestFlush(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonOffline, rep.Reason)
	assert.Empty(t, p.Calls())
	require.Len(t, reports, 1)
	assert.Equal(t, ReasonOffline, reports[0].Reason)

	entries, err := s.ListPendingSyncEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].RetryCount)
}

func TestRequestFlush_ExhaustedEntriesStayListedButAreSkipped(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	createSession(t, s, "S1")

	p := &fakePusher{fail: map[string]error{"S1": errors.New("connection refused")}}
	e := New(s, p, online(true), Options{MaxRetries: 3})

	for i := 0; i < 3; i++ {
		rep, err := e.RequestFlush(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Failed)
	}
	require.Len(t, p.Calls(), 3)

	rep, err := e.RequestFlush(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Attempted)
	assert.Equal(t, 1, rep.Exhausted)
	assert.Len(t, p.Calls(), 3, "exhausted entry must not be pushed")

	entries, err := s.ListPendingSyncEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].RetryCount)

	require.NoError(t, s.ResetRetry(ctx, entries[0].ID))
	delete(p.fail, "S1")
	rep, err = e.RequestFlush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Synced)
}

func TestRequestFlush_FailureDoesNotBlockLaterEntries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	createSession(t, s, "A")
	createSession(t, s, "B")

	p := &fakePusher{fail: map[string]error{"A": &remote.StatusError{Code: 503}}}
	rep, err := New(s, p, online(true), Options{}).RequestFlush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Attempted)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Synced)

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "A", calls[0].Session.ID, "FIFO order")
	assert.Equal(t, "B", calls[1].Session.ID)

	entries, err := s.ListPendingSyncEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].SessionID)
	assert.Equal(t, 1, entries[0].RetryCount)
}

func TestRequestFlush_RejectionLoggedAsError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	createSession(t, s, "S1")

	core, logs := observer.New(zapcore.InfoLevel)
	p := &fakePusher{fail: map[string]error{"S1": fmt.Errorf("%w: PII field detected in payload", remote.ErrRejected)}}
	_, err := New(s, p, online(true), Options{Logger: zap.New(core)}).RequestFlush(ctx)
	require.NoError(t, err)

	rejected := logs.FilterMessage("payload rejected by ingest service").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, zapcore.ErrorLevel, rejected[0].Level)

	entries, err := s.ListPendingSyncEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
}

type orphanStore struct {
	*store.Store
	missing string
}

func (o orphanStore) GetSession(ctx context.Context, id string) (model.Session, error) {
	if id == o.missing {
		return model.Session{}, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return o.Store.GetSession(ctx, id)
}

func TestRequestFlush_RemovesOrphanedEntries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	createSession(t, s, "gone")
	createSession(t, s, "kept")

	p := &fakePusher{}
	rep, err := New(orphanStore{Store: s, missing: "gone"}, p, online(true), Options{}).RequestFlush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Orphaned)
	assert.Equal(t, 1, rep.Synced)
	require.Len(t, p.Calls(), 1)
	assert.Equal(t, "kept", p.Calls()[0].Session.ID)

	n, err := s.SyncQueueCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRequestFlush_RequireCompletedDefersInProgress(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	createSession(t, s, "open")
	createSession(t, s, "done")
	_, err := s.CompleteSession(ctx, "done")
	require.NoError(t, err)

	p := &fakePusher{}
	rep, err := New(s, p, online(true), Options{RequireCompleted: true}).RequestFlush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deferred)
	assert.Equal(t, 1, rep.Synced)

	entries, err := s.ListPendingSyncEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "open", entries[0].SessionID)
	assert.Zero(t, entries[0].RetryCount)
}

func TestRequestFlush_ConcurrentRequestsCollapse(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	createSession(t, s, "S1")

	p := &fakePusher{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	e := New(s, p, online(true), Options{})

	done := make(chan Report, 1)
	go func() {
		rep, _ := e.RequestFlush(ctx)
		done <- rep
	}()
	<-p.entered

	rep, err := e.RequestFlush(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonBusy, rep.Reason)

	close(p.block)
	first := <-done
	assert.Equal(t, 1, first.Synced)
	assert.Len(t, p.Calls(), 1)
}

func TestRequestFlush_StopsOnCancelledContext(t *testing.T) {
	s := newStore(t)
	createSession(t, s, "S1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &fakePusher{}
	_, err := New(s, p, online(true), Options{}).RequestFlush(ctx)
	require.Error(t, err)
	assert.Empty(t, p.Calls())
}

func TestRun_FlushesOnReconnect(t *testing.T) {
	s := newStore(t)
	createSession(t, s, "S1")

	mon := connectivity.New(false)
	reports := make(chan Report, 4)
	p := &fakePusher{}
	e := New(s, p, mon, Options{OnReport: func(r Report) { reports <- r }})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, mon) }()

	// Subscription happens inside Run; keep toggling until it is observed.
	deadline := time.After(2 * time.Second)
	for delivered := false; !delivered; {
		mon.Set(false)
		mon.Set(true)
		select {
		case r := <-reports:
			delivered = r.Synced == 1
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no flush after reconnect")
		}
	}

	cancel()
	require.NoError(t, <-done)
	assert.Len(t, p.Calls(), 1)
}

func TestRetryBudget(t *testing.T) {
	assert.Equal(t, DefaultMaxRetries, RetryBudget(0))
	assert.Equal(t, DefaultMaxRetries, RetryBudget(-3))
	assert.Equal(t, 7, RetryBudget(7))

	e := New(nil, nil, nil, Options{})
	assert.Equal(t, DefaultMaxRetries, e.MaxRetries())
}
