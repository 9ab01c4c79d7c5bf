// Package syncer drains the local upload queue to the ingest service.
//
// Delivery is at-least-once: an entry is removed only after the remote
// acknowledged it, and the remote treats a repeated session id as success.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autisense/autisense/internal/logging"
	"github.com/autisense/autisense/internal/model"
	"github.com/autisense/autisense/internal/pipeline"
	"github.com/autisense/autisense/internal/remote"
	"github.com/autisense/autisense/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxRetries is the retry budget per queue entry.
const DefaultMaxRetries = 5

// RetryBudget resolves a configured retry budget; zero or negative means
// DefaultMaxRetries.
func RetryBudget(n int) int {
	if n <= 0 {
		return DefaultMaxRetries
	}
	return n
}

// Skip reasons reported when a flush does not drain.
const (
	ReasonBusy    = "busy"
	ReasonOffline = "offline"
)

// Store is the subset of the local store the engine needs.
type Store interface {
	ListPendingSyncEntries(ctx context.Context) ([]model.SyncQueueEntry, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	GetBiomarkersForSession(ctx context.Context, sessionID string) ([]model.Biomarker, error)
	IncrementRetry(ctx context.Context, entryID int64) error
	RemoveSyncEntry(ctx context.Context, sessionID string) error
	MarkSynced(ctx context.Context, id string) error
}

// Pusher delivers one payload to the ingest service.
type Pusher interface {
	Push(ctx context.Context, req model.SyncRequest) (model.SyncResponse, error)
}

// Connectivity reports whether the ingest service is believed reachable.
type Connectivity interface {
	Online() bool
}

// Notifier delivers offline to online transitions.
type Notifier interface {
	Connectivity
	Subscribe() (<-chan struct{}, func())
}

// Options configures an Engine.
type Options struct {
	MaxRetries       int
	RequireCompleted bool
	Logger           *zap.Logger
	// OnReport is called after every flush attempt, including skipped ones.
	OnReport func(Report)
}

// Report summarizes one flush attempt.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Reason    string        `json:"reason,omitempty"`
	Attempted int           `json:"attempted"`
	Synced    int           `json:"synced"`
	Replayed  int           `json:"replayed"`
	Failed    int           `json:"failed"`
	Exhausted int           `json:"exhausted"`
	Orphaned  int           `json:"orphaned"`
	Deferred  int           `json:"deferred"`
	Errors    []string      `json:"errors,omitempty"`
}

// Skipped reports whether the flush returned without draining.
func (r Report) Skipped() bool {
	return r.Reason != ""
}

// Engine owns the single-flight flush guard.
type Engine struct {
	store  Store
	pusher Pusher
	conn   Connectivity
	opts   Options
	log    *zap.Logger
	guard  *semaphore.Weighted
}

// New creates an engine. A nil Connectivity is treated as always online.
func New(s Store, p Pusher, c Connectivity, opts Options) *Engine {
	opts.MaxRetries = RetryBudget(opts.MaxRetries)
	log := logging.OrNop(opts.Logger)
	return &Engine{
		store:  s,
		pusher: p,
		conn:   c,
		opts:   opts,
		log:    log.Named("syncer"),
		guard:  semaphore.NewWeighted(1),
	}
}

// MaxRetries returns the effective retry budget.
func (e *Engine) MaxRetries() int {
	return e.opts.MaxRetries
}

// RequestFlush runs one drain pass unless one is already running or the
// device is offline. Concurrent callers never queue behind the running pass.
func (e *Engine) RequestFlush(ctx context.Context) (Report, error) {
	rep := Report{StartedAt: time.Now()}

	if !e.guard.TryAcquire(1) {
		rep.Reason = ReasonBusy
		e.log.Debug("flush already in progress")
		e.report(rep)
		return rep, nil
	}
	defer e.guard.Release(1)

	if e.conn != nil && !e.conn.Online() {
		rep.Reason = ReasonOffline
		e.log.Debug("offline, flush skipped")
		e.report(rep)
		return rep, nil
	}

	err := e.drain(ctx, &rep)
	rep.Duration = time.Since(rep.StartedAt)
	e.log.Info("flush finished",
		zap.Int("attempted", rep.Attempted),
		zap.Int("synced", rep.Synced),
		zap.Int("failed", rep.Failed),
		zap.Int("exhausted", rep.Exhausted),
		zap.Int("orphaned", rep.Orphaned),
		zap.Int("deferred", rep.Deferred),
		zap.Duration("duration", rep.Duration),
	)
	e.report(rep)
	return rep, err
}

func (e *Engine) report(rep Report) {
	if e.opts.OnReport != nil {
		e.opts.OnReport(rep)
	}
}

func (e *Engine) drain(ctx context.Context, rep *Report) error {
	entries, err := e.store.ListPendingSyncEntries(ctx)
	if err != nil {
		return fmt.Errorf("listing queue: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := e.log.With(zap.String("session_id", entry.SessionID), zap.Int64("entry_id", entry.ID))

		if entry.Exhausted(e.opts.MaxRetries) {
			rep.Exhausted++
			log.Warn("queue entry exhausted its retries, skipping", zap.Int("retry_count", entry.RetryCount))
			continue
		}

		sess, err := e.store.GetSession(ctx, entry.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			if err := e.store.RemoveSyncEntry(ctx, entry.SessionID); err != nil {
				e.storageError(log, rep, "removing orphaned entry", err)
				continue
			}
			rep.Orphaned++
			log.Info("removed orphaned queue entry")
			continue
		}
		if err != nil {
			e.storageError(log, rep, "loading session", err)
			continue
		}

		if e.opts.RequireCompleted && sess.Status == model.StatusInProgress {
			rep.Deferred++
			continue
		}

		readings, err := e.store.GetBiomarkersForSession(ctx, sess.ID)
		if err != nil {
			e.storageError(log, rep, "loading readings", err)
			continue
		}

		req := model.SyncRequest{
			Session:    model.PayloadFromSession(sess),
			Biomarkers: pipeline.Aggregate(readings),
		}

		rep.Attempted++
		resp, err := e.pusher.Push(ctx, req)
		if err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, err.Error())
			fields := []zap.Field{zap.Error(err), zap.Int("retry_count", entry.RetryCount+1)}
			if errors.Is(err, remote.ErrRejected) {
				log.Error("payload rejected by ingest service", fields...)
			} else {
				log.Warn("upload failed", fields...)
			}
			if err := e.store.IncrementRetry(ctx, entry.ID); err != nil {
				e.storageError(log, rep, "incrementing retry", err)
			}
			continue
		}

		if err := e.store.RemoveSyncEntry(ctx, sess.ID); err != nil {
			// Left queued; the next pass replays and the remote answers already_exists.
			e.storageError(log, rep, "removing delivered entry", err)
			continue
		}
		if err := e.store.MarkSynced(ctx, sess.ID); err != nil {
			e.storageError(log, rep, "marking session synced", err)
			continue
		}
		rep.Synced++
		if resp.Note == model.NoteAlreadyExists {
			rep.Replayed++
		}
		log.Debug("session delivered", zap.String("note", resp.Note))
	}
	return nil
}

func (e *Engine) storageError(log *zap.Logger, rep *Report, op string, err error) {
	rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", op, err))
	log.Error("local storage error", zap.String("op", op), zap.Error(err))
}

// Run flushes once if online, then again after every reconnect, until ctx
// is cancelled. There is no periodic timer.
func (e *Engine) Run(ctx context.Context, n Notifier) error {
	ch, cancel := n.Subscribe()
	defer cancel()

	if n.Online() {
		e.flushLogged(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			e.flushLogged(ctx)
		}
	}
}

func (e *Engine) flushLogged(ctx context.Context) {
	if _, err := e.RequestFlush(ctx); err != nil && ctx.Err() == nil {
		e.log.Error("flush failed", zap.Error(err))
	}
}
