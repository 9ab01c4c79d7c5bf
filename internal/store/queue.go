package store

import (
	"context"
	"fmt"

	"github.com/autisense/autisense/internal/model"

	"go.uber.org/zap"
)

// ListPendingSyncEntries returns every queue entry, oldest first. Entries
// that have exhausted their retries are included.
func (s *Store) ListPendingSyncEntries(ctx context.Context) ([]model.SyncQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, queued_at, retry_count
		FROM sync_queue ORDER BY queued_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []model.SyncQueueEntry
	for rows.Next() {
		var e model.SyncQueueEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.QueuedAt, &e.RetryCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SyncQueueCount returns the number of queue entries.
func (s *Store) SyncQueueCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&count)
	return count, err
}

// IncrementRetry bumps an entry's retry counter after a failed remote call.
// A missing entry is ignored.
func (s *Store) IncrementRetry(ctx context.Context, entryID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE sync_queue SET retry_count = retry_count + 1 WHERE id = ?", entryID)
	if err != nil {
		return fmt.Errorf("incrementing retry: %w", err)
	}
	return nil
}

// ResetRetry puts an exhausted entry back into normal rotation.
func (s *Store) ResetRetry(ctx context.Context, entryID int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE sync_queue SET retry_count = 0 WHERE id = ?", entryID)
	if err != nil {
		return fmt.Errorf("resetting retry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("queue entry %d: %w", entryID, ErrNotFound)
	}
	s.log.Info("queue entry requeued", zap.Int64("entry_id", entryID))
	return nil
}

// RemoveSyncEntry deletes the queue entry for a session.
func (s *Store) RemoveSyncEntry(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("removing queue entry: %w", err)
	}
	return nil
}

// ClearSyncQueue drops every queue entry. Development use only.
func (s *Store) ClearSyncQueue(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sync_queue")
	if err != nil {
		return 0, fmt.Errorf("clearing queue: %w", err)
	}
	n, _ := res.RowsAffected()
	s.log.Warn("sync queue cleared", zap.Int64("entries", n))
	return n, nil
}
