package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/autisense/autisense/internal/model"

	"go.uber.org/zap"
)

const sessionColumns = `id, user_id, child_name, age_months, language, gender,
	created_at, completed_at, status, synced`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (model.Session, error) {
	var s model.Session
	var completedAt sql.NullInt64
	var status string
	var synced int
	err := r.Scan(&s.ID, &s.UserID, &s.ChildName, &s.AgeMonths, &s.Language, &s.Gender,
		&s.CreatedAt, &completedAt, &status, &synced)
	if err != nil {
		return model.Session{}, err
	}
	s.CompletedAt = int64Ptr(completedAt)
	s.Status = model.SessionStatus(status)
	s.Synced = synced != 0
	return s, nil
}

func validateNewSession(in model.NewSession) error {
	switch {
	case strings.TrimSpace(in.ID) == "":
		return validationError("id", "is required")
	case strings.TrimSpace(in.UserID) == "":
		return validationError("userId", "is required")
	case strings.TrimSpace(in.ChildName) == "":
		return validationError("childName", "is required")
	case in.AgeMonths < 0:
		return validationError("ageMonths", "must not be negative")
	case strings.TrimSpace(in.Language) == "":
		return validationError("language", "is required")
	case strings.TrimSpace(in.Gender) == "":
		return validationError("gender", "is required")
	}
	return nil
}

// CreateSession persists a new in-progress session together with its
// sync queue entry. Both rows are written or neither is.
func (s *Store) CreateSession(ctx context.Context, in model.NewSession) (model.Session, error) {
	if err := validateNewSession(in); err != nil {
		return model.Session{}, err
	}

	now := s.nowMillis()
	sess := model.Session{
		ID:        in.ID,
		UserID:    in.UserID,
		ChildName: in.ChildName,
		AgeMonths: in.AgeMonths,
		Language:  in.Language,
		Gender:    in.Gender,
		CreatedAt: now,
		Status:    model.StatusInProgress,
		Synced:    false,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE id = ?", sess.ID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return validationError("id", "already exists")
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO sessions
			(id, user_id, child_name, age_months, language, gender, created_at, completed_at, status, synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, 0)`,
			sess.ID, sess.UserID, sess.ChildName, sess.AgeMonths, sess.Language, sess.Gender,
			sess.CreatedAt, string(sess.Status),
		)
		if err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO sync_queue (session_id, queued_at, retry_count)
			VALUES (?, ?, 0)`, sess.ID, now)
		if err != nil {
			return fmt.Errorf("enqueueing session: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}

	s.log.Debug("session created", zap.String("session_id", sess.ID))
	return sess, nil
}

// GetSession returns the session with the given id, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// ListSessionsForUser returns a user's sessions, newest first.
func (s *Store) ListSessionsForUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+
		" FROM sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// CompleteSession moves an in-progress session to completed and stamps
// completedAt. It is the only writer of completedAt.
func (s *Store) CompleteSession(ctx context.Context, id string) (model.Session, error) {
	var out model.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := scanSession(tx.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if sess.Status != model.StatusInProgress {
			return fmt.Errorf("session %s is %s: %w", id, sess.Status, ErrInvalidTransition)
		}

		completedAt := s.nowMillis()
		if completedAt < sess.CreatedAt {
			completedAt = sess.CreatedAt
		}
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET status = ?, completed_at = ?
			WHERE id = ? AND status = ?`,
			string(model.StatusCompleted), completedAt, id, string(model.StatusInProgress))
		if err != nil {
			return fmt.Errorf("completing session: %w", err)
		}

		sess.Status = model.StatusCompleted
		sess.CompletedAt = &completedAt
		out = sess
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}
	return out, nil
}

// MarkSynced records that the session was delivered. It is valid from any
// status and calling it again is harmless.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET status = ?, synced = 1 WHERE id = ?",
		string(model.StatusSynced), id)
	if err != nil {
		return fmt.Errorf("marking session synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSession erases a session, all of its readings and its queue entry
// in one transaction. Deleting an absent session is a no-op.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM biomarkers WHERE session_id = ?", id); err != nil {
			return fmt.Errorf("deleting biomarkers: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE session_id = ?", id); err != nil {
			return fmt.Errorf("deleting queue entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("session erased", zap.String("session_id", id))
	return nil
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count)
	return count, err
}
