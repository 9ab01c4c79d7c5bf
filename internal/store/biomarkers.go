package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/autisense/autisense/internal/model"
)

const biomarkerColumns = `id, session_id, user_id, task_id, gaze_score, motor_score,
	vocalization_score, response_latency_ms, timestamp`

// Clamp limits a score to [0, 1]. NaN maps to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// AppendBiomarker records one task reading for an existing session. Scores
// are clamped into [0, 1] before they are written; the raw values are never
// persisted.
func (s *Store) AppendBiomarker(ctx context.Context, sessionID string, taskID model.TaskID, r model.Reading) (model.Biomarker, error) {
	if !taskID.Valid() {
		return model.Biomarker{}, validationError("taskId", fmt.Sprintf("%q is not a known task", taskID))
	}
	if r.ResponseLatencyMs != nil && *r.ResponseLatencyMs < 0 {
		return model.Biomarker{}, validationError("responseLatencyMs", "must not be negative")
	}

	b := model.Biomarker{
		SessionID:         sessionID,
		TaskID:            taskID,
		GazeScore:         Clamp(r.GazeScore),
		MotorScore:        Clamp(r.MotorScore),
		VocalizationScore: Clamp(r.VocalizationScore),
	}
	if r.ResponseLatencyMs != nil {
		v := *r.ResponseLatencyMs
		b.ResponseLatencyMs = &v
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT user_id FROM sessions WHERE id = ?", sessionID).Scan(&b.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		// Keep timestamps strictly increasing within the session even when
		// two readings land in the same millisecond or the clock steps back.
		var last sql.NullInt64
		err = tx.QueryRowContext(ctx, "SELECT MAX(timestamp) FROM biomarkers WHERE session_id = ?", sessionID).Scan(&last)
		if err != nil {
			return err
		}
		b.Timestamp = s.nowMillis()
		if last.Valid && b.Timestamp <= last.Int64 {
			b.Timestamp = last.Int64 + 1
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO biomarkers
			(session_id, user_id, task_id, gaze_score, motor_score, vocalization_score, response_latency_ms, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.SessionID, b.UserID, string(b.TaskID), b.GazeScore, b.MotorScore, b.VocalizationScore,
			nullInt64(b.ResponseLatencyMs), b.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("inserting biomarker: %w", err)
		}
		b.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return model.Biomarker{}, err
	}
	return b, nil
}

// GetBiomarkersForSession returns a session's readings in timestamp order.
func (s *Store) GetBiomarkersForSession(ctx context.Context, sessionID string) ([]model.Biomarker, error) {
	return s.queryBiomarkers(ctx, "SELECT "+biomarkerColumns+
		" FROM biomarkers WHERE session_id = ? ORDER BY timestamp ASC, id ASC", sessionID)
}

// GetBiomarkersByTask returns a session's readings for one task in timestamp order.
func (s *Store) GetBiomarkersByTask(ctx context.Context, sessionID string, taskID model.TaskID) ([]model.Biomarker, error) {
	return s.queryBiomarkers(ctx, "SELECT "+biomarkerColumns+
		" FROM biomarkers WHERE session_id = ? AND task_id = ? ORDER BY timestamp ASC, id ASC",
		sessionID, string(taskID))
}

func (s *Store) queryBiomarkers(ctx context.Context, query string, args ...any) ([]model.Biomarker, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Biomarker
	for rows.Next() {
		var b model.Biomarker
		var taskID string
		var latency sql.NullInt64
		if err := rows.Scan(&b.ID, &b.SessionID, &b.UserID, &taskID, &b.GazeScore, &b.MotorScore,
			&b.VocalizationScore, &latency, &b.Timestamp); err != nil {
			return nil, err
		}
		b.TaskID = model.TaskID(taskID)
		b.ResponseLatencyMs = int64Ptr(latency)
		out = append(out, b)
	}
	return out, rows.Err()
}
