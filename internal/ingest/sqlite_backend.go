package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/autisense/autisense/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

const ingestSchemaSQL = `
CREATE TABLE IF NOT EXISTS ingest_sessions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	age_months   INTEGER NOT NULL,
	language     TEXT NOT NULL,
	gender       TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	completed_at INTEGER,
	status       TEXT NOT NULL,
	synced       INTEGER NOT NULL,
	ttl          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_biomarkers (
	session_id              TEXT PRIMARY KEY,
	user_id                 TEXT NOT NULL,
	created_at              INTEGER NOT NULL,
	avg_gaze_score          REAL NOT NULL,
	avg_motor_score         REAL NOT NULL,
	avg_vocalization_score  REAL NOT NULL,
	avg_response_latency_ms INTEGER,
	sample_count            INTEGER NOT NULL,
	overall_score           INTEGER NOT NULL,
	social_communication    INTEGER NOT NULL,
	restricted_behavior     INTEGER NOT NULL,
	ttl                     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingest_sessions_user ON ingest_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_ingest_sessions_ttl ON ingest_sessions(ttl);
CREATE INDEX IF NOT EXISTS idx_ingest_biomarkers_ttl ON ingest_biomarkers(ttl);
`

// SQLiteBackend stores ingest records in a local SQLite database. It is
// the development and test stand-in for DynamoDB.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens or creates the ingest database at path.
// Use ":memory:" for a private in-memory database.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating ingest dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ingest db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ingestSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating ingest schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// PutSessionIfAbsent implements Backend.
func (b *SQLiteBackend) PutSessionIfAbsent(ctx context.Context, rec SessionRecord) (bool, error) {
	res, err := b.db.ExecContext(ctx, `INSERT INTO ingest_sessions
		(id, user_id, age_months, language, gender, created_at, completed_at, status, synced, ttl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.UserID, rec.AgeMonths, rec.Language, rec.Gender,
		rec.CreatedAt, nullable(rec.CompletedAt), string(rec.Status), rec.Synced, rec.TTL,
	)
	if err != nil {
		return false, fmt.Errorf("writing session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PutAggregate implements Backend.
func (b *SQLiteBackend) PutAggregate(ctx context.Context, rec AggregateRecord) error {
	_, err := b.db.ExecContext(ctx, `INSERT OR REPLACE INTO ingest_biomarkers
		(session_id, user_id, created_at, avg_gaze_score, avg_motor_score, avg_vocalization_score,
		 avg_response_latency_ms, sample_count, overall_score, social_communication, restricted_behavior, ttl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.UserID, rec.CreatedAt,
		rec.AvgGazeScore, rec.AvgMotorScore, rec.AvgVocalizationScore,
		nullable(rec.AvgResponseLatencyMs), rec.SampleCount, rec.OverallScore,
		rec.Flags.SocialCommunication, rec.Flags.RestrictedBehavior, rec.TTL,
	)
	if err != nil {
		return fmt.Errorf("writing aggregate: %w", err)
	}
	return nil
}

// GetSession returns the stored session record, if any.
func (b *SQLiteBackend) GetSession(ctx context.Context, id string) (SessionRecord, bool, error) {
	var (
		rec         SessionRecord
		status      string
		completedAt sql.NullInt64
	)
	err := b.db.QueryRowContext(ctx, `SELECT id, user_id, age_months, language, gender,
		created_at, completed_at, status, synced, ttl
		FROM ingest_sessions WHERE id = ?`, id).Scan(
		&rec.ID, &rec.UserID, &rec.AgeMonths, &rec.Language, &rec.Gender,
		&rec.CreatedAt, &completedAt, &status, &rec.Synced, &rec.TTL,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	rec.Status = model.SessionStatus(status)
	if completedAt.Valid {
		v := completedAt.Int64
		rec.CompletedAt = &v
	}
	return rec, true, nil
}

// GetAggregate returns the stored aggregate for a session, if any.
func (b *SQLiteBackend) GetAggregate(ctx context.Context, sessionID string) (AggregateRecord, bool, error) {
	var (
		rec     AggregateRecord
		latency sql.NullInt64
	)
	err := b.db.QueryRowContext(ctx, `SELECT session_id, user_id, created_at, avg_gaze_score,
		avg_motor_score, avg_vocalization_score, avg_response_latency_ms, sample_count,
		overall_score, social_communication, restricted_behavior, ttl
		FROM ingest_biomarkers WHERE session_id = ?`, sessionID).Scan(
		&rec.SessionID, &rec.UserID, &rec.CreatedAt, &rec.AvgGazeScore,
		&rec.AvgMotorScore, &rec.AvgVocalizationScore, &latency, &rec.SampleCount,
		&rec.OverallScore, &rec.Flags.SocialCommunication, &rec.Flags.RestrictedBehavior, &rec.TTL,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return AggregateRecord{}, false, nil
	}
	if err != nil {
		return AggregateRecord{}, false, err
	}
	if latency.Valid {
		v := latency.Int64
		rec.AvgResponseLatencyMs = &v
	}
	return rec, true, nil
}

// SessionCount returns the number of stored sessions.
func (b *SQLiteBackend) SessionCount(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ingest_sessions").Scan(&n)
	return n, err
}

// PurgeExpired deletes records whose ttl has passed. DynamoDB does this
// natively; SQLite needs it run periodically.
func (b *SQLiteBackend) PurgeExpired(ctx context.Context, nowUnix int64) (int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, table := range []string{"ingest_sessions", "ingest_biomarkers"} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE ttl <= ?", nowUnix)
		if err != nil {
			return 0, fmt.Errorf("purging %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, tx.Commit()
}

func nullable(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
