package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id                   TEXT PRIMARY KEY,
    user_id              TEXT NOT NULL,
    child_name           TEXT NOT NULL,
    age_months           INTEGER NOT NULL,
    language             TEXT NOT NULL,
    gender               TEXT NOT NULL,
    created_at           INTEGER NOT NULL,
    completed_at         INTEGER,
    status               TEXT NOT NULL DEFAULT 'in_progress',
    synced               INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS biomarkers (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id           TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    user_id              TEXT NOT NULL,
    task_id              TEXT NOT NULL,
    gaze_score           REAL NOT NULL CHECK (gaze_score BETWEEN 0.0 AND 1.0),
    motor_score          REAL NOT NULL CHECK (motor_score BETWEEN 0.0 AND 1.0),
    vocalization_score   REAL NOT NULL CHECK (vocalization_score BETWEEN 0.0 AND 1.0),
    response_latency_ms  INTEGER CHECK (response_latency_ms IS NULL OR response_latency_ms >= 0),
    timestamp            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_queue (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id           TEXT NOT NULL UNIQUE REFERENCES sessions(id) ON DELETE CASCADE,
    queued_at            INTEGER NOT NULL,
    retry_count          INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
CREATE INDEX IF NOT EXISTS idx_sessions_synced ON sessions(synced);
CREATE INDEX IF NOT EXISTS idx_biomarkers_session_ts ON biomarkers(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_sync_queue_queued ON sync_queue(queued_at);
`
