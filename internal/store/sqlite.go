// Package store provides SQLite-backed persistence for the handoff engine.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS workflows (
	trace_id        TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'running',
	current_phase   TEXT NOT NULL DEFAULT 'strategy',
	pause_reason    TEXT NOT NULL DEFAULT '',
	loop_backs      INTEGER NOT NULL DEFAULT 0,
	state_version   INTEGER NOT NULL DEFAULT 1,
	last_error      TEXT NOT NULL DEFAULT '',
	config_json     TEXT NOT NULL DEFAULT '{}',
	created_at_unix INTEGER NOT NULL DEFAULT 0,
	updated_at_unix INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);

CREATE TABLE IF NOT EXISTS phase_logs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id     TEXT NOT NULL,
	phase        TEXT NOT NULL,
	seq_no       INTEGER NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	UNIQUE(trace_id, phase, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_phase_logs_trace ON phase_logs(trace_id, id);

CREATE TABLE IF NOT EXISTS packet_snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id    TEXT NOT NULL,
	phase       TEXT NOT NULL,
	packet_json TEXT NOT NULL DEFAULT '{}',
	checksum    TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_trace ON packet_snapshots(trace_id, id);

CREATE TABLE IF NOT EXISTS sme_reviews (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id       TEXT NOT NULL,
	sme            TEXT NOT NULL,
	round          INTEGER NOT NULL DEFAULT 0,
	executed       INTEGER NOT NULL DEFAULT 0,
	overall_risk   TEXT NOT NULL DEFAULT '',
	recommendation TEXT NOT NULL DEFAULT '',
	findings_json  TEXT NOT NULL DEFAULT '[]',
	created_at     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sme_reviews_trace ON sme_reviews(trace_id, round);

CREATE TABLE IF NOT EXISTS audit_records (
	id            TEXT PRIMARY KEY,
	trace_id      TEXT NOT NULL,
	category      TEXT NOT NULL,
	actor         TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	request_json  TEXT NOT NULL DEFAULT '{}',
	decision_json TEXT NOT NULL DEFAULT '{}',
	severity      TEXT NOT NULL DEFAULT 'info',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_trace ON audit_records(trace_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent readers but a single writer.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
