package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PhaseLogRepo handles the append-only phase log.
type PhaseLogRepo struct{}

// Append inserts a log entry. A replayed (trace_id, phase, seq_no) is ignored
// and reported as not inserted.
func (r *PhaseLogRepo) Append(ctx context.Context, db execer, entry domain.LogEntry) (bool, error) {
	const q = `INSERT INTO phase_logs (trace_id, phase, seq_no, payload_json, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(trace_id, phase, seq_no) DO NOTHING`
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := db.ExecContext(ctx, q,
		entry.TraceID,
		string(entry.Phase),
		entry.SeqNo,
		payload,
		entry.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("append phase log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n > 0, nil
}

// ListByTrace returns every log entry for a workflow in insertion order.
func (r *PhaseLogRepo) ListByTrace(ctx context.Context, db *sql.DB, traceID string) ([]domain.LogEntry, error) {
	const q = `SELECT trace_id, phase, seq_no, payload_json, created_at
FROM phase_logs
WHERE trace_id = ?
ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, q, traceID)
	if err != nil {
		return nil, fmt.Errorf("list phase log: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var phase, payload string
		if err := rows.Scan(&e.TraceID, &phase, &e.SeqNo, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan phase log: %w", err)
		}
		e.Phase = domain.Phase(phase)
		e.Payload = []byte(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
