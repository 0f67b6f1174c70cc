package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// AuditRepo handles persistence for AuditRecord entries.
type AuditRepo struct{}

// Record inserts an audit record.
func (r *AuditRepo) Record(ctx context.Context, db execer, rec domain.AuditRecord) error {
	const q = `INSERT INTO audit_records (id, trace_id, category, actor, action, request_json, decision_json, severity, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		rec.ID,
		rec.TraceID,
		rec.Category,
		rec.Actor,
		rec.Action,
		orEmptyObject(rec.RequestJSON),
		orEmptyObject(rec.DecisionJSON),
		rec.Severity,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ListByTrace returns all audit records for a workflow, ordered by creation time.
func (r *AuditRepo) ListByTrace(ctx context.Context, db *sql.DB, traceID string) ([]domain.AuditRecord, error) {
	const q = `SELECT id, trace_id, category, actor, action, request_json, decision_json, severity, created_at
FROM audit_records
WHERE trace_id = ?
ORDER BY created_at ASC, rowid ASC`

	rows, err := db.QueryContext(ctx, q, traceID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		if err := rows.Scan(&a.ID, &a.TraceID, &a.Category, &a.Actor, &a.Action,
			&a.RequestJSON, &a.DecisionJSON, &a.Severity, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}

func orEmptyObject(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}
