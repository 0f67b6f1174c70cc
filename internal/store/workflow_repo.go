package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// WorkflowRepo handles persistence for WorkflowRecord rows.
type WorkflowRepo struct{}

// CreateTx inserts a new workflow within an existing transaction.
func (r *WorkflowRepo) CreateTx(ctx context.Context, tx *sql.Tx, rec domain.WorkflowRecord) error {
	const q = `INSERT INTO workflows (trace_id, status, current_phase, pause_reason, loop_backs, state_version, last_error, config_json, created_at_unix, updated_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		rec.TraceID,
		string(rec.Status),
		string(rec.CurrentPhase),
		string(rec.PauseReason),
		rec.LoopBacks,
		rec.StateVersion,
		rec.LastError,
		orEmptyObject(rec.ConfigJSON),
		rec.CreatedAtUnix,
		rec.UpdatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

// UpdateTx updates a workflow within a transaction using optimistic locking.
// The update only succeeds if the stored state_version equals rec.StateVersion.
func (r *WorkflowRepo) UpdateTx(ctx context.Context, tx *sql.Tx, rec domain.WorkflowRecord) error {
	const q = `UPDATE workflows SET
		status = ?,
		current_phase = ?,
		pause_reason = ?,
		loop_backs = ?,
		state_version = state_version + 1,
		last_error = ?,
		updated_at_unix = ?
	WHERE trace_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		string(rec.Status),
		string(rec.CurrentPhase),
		string(rec.PauseReason),
		rec.LoopBacks,
		rec.LastError,
		rec.UpdatedAtUnix,
		rec.TraceID,
		rec.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// GetByID retrieves a workflow by trace id.
func (r *WorkflowRepo) GetByID(ctx context.Context, db *sql.DB, traceID string) (*domain.WorkflowRecord, error) {
	const q = `SELECT trace_id, status, current_phase, pause_reason, loop_backs, state_version, last_error, config_json, created_at_unix, updated_at_unix
FROM workflows WHERE trace_id = ?`

	row := db.QueryRowContext(ctx, q, traceID)

	var w domain.WorkflowRecord
	var status, phase, reason string
	err := row.Scan(&w.TraceID, &status, &phase, &reason, &w.LoopBacks,
		&w.StateVersion, &w.LastError, &w.ConfigJSON, &w.CreatedAtUnix, &w.UpdatedAtUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWorkflowNotFound.Withf("workflow %s not found", traceID)
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	w.Status = domain.WorkflowStatus(status)
	w.CurrentPhase = domain.Phase(phase)
	w.PauseReason = domain.PauseReason(reason)
	return &w, nil
}

// ListByStatus returns workflows in the given status, most recently updated first.
func (r *WorkflowRepo) ListByStatus(ctx context.Context, db *sql.DB, status domain.WorkflowStatus) ([]domain.WorkflowRecord, error) {
	const q = `SELECT trace_id, status, current_phase, pause_reason, loop_backs, state_version, last_error, config_json, created_at_unix, updated_at_unix
FROM workflows WHERE status = ?
ORDER BY updated_at_unix DESC, trace_id ASC`

	rows, err := db.QueryContext(ctx, q, string(status))
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkflowRecord
	for rows.Next() {
		var w domain.WorkflowRecord
		var st, phase, reason string
		if err := rows.Scan(&w.TraceID, &st, &phase, &reason, &w.LoopBacks,
			&w.StateVersion, &w.LastError, &w.ConfigJSON, &w.CreatedAtUnix, &w.UpdatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		w.Status = domain.WorkflowStatus(st)
		w.CurrentPhase = domain.Phase(phase)
		w.PauseReason = domain.PauseReason(reason)
		out = append(out, w)
	}
	return out, rows.Err()
}
