package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// ReviewRepo handles persistence for SME review rows. Each SmeGate run writes
// one row per SME under a new round.
type ReviewRepo struct{}

// Create inserts a review record.
func (r *ReviewRepo) Create(ctx context.Context, db execer, rec domain.SMEReviewRecord) error {
	executed := 0
	if rec.Executed {
		executed = 1
	}
	findings := rec.FindingsJSON
	if findings == "" {
		findings = "[]"
	}

	const q = `INSERT INTO sme_reviews (trace_id, sme, round, executed, overall_risk, recommendation, findings_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		rec.TraceID,
		string(rec.SME),
		rec.Round,
		executed,
		string(rec.OverallRisk),
		string(rec.Recommendation),
		findings,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create sme review: %w", err)
	}
	return nil
}

// ListByTrace returns all reviews for a workflow ordered by round and insertion.
func (r *ReviewRepo) ListByTrace(ctx context.Context, db *sql.DB, traceID string) ([]domain.SMEReviewRecord, error) {
	const q = `SELECT id, trace_id, sme, round, executed, overall_risk, recommendation, findings_json, created_at
FROM sme_reviews
WHERE trace_id = ?
ORDER BY round ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, traceID)
	if err != nil {
		return nil, fmt.Errorf("list sme reviews: %w", err)
	}
	defer rows.Close()

	var out []domain.SMEReviewRecord
	for rows.Next() {
		var rec domain.SMEReviewRecord
		var sme, risk, recommendation string
		var executed int
		if err := rows.Scan(&rec.ID, &rec.TraceID, &sme, &rec.Round, &executed,
			&risk, &recommendation, &rec.FindingsJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sme review: %w", err)
		}
		rec.SME = domain.SMEKind(sme)
		rec.Executed = executed != 0
		rec.OverallRisk = domain.RiskLevel(risk)
		rec.Recommendation = domain.Recommendation(recommendation)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MaxRound returns the highest review round recorded for a workflow, or 0.
func (r *ReviewRepo) MaxRound(ctx context.Context, db *sql.DB, traceID string) (int, error) {
	var n sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(round) FROM sme_reviews WHERE trace_id = ?`, traceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("max review round: %w", err)
	}
	return int(n.Int64), nil
}
