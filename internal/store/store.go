package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// Store bundles the repositories behind one database handle. It implements
// the engine's persistence capability and the audit sink used by guards.
type Store struct {
	DB *sql.DB

	workflows WorkflowRepo
	logs      PhaseLogRepo
	snapshots SnapshotRepo
	reviews   ReviewRepo
	audit     AuditRepo
	now       func() time.Time
}

// Open opens (and migrates) the database at path.
func Open(path string) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, domain.ErrStoreInit.Wrap(err, "open store "+path)
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// AppendLog writes one phase log entry. Replaying the same (traceID, phase,
// seq) leaves the log unchanged.
func (s *Store) AppendLog(ctx context.Context, traceID string, phase domain.Phase, seq int64, payload json.RawMessage) error {
	_, err := s.logs.Append(ctx, s.DB, domain.LogEntry{
		TraceID:   traceID,
		Phase:     phase,
		SeqNo:     seq,
		Payload:   payload,
		CreatedAt: s.now().Unix(),
	})
	if err != nil {
		return domain.ErrStoreWrite.Wrap(err, "append phase log")
	}
	return nil
}

// ReadLog returns the payloads logged for traceID in insertion order.
func (s *Store) ReadLog(ctx context.Context, traceID string) ([]json.RawMessage, error) {
	entries, err := s.LogEntries(ctx, traceID)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Payload)
	}
	return out, nil
}

// LogEntries returns the full log rows for traceID in insertion order.
func (s *Store) LogEntries(ctx context.Context, traceID string) ([]domain.LogEntry, error) {
	entries, err := s.logs.ListByTrace(ctx, s.DB, traceID)
	if err != nil {
		return nil, domain.ErrStoreQuery.Wrap(err, "read phase log")
	}
	return entries, nil
}

// Record writes an audit record.
func (s *Store) Record(ctx context.Context, rec domain.AuditRecord) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.now().Unix()
	}
	if err := s.audit.Record(ctx, s.DB, rec); err != nil {
		return domain.ErrStoreWrite.Wrap(err, "record audit")
	}
	return nil
}

// AuditTrail returns the audit records for traceID.
func (s *Store) AuditTrail(ctx context.Context, traceID string) ([]domain.AuditRecord, error) {
	recs, err := s.audit.ListByTrace(ctx, s.DB, traceID)
	if err != nil {
		return nil, domain.ErrStoreQuery.Wrap(err, "read audit trail")
	}
	return recs, nil
}

// CreateWorkflow inserts rec together with the initial packet snapshot.
// rec.StateVersion is set to 1.
func (s *Store) CreateWorkflow(ctx context.Context, rec *domain.WorkflowRecord, p *domain.HandoffPacket) error {
	now := s.now().Unix()
	rec.StateVersion = 1
	rec.CreatedAtUnix = now
	rec.UpdatedAtUnix = now
	return s.inTx(ctx, "create workflow", func(tx *sql.Tx) error {
		if err := s.workflows.CreateTx(ctx, tx, *rec); err != nil {
			return err
		}
		return s.snapshotTx(ctx, tx, p, now)
	})
}

// SaveWorkflow advances rec under optimistic locking and snapshots p in the
// same transaction. On success rec.StateVersion is incremented.
func (s *Store) SaveWorkflow(ctx context.Context, rec *domain.WorkflowRecord, p *domain.HandoffPacket) error {
	now := s.now().Unix()
	rec.UpdatedAtUnix = now
	err := s.inTx(ctx, "save workflow", func(tx *sql.Tx) error {
		if err := s.workflows.UpdateTx(ctx, tx, *rec); err != nil {
			return err
		}
		if p == nil {
			return nil
		}
		return s.snapshotTx(ctx, tx, p, now)
	})
	if err != nil {
		return err
	}
	rec.StateVersion++
	return nil
}

// LoadWorkflow returns the workflow record and its latest packet snapshot.
// A snapshot whose checksum does not match is rejected.
func (s *Store) LoadWorkflow(ctx context.Context, traceID string) (*domain.WorkflowRecord, *domain.HandoffPacket, error) {
	rec, err := s.workflows.GetByID(ctx, s.DB, traceID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, nil, err
		}
		return nil, nil, domain.ErrStoreQuery.Wrap(err, "load workflow")
	}
	snap, err := s.snapshots.GetLatest(ctx, s.DB, traceID)
	if err != nil {
		return nil, nil, domain.ErrStoreQuery.Wrap(err, "load snapshot")
	}
	if snap == nil {
		return nil, nil, domain.ErrSnapshotCorrupt.Withf("workflow %s has no packet snapshot", traceID)
	}
	if Checksum(snap.PacketJSON) != snap.Checksum {
		return nil, nil, domain.ErrSnapshotCorrupt.Withf("snapshot %d of workflow %s", snap.ID, traceID)
	}
	p, err := domain.DecodePacket([]byte(snap.PacketJSON))
	if err != nil {
		return nil, nil, err
	}
	return rec, p, nil
}

// ListWorkflows returns workflows in status.
func (s *Store) ListWorkflows(ctx context.Context, status domain.WorkflowStatus) ([]domain.WorkflowRecord, error) {
	recs, err := s.workflows.ListByStatus(ctx, s.DB, status)
	if err != nil {
		return nil, domain.ErrStoreQuery.Wrap(err, "list workflows")
	}
	return recs, nil
}

// SaveReviews records one SmeGate round for traceID and returns the round number.
func (s *Store) SaveReviews(ctx context.Context, traceID string, reviews domain.SMEReviews) (int, error) {
	prev, err := s.reviews.MaxRound(ctx, s.DB, traceID)
	if err != nil {
		return 0, domain.ErrStoreQuery.Wrap(err, "save reviews")
	}
	round := prev + 1
	now := s.now().Unix()
	err = s.inTx(ctx, "save reviews", func(tx *sql.Tx) error {
		for _, kind := range domain.SMEOrder {
			review, ok := reviews[kind]
			if !ok {
				continue
			}
			findings, err := json.Marshal(review.Findings)
			if err != nil {
				return fmt.Errorf("marshal findings: %w", err)
			}
			if err := s.reviews.Create(ctx, tx, domain.SMEReviewRecord{
				TraceID:        traceID,
				SME:            kind,
				Round:          round,
				Executed:       review.Executed,
				OverallRisk:    review.OverallRisk,
				Recommendation: review.Recommendation,
				FindingsJSON:   string(findings),
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return round, nil
}

// Reviews returns every persisted SME review for traceID.
func (s *Store) Reviews(ctx context.Context, traceID string) ([]domain.SMEReviewRecord, error) {
	recs, err := s.reviews.ListByTrace(ctx, s.DB, traceID)
	if err != nil {
		return nil, domain.ErrStoreQuery.Wrap(err, "list reviews")
	}
	return recs, nil
}

func (s *Store) snapshotTx(ctx context.Context, tx *sql.Tx, p *domain.HandoffPacket, now int64) error {
	data, err := domain.EncodePacket(p)
	if err != nil {
		return err
	}
	return s.snapshots.SaveTx(ctx, tx, domain.PacketSnapshot{
		TraceID:    p.TraceID,
		Phase:      p.Phase.Current,
		PacketJSON: string(data),
		Checksum:   Checksum(string(data)),
		CreatedAt:  now,
	})
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrStoreWrite.Wrap(err, op)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		var engErr *domain.EngineError
		if errors.As(err, &engErr) {
			return err
		}
		return domain.ErrStoreWrite.Wrap(err, op)
	}
	if err := tx.Commit(); err != nil {
		return domain.ErrStoreWrite.Wrap(err, op)
	}
	return nil
}
