package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// SnapshotRepo handles persistence for PacketSnapshot records.
type SnapshotRepo struct{}

// Checksum returns the hex sha256 of a serialized packet.
func Checksum(packetJSON string) string {
	sum := sha256.Sum256([]byte(packetJSON))
	return hex.EncodeToString(sum[:])
}

// SaveTx inserts a packet snapshot within an existing transaction.
func (r *SnapshotRepo) SaveTx(ctx context.Context, tx *sql.Tx, snap domain.PacketSnapshot) error {
	const q = `INSERT INTO packet_snapshots (trace_id, phase, packet_json, checksum, created_at)
VALUES (?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		snap.TraceID,
		string(snap.Phase),
		snap.PacketJSON,
		snap.Checksum,
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetLatest returns the most recent snapshot for a workflow.
// Returns nil if no snapshot exists.
func (r *SnapshotRepo) GetLatest(ctx context.Context, db *sql.DB, traceID string) (*domain.PacketSnapshot, error) {
	const q = `SELECT id, trace_id, phase, packet_json, checksum, created_at
FROM packet_snapshots
WHERE trace_id = ?
ORDER BY id DESC
LIMIT 1`

	row := db.QueryRowContext(ctx, q, traceID)

	var s domain.PacketSnapshot
	var p string
	err := row.Scan(&s.ID, &s.TraceID, &p, &s.PacketJSON, &s.Checksum, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	s.Phase = domain.Phase(p)
	return &s, nil
}
