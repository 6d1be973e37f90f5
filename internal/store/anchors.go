package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// ErrNoAnchor is returned when no anchor covers the requested range.
var ErrNoAnchor = errors.New("store: no covering anchor")

// LastAnchoredAt returns the timestamp of the most recent anchor, or the
// zero time when the table is empty.
func (s *Store) LastAnchoredAt(ctx context.Context) (time.Time, error) {
	var anchoredAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT anchored_at FROM audit_anchors ORDER BY anchor_id DESC LIMIT 1`,
	).Scan(&anchoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("store: last anchored at: %w", err)
	}
	return anchoredAt, nil
}

// InsertAnchor appends one anchor row in its own transaction and returns the
// assigned anchor ID. Anchor rows are never updated or deleted.
func (s *Store) InsertAnchor(ctx context.Context, a types.AuditAnchor) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin anchor tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var anchorID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO audit_anchors
		     (merkle_root, segment_count, first_segment_id, last_segment_id, anchored_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING anchor_id`,
		a.MerkleRoot, a.SegmentCount, a.FirstSegmentID, a.LastSegmentID, a.AnchoredAt,
	).Scan(&anchorID)
	if err != nil {
		return 0, fmt.Errorf("store: insert anchor: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit anchor: %w", err)
	}
	return anchorID, nil
}

// AnchorCovering finds the anchor whose range includes segmentID.
func (s *Store) AnchorCovering(ctx context.Context, segmentID string) (types.AuditAnchor, error) {
	const q = `
		SELECT a.anchor_id, a.merkle_root, a.segment_count,
		       a.first_segment_id, a.last_segment_id, a.anchored_at
		FROM   audit_anchors a
		JOIN   transcript_segments f ON f.segment_id = a.first_segment_id
		JOIN   transcript_segments l ON l.segment_id = a.last_segment_id
		JOIN   transcript_segments s ON s.segment_id = $1
		WHERE  (s.created_at, s.segment_id) >= (f.created_at, f.segment_id)
		  AND  (s.created_at, s.segment_id) <= (l.created_at, l.segment_id)
		ORDER  BY a.anchor_id
		LIMIT  1`

	var a types.AuditAnchor
	err := s.pool.QueryRow(ctx, q, segmentID).Scan(
		&a.AnchorID, &a.MerkleRoot, &a.SegmentCount,
		&a.FirstSegmentID, &a.LastSegmentID, &a.AnchoredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.AuditAnchor{}, ErrNoAnchor
	}
	if err != nil {
		return types.AuditAnchor{}, fmt.Errorf("store: anchor covering %s: %w", segmentID, err)
	}
	return a, nil
}
