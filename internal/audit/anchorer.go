package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/internal/store"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// AnchorStore is the persistence surface the anchorer needs; implemented by
// [store.Store].
type AnchorStore interface {
	LastAnchoredAt(ctx context.Context) (time.Time, error)
	SegmentHashesSince(ctx context.Context, cutoff time.Time) ([]store.SegmentHashRef, error)
	InsertAnchor(ctx context.Context, a types.AuditAnchor) (int64, error)
}

// Anchorer periodically folds new segment hashes into Merkle anchors.
type Anchorer struct {
	store    AnchorStore
	interval time.Duration
	metrics  *observe.Metrics
	log      *slog.Logger
}

// NewAnchorer creates an anchorer ticking at interval.
func NewAnchorer(s AnchorStore, interval time.Duration, metrics *observe.Metrics) *Anchorer {
	return &Anchorer{
		store:    s,
		interval: interval,
		metrics:  metrics,
		log:      slog.With("component", "anchorer"),
	}
}

// Run anchors on every tick until ctx is cancelled. Failures log and wait for
// the next tick; the uncovered segments are picked up then.
func (a *Anchorer) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.AnchorOnce(ctx); err != nil {
				a.log.Warn("anchor pass failed", "error", err)
			}
		}
	}
}

// AnchorOnce anchors every hashed segment created after the previous anchor.
// With no new segments it is a no-op.
func (a *Anchorer) AnchorOnce(ctx context.Context) error {
	cutoff, err := a.store.LastAnchoredAt(ctx)
	if err != nil {
		return err
	}
	refs, err := a.store.SegmentHashesSince(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}

	hashes := make([]string, len(refs))
	for i, r := range refs {
		hashes[i] = r.Hash
	}

	// AnchoredAt carries the newest covered created_at, not the wall clock:
	// the next pass resumes strictly after the covered range.
	anchor := types.AuditAnchor{
		MerkleRoot:     BuildMerkleRoot(hashes),
		SegmentCount:   len(refs),
		FirstSegmentID: refs[0].SegmentID,
		LastSegmentID:  refs[len(refs)-1].SegmentID,
		AnchoredAt:     refs[len(refs)-1].CreatedAt,
	}
	anchorID, err := a.store.InsertAnchor(ctx, anchor)
	if err != nil {
		return err
	}

	a.metrics.RecordAnchorWritten(ctx, len(refs))
	a.log.Info("anchor written",
		"anchor_id", anchorID,
		"segments", len(refs),
		"merkle_root", anchor.MerkleRoot,
	)
	return nil
}
