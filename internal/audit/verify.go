package audit

import (
	"context"
	"fmt"

	"github.com/Theesthan/VoxSentinel/internal/store"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// VerifyStore is the read surface verification needs; implemented by
// [store.Store].
type VerifyStore interface {
	GetSegment(ctx context.Context, segmentID string) (types.TranscriptSegment, error)
	AnchorCovering(ctx context.Context, segmentID string) (types.AuditAnchor, error)
	SegmentHashesBetween(ctx context.Context, firstID, lastID string) ([]store.SegmentHashRef, error)
}

// Result reports one segment's integrity check.
type Result struct {
	SegmentID    string      `json:"segment_id"`
	AnchorID     int64       `json:"anchor_id"`
	AnchoredRoot string      `json:"anchored_root"`
	ComputedRoot string      `json:"computed_root"`
	Proof        []ProofStep `json:"-"`
	Valid        bool        `json:"valid"`
	Reason       string      `json:"reason,omitempty"`
}

// Verifier checks persisted segments against their covering anchors.
type Verifier struct {
	store VerifyStore
}

// NewVerifier creates a verifier over s.
func NewVerifier(s VerifyStore) *Verifier {
	return &Verifier{store: s}
}

// Verify recomputes a segment's hash from its stored row, locates the anchor
// covering it, rebuilds the Merkle root over the anchored range and checks
// the segment's inclusion proof. Any mismatch marks the segment invalid with
// a reason; only lookup failures return an error.
func (v *Verifier) Verify(ctx context.Context, segmentID string) (Result, error) {
	seg, err := v.store.GetSegment(ctx, segmentID)
	if err != nil {
		return Result{}, fmt.Errorf("audit: load segment: %w", err)
	}
	anchor, err := v.store.AnchorCovering(ctx, segmentID)
	if err != nil {
		return Result{}, fmt.Errorf("audit: locate anchor: %w", err)
	}

	res := Result{
		SegmentID:    segmentID,
		AnchorID:     anchor.AnchorID,
		AnchoredRoot: anchor.MerkleRoot,
	}

	// A row whose text or timing was altered no longer reproduces its own
	// stored hash.
	text := seg.TextOriginal
	if text == "" {
		text = seg.TextRedacted
	}
	recomputed := store.SegmentHash(seg.SegmentID, text, seg.StartTime, seg.SessionID)
	if recomputed != seg.SegmentHash {
		res.Reason = "segment content does not match its stored hash"
		return res, nil
	}

	refs, err := v.store.SegmentHashesBetween(ctx, anchor.FirstSegmentID, anchor.LastSegmentID)
	if err != nil {
		return Result{}, fmt.Errorf("audit: load anchored range: %w", err)
	}

	hashes := make([]string, len(refs))
	index := -1
	for i, r := range refs {
		hashes[i] = r.Hash
		if r.SegmentID == segmentID {
			index = i
		}
	}
	if index == -1 {
		res.Reason = "segment missing from its anchored range"
		return res, nil
	}

	res.ComputedRoot = BuildMerkleRoot(hashes)
	if res.ComputedRoot != anchor.MerkleRoot {
		res.Reason = "anchored range no longer reproduces the Merkle root"
		return res, nil
	}

	proof, err := BuildProof(hashes, index)
	if err != nil {
		return Result{}, fmt.Errorf("audit: build proof: %w", err)
	}
	res.Proof = proof
	if !VerifyProof(seg.SegmentHash, proof, anchor.MerkleRoot) {
		res.Reason = "inclusion proof does not reach the anchored root"
		return res, nil
	}

	res.Valid = true
	return res, nil
}
