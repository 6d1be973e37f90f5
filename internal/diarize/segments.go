// Package diarize attributes transcript tokens to speakers. An accumulator
// batches speech audio into fixed windows and runs the diarization engine
// over each one; a merger joins the resulting speaker segments with the
// transcript token stream and emits enriched tokens.
package diarize

import (
	"sort"
	"sync"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// Holder is the shared view of the latest diarization output. The
// accumulator replaces the segment set wholesale after every window; the
// merger reads a snapshot per token. Safe for concurrent use.
type Holder struct {
	mu       sync.RWMutex
	segments []types.SpeakerSegment
}

// NewHolder returns an empty holder.
func NewHolder() *Holder {
	return &Holder{}
}

// Set replaces the current segment set. Segments are stored sorted by start
// time so lookups can bisect.
func (h *Holder) Set(segments []types.SpeakerSegment) {
	sorted := make([]types.SpeakerSegment, len(segments))
	copy(sorted, segments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMs < sorted[j].StartMs })

	h.mu.Lock()
	h.segments = sorted
	h.mu.Unlock()
}

// Snapshot returns the current segment set, sorted by start time. The
// returned slice must not be mutated.
func (h *Holder) Snapshot() []types.SpeakerSegment {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.segments
}

// AssignSpeaker resolves the speaker for a token spanning [startMs, endMs]
// against the held segments:
//
//  1. The segment containing the token's start time wins.
//  2. Otherwise, the next segment wins when the token reaches into it
//     (the token started exactly on or just before a boundary).
//  3. Otherwise, the segment with a boundary closest to the token midpoint
//     wins.
//
// With no segments at all the token stays unattributed.
func (h *Holder) AssignSpeaker(startMs, endMs int64) string {
	segments := h.Snapshot()
	if len(segments) == 0 {
		return types.SpeakerUnknown
	}

	// Containment: last segment starting at or before the token start.
	i := sort.Search(len(segments), func(i int) bool { return segments[i].StartMs > startMs }) - 1
	if i >= 0 && segments[i].EndMs >= startMs {
		return segments[i].SpeakerID
	}

	// The token started in a gap but overlaps the following segment.
	if next := i + 1; next < len(segments) && segments[next].StartMs <= endMs {
		return segments[next].SpeakerID
	}

	// Fallback: nearest segment boundary to the token midpoint.
	mid := (startMs + endMs) / 2
	best := segments[0]
	bestDist := boundaryDistance(best, mid)
	for _, seg := range segments[1:] {
		if d := boundaryDistance(seg, mid); d < bestDist {
			best = seg
			bestDist = d
		}
	}
	return best.SpeakerID
}

func boundaryDistance(seg types.SpeakerSegment, mid int64) int64 {
	ds := abs64(seg.StartMs - mid)
	if de := abs64(seg.EndMs - mid); de < ds {
		return de
	}
	return ds
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
