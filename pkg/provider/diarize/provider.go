// Package diarize defines the Engine interface for speaker diarization
// backends.
//
// The accumulator stage buffers a fixed audio window per stream and asks the
// engine which speakers talked when. Offsets in the returned segments are
// relative to the start of the supplied window; the caller rebases them onto
// the stream timeline.
package diarize

import (
	"context"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// Engine is the abstraction over any diarization backend.
//
// Implementations must be safe for concurrent use: one engine instance is
// shared by all per-stream accumulators.
type Engine interface {
	// Diarize analyses a window of 16 kHz mono s16le PCM and returns the
	// speaker turns it contains, sorted by start offset. An empty result is
	// valid (silence, or a single indistinct speaker).
	Diarize(ctx context.Context, pcm []byte) ([]types.SpeakerSegment, error)

	// Name returns the backend identifier used in logs.
	Name() string

	// Close releases model resources. Calling Close more than once is safe.
	Close() error
}
