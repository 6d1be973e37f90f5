// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine wraps a speech detector (e.g. Silero VAD or a simple energy
// heuristic) and scores whole pipeline chunks: given a run of 16 kHz mono
// s16le PCM it returns the probability that the chunk contains speech. The
// gate stage forwards a chunk downstream only when the score reaches the
// configured threshold, so the scoring call sits on the hot path of every
// stream.
//
// Implementations must be safe for concurrent use; a single engine instance
// is shared by all per-stream gate loops.
package vad

import "context"

// Engine scores PCM chunks for speech content.
type Engine interface {
	// Score returns the speech probability of the chunk in [0, 1]. The
	// chunk is raw 16 kHz mono s16le PCM. Model inference may block; it is
	// invoked off the queue-read path and must respect ctx cancellation.
	Score(ctx context.Context, pcm []byte) (float64, error)

	// Name returns the backend identifier used in logs and metrics.
	Name() string

	// Close releases model resources. Calling Close more than once is safe.
	Close() error
}
