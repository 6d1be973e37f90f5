// Package asr defines the Engine interface for speech transcription
// backends.
//
// An ASR engine wraps a transcription service (e.g. a Deepgram-style
// streaming WebSocket API or a Whisper-style batch HTTP server) behind a
// chunk-in, tokens-out contract. The router feeds decoded PCM chunks to the
// engine and appends every returned token to the stream's token queue;
// partial tokens are allowed and carry IsFinal=false.
//
// Engines hold per-stream state (connections, accumulation buffers), so the
// router creates a fresh engine instance per stream via the registry.
// A single Engine instance is driven by one goroutine and does not need to
// be safe for concurrent use unless documented otherwise.
package asr

import (
	"context"
	"errors"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// ErrNotConnected is returned by StreamAudio when Connect has not succeeded
// or the connection has been lost.
var ErrNotConnected = errors.New("asr: engine is not connected")

// Engine is the abstraction over any transcription backend.
type Engine interface {
	// Connect establishes the backend session. It may be long-running
	// (WebSocket dial, server handshake) and must respect ctx.
	Connect(ctx context.Context) error

	// Disconnect tears the session down and releases resources. Calling
	// Disconnect more than once is safe.
	Disconnect() error

	// StreamAudio submits one PCM chunk (16 kHz mono s16le) and returns the
	// tokens produced so far. Streaming backends drain their receive buffer;
	// batch backends return nothing until their accumulation window fills.
	// An error counts against the router's circuit breaker.
	StreamAudio(ctx context.Context, pcm []byte) ([]types.TranscriptToken, error)

	// HealthCheck reports whether the backend is currently usable.
	HealthCheck(ctx context.Context) bool

	// Name returns the backend identifier used in logs, metrics, and
	// session bookkeeping.
	Name() string
}
