// Package mock provides a scriptable diarize.Engine for tests.
package mock

import (
	"context"
	"sync"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// Engine is a test double for diarize.Engine. Set Segments for a constant
// result or DiarizeFunc for per-call control.
type Engine struct {
	Segments    []types.SpeakerSegment
	Err         error
	DiarizeFunc func(pcm []byte) ([]types.SpeakerSegment, error)

	mu    sync.Mutex
	calls int
}

// Diarize returns the scripted segments and records the call.
func (e *Engine) Diarize(_ context.Context, pcm []byte) ([]types.SpeakerSegment, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.DiarizeFunc != nil {
		return e.DiarizeFunc(pcm)
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Segments, nil
}

// Name returns "mock".
func (e *Engine) Name() string { return "mock" }

// Close is a no-op.
func (e *Engine) Close() error { return nil }

// Calls returns how many times Diarize was invoked.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
