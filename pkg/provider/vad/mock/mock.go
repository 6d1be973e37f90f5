// Package mock provides a scriptable vad.Engine for tests.
package mock

import (
	"context"
	"sync"
)

// Engine is a test double for vad.Engine. Either set Fixed for a constant
// score or ScoreFunc for per-call control. The zero value scores everything
// as 0.
type Engine struct {
	// Fixed is returned when ScoreFunc is nil.
	Fixed float64

	// ScoreFunc, when non-nil, computes the score per call.
	ScoreFunc func(pcm []byte) (float64, error)

	mu     sync.Mutex
	calls  int
	closed bool
}

// Score returns the scripted score and records the call.
func (e *Engine) Score(_ context.Context, pcm []byte) (float64, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.ScoreFunc != nil {
		return e.ScoreFunc(pcm)
	}
	return e.Fixed, nil
}

// Name returns "mock".
func (e *Engine) Name() string { return "mock" }

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Calls returns how many times Score was invoked.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
