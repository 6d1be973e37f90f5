// Package mock provides a scriptable asr.Engine for tests.
package mock

import (
	"context"
	"sync"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// Engine is a test double for asr.Engine. Script per-call behaviour with
// Results/Errs (consumed in order, last entry repeats) or supply StreamFunc
// for full control.
type Engine struct {
	// EngineName is returned by Name. Defaults to "mock".
	EngineName string

	// Results are returned by successive StreamAudio calls when StreamFunc
	// is nil. The last element repeats once the script is exhausted.
	Results [][]types.TranscriptToken

	// Errs are returned by successive StreamAudio calls; nil entries mean
	// success. The last element repeats. Evaluated before Results.
	Errs []error

	// StreamFunc, when non-nil, replaces the scripted behaviour entirely.
	StreamFunc func(pcm []byte) ([]types.TranscriptToken, error)

	// ConnectErr is returned by Connect.
	ConnectErr error

	// Healthy is returned by HealthCheck. Defaults to true via the
	// constructor-free zero value convention below.
	Unhealthy bool

	mu           sync.Mutex
	streamCalls  int
	connectCalls int
	disconnected bool
}

// Connect records the call and returns ConnectErr.
func (e *Engine) Connect(context.Context) error {
	e.mu.Lock()
	e.connectCalls++
	e.mu.Unlock()
	return e.ConnectErr
}

// Disconnect records the call.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	e.disconnected = true
	e.mu.Unlock()
	return nil
}

// StreamAudio returns the next scripted result.
func (e *Engine) StreamAudio(_ context.Context, pcm []byte) ([]types.TranscriptToken, error) {
	e.mu.Lock()
	n := e.streamCalls
	e.streamCalls++
	e.mu.Unlock()

	if e.StreamFunc != nil {
		return e.StreamFunc(pcm)
	}
	if err := pick(e.Errs, n); err != nil {
		return nil, err
	}
	return pick(e.Results, n), nil
}

// HealthCheck returns !Unhealthy.
func (e *Engine) HealthCheck(context.Context) bool { return !e.Unhealthy }

// Name returns EngineName or "mock".
func (e *Engine) Name() string {
	if e.EngineName != "" {
		return e.EngineName
	}
	return "mock"
}

// StreamCalls returns how many times StreamAudio was invoked.
func (e *Engine) StreamCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamCalls
}

// Disconnected reports whether Disconnect was called.
func (e *Engine) Disconnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnected
}

// pick returns script[i], repeating the final element, or the zero value for
// an empty script.
func pick[T any](script []T, i int) T {
	var zero T
	if len(script) == 0 {
		return zero
	}
	if i >= len(script) {
		return script[len(script)-1]
	}
	return script[i]
}
