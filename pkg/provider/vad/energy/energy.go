// Package energy provides a model-free VAD engine based on RMS signal
// energy. It exists for deployments without the Silero model and as the
// degraded-mode fallback; expect more false positives than a real model.
package energy

import (
	"context"

	"github.com/Theesthan/VoxSentinel/pkg/pcm"
)

// referenceRMS is the int16 RMS amplitude mapped to a score of 1.0. Values
// around 500 correspond to clearly audible speech on typical broadcast
// sources.
const referenceRMS = 500.0

// Engine scores chunks by normalized RMS energy. It is stateless and safe
// for concurrent use.
type Engine struct {
	reference float64
}

// Option is a functional option for configuring the energy Engine.
type Option func(*Engine)

// WithReference overrides the RMS amplitude that maps to a score of 1.0.
func WithReference(rms float64) Option {
	return func(e *Engine) {
		if rms > 0 {
			e.reference = rms
		}
	}
}

// New creates an energy Engine.
func New(opts ...Option) *Engine {
	e := &Engine{reference: referenceRMS}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Score returns min(RMS/reference, 1).
func (e *Engine) Score(_ context.Context, raw []byte) (float64, error) {
	score := pcm.RMS(raw) / e.reference
	if score > 1 {
		score = 1
	}
	return score, nil
}

// Name returns "energy".
func (e *Engine) Name() string { return "energy" }

// Close is a no-op.
func (e *Engine) Close() error { return nil }
