// Package silero provides a VAD engine backed by the Silero VAD ONNX model.
// It implements the vad.Engine interface.
package silero

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/Theesthan/VoxSentinel/pkg/pcm"
)

// Option is a functional option for configuring the silero Engine.
type Option func(*Engine)

// WithThreshold sets the model-internal speech probability threshold used
// for segment boundary detection. The gate applies its own threshold on the
// returned coverage score, so this mostly affects segment granularity.
func WithThreshold(t float32) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithMinSilence sets the minimum silence duration (ms) that closes a speech
// segment inside the model.
func WithMinSilence(ms int) Option {
	return func(e *Engine) { e.minSilenceMs = ms }
}

// Engine scores chunks with the Silero VAD model. The underlying detector is
// stateful and not concurrency-safe, so all calls are serialized; chunk
// scoring is cheap enough (a few ms per 280 ms chunk) that a single detector
// serves all streams.
type Engine struct {
	mu        sync.Mutex
	detector  *speech.Detector
	closed    bool

	threshold    float32
	minSilenceMs int
}

// New loads the Silero model from modelPath and returns a ready Engine.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	e := &Engine{
		threshold:    0.5,
		minSilenceMs: 100,
	}
	for _, o := range opts {
		o(e)
	}

	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           pcm.SampleRate,
		Threshold:            e.threshold,
		MinSilenceDurationMs: e.minSilenceMs,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	e.detector = sd
	return e, nil
}

// Score runs the detector over the chunk and returns the fraction of the
// chunk covered by detected speech segments.
func (e *Engine) Score(ctx context.Context, raw []byte) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	samples := pcm.ToFloat32(raw)
	if len(samples) == 0 {
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, errors.New("silero: engine is closed")
	}

	// Each chunk is scored independently; clear detector state from the
	// previous call.
	if err := e.detector.Reset(); err != nil {
		return 0, fmt.Errorf("silero: reset: %w", err)
	}
	segments, err := e.detector.Detect(samples)
	if err != nil {
		return 0, fmt.Errorf("silero: detect: %w", err)
	}

	chunkSec := float64(len(samples)) / float64(pcm.SampleRate)
	var covered float64
	for _, seg := range segments {
		end := seg.SpeechEndAt
		if end <= 0 || end > chunkSec {
			// Open segment: speech runs to the end of the chunk.
			end = chunkSec
		}
		if end > seg.SpeechStartAt {
			covered += end - seg.SpeechStartAt
		}
	}

	score := covered / chunkSec
	if score > 1 {
		score = 1
	}
	return score, nil
}

// Name returns "silero".
func (e *Engine) Name() string { return "silero" }

// Close destroys the detector. Safe to call multiple times.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.detector.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy: %w", err)
	}
	return nil
}
