// Package asr implements the per-stream transcription stage: it consumes
// speech chunks, routes them through a primary engine guarded by a circuit
// breaker (with optional fallback), and appends the resulting tokens to the
// stream's token queue.
package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/internal/resilience"
	"github.com/Theesthan/VoxSentinel/pkg/provider/asr"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// ErrCircuitOpen is surfaced by [Failover.StreamAudio] when the primary's
// breaker is open and no fallback is configured. The router abandons the
// chunk and continues.
var ErrCircuitOpen = resilience.ErrCircuitOpen

// FailoverConfig tunes the circuit breaker guarding the primary engine.
type FailoverConfig struct {
	// FailureThreshold is the consecutive-error count that opens the
	// breaker. Default: 3.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open. Default: 60s.
	RecoveryTimeout time.Duration
}

// Failover routes chunks to the primary engine while its breaker allows it
// and to the fallback otherwise. The failover-activated warning is emitted
// once per transition, not once per chunk.
//
// Failover is driven by a single router goroutine; only the transition flag
// is accessed concurrently (by EngineUsed).
type Failover struct {
	streamID string
	primary  asr.Engine
	fallback asr.Engine // nil when no fallback is configured
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
	log      *slog.Logger

	// failedOver is true while chunks are being served by the fallback.
	failedOver atomic.Bool
}

// NewFailover creates a failover manager for one stream. fallback may be
// nil.
func NewFailover(streamID string, primary, fallback asr.Engine, cfg FailoverConfig, metrics *observe.Metrics) *Failover {
	return &Failover{
		streamID: streamID,
		primary:  primary,
		fallback: fallback,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "asr/" + primary.Name() + "/" + streamID,
			FailureThreshold: cfg.FailureThreshold,
			RecoveryTimeout:  cfg.RecoveryTimeout,
		}),
		metrics: metrics,
		log:     slog.With("component", "asr", "stream_id", streamID),
	}
}

// Connect brings up the primary and, when present, the fallback engine.
// A fallback connect failure is logged but not fatal; the fallback is
// retried lazily on first use.
func (f *Failover) Connect(ctx context.Context) error {
	if err := f.primary.Connect(ctx); err != nil {
		return fmt.Errorf("asr: connect primary %s: %w", f.primary.Name(), err)
	}
	if f.fallback != nil {
		if err := f.fallback.Connect(ctx); err != nil {
			f.log.Warn("asr fallback connect failed, will retry on demand",
				"engine", f.fallback.Name(), "error", err)
		}
	}
	return nil
}

// Disconnect tears down both engines.
func (f *Failover) Disconnect() error {
	var errs []error
	if err := f.primary.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	if f.fallback != nil {
		if err := f.fallback.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StreamAudio routes one chunk. Primary errors count against the breaker
// and reroute the chunk through the fallback; with the breaker open and no
// fallback configured the chunk fails with [ErrCircuitOpen].
func (f *Failover) StreamAudio(ctx context.Context, pcm []byte) ([]types.TranscriptToken, error) {
	var tokens []types.TranscriptToken
	err := f.breaker.Execute(func() error {
		var innerErr error
		tokens, innerErr = f.primary.StreamAudio(ctx, pcm)
		return innerErr
	})
	if err == nil {
		if f.failedOver.Swap(false) {
			f.log.Info("asr primary recovered, failover deactivated",
				"engine", f.primary.Name())
		}
		return tokens, nil
	}

	if !errors.Is(err, resilience.ErrCircuitOpen) {
		f.log.Warn("asr primary failure",
			"engine", f.primary.Name(),
			"failures", f.breaker.Failures(),
			"error", err)
		f.metrics.RecordASRFailure(ctx, f.primary.Name())
	}

	if f.fallback == nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("asr: %s: %w", f.primary.Name(), ErrCircuitOpen)
		}
		return nil, err
	}

	if !f.failedOver.Swap(true) {
		f.log.Warn("asr_failover_activated",
			"primary", f.primary.Name(),
			"fallback", f.fallback.Name())
		f.metrics.RecordASRFailover(ctx, f.primary.Name(), f.fallback.Name())
	}

	tokens, fbErr := f.fallback.StreamAudio(ctx, pcm)
	if fbErr != nil {
		return nil, fmt.Errorf("asr: fallback %s: %w", f.fallback.Name(), fbErr)
	}
	return tokens, nil
}

// EngineUsed returns the name of the engine currently serving chunks.
func (f *Failover) EngineUsed() string {
	if f.failedOver.Load() && f.fallback != nil {
		return f.fallback.Name()
	}
	return f.primary.Name()
}

// BreakerState exposes the breaker state for health reporting.
func (f *Failover) BreakerState() resilience.State {
	return f.breaker.State()
}
