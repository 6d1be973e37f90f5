package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Theesthan/VoxSentinel/internal/observe"
)

// Default reconnection parameters.
const (
	defaultMaxAttempts = 5
	defaultBackoff     = 1 * time.Second

	// stableAfter is how long a connection must stay up before the attempt
	// counter resets. Prevents a flapping source from slowly exhausting the
	// budget across hours.
	stableAfter = 30 * time.Second
)

// ErrReconnectFailed is returned by [Reconnector.Run] when the attempt budget
// is exhausted without re-establishing the source.
var ErrReconnectFailed = errors.New("ingest: reconnection failed after max attempts")

// Reconnector wraps an ingestion pipeline run with exponential-backoff
// reconnection. The backoff doubles per consecutive failure (1s, 2s, 4s, ...)
// and the counter resets once a connection stays up for [stableAfter].
type Reconnector struct {
	run         func(ctx context.Context) error
	streamID    string
	maxAttempts int
	backoff     time.Duration
	metrics     *observe.Metrics
	log         *slog.Logger

	// onFailure is called once when the budget is exhausted, before Run
	// returns ErrReconnectFailed. May be nil.
	onFailure func(ctx context.Context)
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// StreamID labels log lines and metrics.
	StreamID string

	// Run executes one pipeline session. A nil return means the source ended
	// cleanly and no reconnection is needed.
	Run func(ctx context.Context) error

	// MaxAttempts is the consecutive-failure budget. Defaults to 5 if zero.
	MaxAttempts int

	// Backoff is the initial backoff duration. Doubles each attempt.
	// Defaults to 1s if zero.
	Backoff time.Duration

	// OnFailure is called when the budget is exhausted. May be nil.
	OnFailure func(ctx context.Context)

	Metrics *observe.Metrics
}

// NewReconnector creates a [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Reconnector{
		run:         cfg.Run,
		streamID:    cfg.StreamID,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		metrics:     cfg.Metrics,
		log:         slog.With("component", "ingest", "stream_id", cfg.StreamID),
		onFailure:   cfg.OnFailure,
	}
}

// Run executes the pipeline, reconnecting with exponential backoff on
// connection loss. It returns nil when the source ends cleanly, ctx.Err()
// on cancellation, and [ErrReconnectFailed] once the budget is exhausted.
func (r *Reconnector) Run(ctx context.Context) error {
	attempt := 0
	backoff := r.backoff

	for {
		started := time.Now()
		err := r.run(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(started) >= stableAfter {
			attempt = 0
			backoff = r.backoff
		}

		attempt++
		if attempt > r.maxAttempts {
			r.log.Error("reconnection failed after max attempts",
				"max_attempts", r.maxAttempts,
				"error", err)
			if r.onFailure != nil {
				r.onFailure(ctx)
			}
			return ErrReconnectFailed
		}

		r.log.Warn("connection lost, reconnecting",
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"backoff", backoff,
			"error", err)
		if r.metrics != nil {
			r.metrics.RecordReconnection(ctx, r.streamID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
