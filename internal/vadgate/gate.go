// Package vadgate filters silence out of the audio stream. Each chunk is
// scored by a voice activity engine; chunks at or above the threshold are
// forwarded to the speech queue with their entry values untouched, the rest
// are dropped. The gate also keeps a per-stream speech ratio that it flushes
// to metrics once a minute.
package vadgate

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/internal/queue"
	"github.com/Theesthan/VoxSentinel/pkg/provider/vad"
)

// ratioFlushInterval is how often the speech ratio gauge is updated.
const ratioFlushInterval = 60 * time.Second

// errSleep is the pause after a transient read or scoring error.
const errSleep = time.Second

// Gate is the per-stream VAD stage.
type Gate struct {
	bus       *queue.Bus
	engine    vad.Engine
	streamID  string
	threshold float64
	metrics   *observe.Metrics
	log       *slog.Logger

	// 60s window counters, owned by the Run goroutine.
	speech int
	total  int

	degraded atomic.Bool
}

// NewGate creates a gate for one stream. A chunk whose score equals the
// threshold passes.
func NewGate(bus *queue.Bus, engine vad.Engine, streamID string, threshold float64, metrics *observe.Metrics) *Gate {
	return &Gate{
		bus:       bus,
		engine:    engine,
		streamID:  streamID,
		threshold: threshold,
		metrics:   metrics,
		log:       slog.With("component", "vadgate", "stream_id", streamID),
	}
}

// Run consumes audio chunks until ctx is cancelled. Scoring errors fail open:
// the chunk is forwarded so a broken VAD model never silences a stream.
func (g *Gate) Run(ctx context.Context) error {
	reader := g.bus.NewReader(queue.AudioChunks(g.streamID))
	ticker := time.NewTicker(ratioFlushInterval)
	defer ticker.Stop()
	defer g.flushRatio(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.flushRatio(ctx)
		default:
		}

		msgs, err := reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.log.Warn("audio chunk read failed, retrying", "error", err)
			sleep(ctx, errSleep)
			continue
		}

		for _, msg := range msgs {
			g.processChunk(ctx, msg.Values)
		}
	}
}

// processChunk scores one chunk and forwards or drops it.
func (g *Gate) processChunk(ctx context.Context, values map[string]any) {
	entry, err := queue.ChunkEntryFromValues(values)
	if err != nil {
		g.log.Warn("dropping malformed audio chunk", "error", err)
		return
	}
	raw, err := entry.PCM()
	if err != nil {
		g.log.Warn("dropping undecodable audio chunk", "chunk_id", entry.ChunkID, "error", err)
		return
	}

	g.total++

	start := time.Now()
	score, err := g.engine.Score(ctx, raw)
	g.metrics.VADDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		g.log.Warn("vad scoring failed, forwarding chunk", "chunk_id", entry.ChunkID, "error", err)
		g.degraded.Store(true)
		score = 1
	} else {
		g.degraded.Store(false)
	}

	if score < g.threshold {
		g.metrics.RecordChunkDropped(ctx, g.streamID)
		return
	}

	g.speech++
	// Forward the original values untouched so downstream stages see the
	// exact entry the ingester produced.
	if _, err := g.bus.Publish(ctx, queue.SpeechChunks(g.streamID), values); err != nil {
		g.log.Warn("speech chunk publish failed", "chunk_id", entry.ChunkID, "error", err)
	}
}

// Degraded reports whether the most recent scoring attempt failed. The gate
// fails open on scorer errors, so readiness surfaces the condition instead
// of the audio path.
func (g *Gate) Degraded() bool { return g.degraded.Load() }

// flushRatio records the window's speech ratio and resets the counters.
// A window with no chunks at all is skipped.
func (g *Gate) flushRatio(ctx context.Context) {
	if g.total == 0 {
		return
	}
	ratio := float64(g.speech) / float64(g.total)
	g.metrics.RecordSpeechRatio(ctx, g.streamID, ratio)
	g.log.Debug("speech ratio window",
		"speech_chunks", g.speech,
		"total_chunks", g.total,
		"ratio", ratio)
	g.speech = 0
	g.total = 0
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
