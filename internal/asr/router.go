package asr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/internal/queue"
)

// errSleep is the pause after a transient queue or engine error before the
// loop retries.
const errSleep = time.Second

// Router is the per-stream transcription loop. It reads speech chunks,
// pushes the PCM through the failover manager, and serializes every yielded
// token onto transcript_tokens:{stream_id}.
type Router struct {
	bus      *queue.Bus
	failover *Failover
	streamID string
	metrics  *observe.Metrics
	log      *slog.Logger
}

// NewRouter creates a router for one stream.
func NewRouter(bus *queue.Bus, failover *Failover, streamID string, metrics *observe.Metrics) *Router {
	return &Router{
		bus:      bus,
		failover: failover,
		streamID: streamID,
		metrics:  metrics,
		log:      slog.With("component", "asr_router", "stream_id", streamID),
	}
}

// Run consumes speech chunks until ctx is cancelled. Transient errors never
// crash the loop; they are logged and retried after a short sleep.
func (r *Router) Run(ctx context.Context) error {
	if err := r.failover.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := r.failover.Disconnect(); err != nil {
			r.log.Warn("asr disconnect error", "error", err)
		}
	}()

	reader := r.bus.NewReader(queue.SpeechChunks(r.streamID))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("speech chunk read failed, retrying", "error", err)
			sleep(ctx, errSleep)
			continue
		}

		for _, msg := range msgs {
			r.processChunk(ctx, msg.Values)
		}
	}
}

// processChunk decodes one queue entry and routes it through the engines.
func (r *Router) processChunk(ctx context.Context, values map[string]any) {
	entry, err := queue.ChunkEntryFromValues(values)
	if err != nil {
		r.log.Warn("dropping malformed speech chunk", "error", err)
		return
	}
	pcm, err := entry.PCM()
	if err != nil {
		r.log.Warn("dropping undecodable speech chunk", "chunk_id", entry.ChunkID, "error", err)
		return
	}

	start := time.Now()
	tokens, err := r.failover.StreamAudio(ctx, pcm)
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			// No fallback and the primary is tripped: abandon the chunk.
			r.metrics.RecordASRChunkAbandoned(ctx, r.streamID)
			r.log.Debug("chunk abandoned, circuit open", "chunk_id", entry.ChunkID)
			return
		}
		r.log.Warn("transcription failed", "chunk_id", entry.ChunkID, "error", err)
		return
	}
	r.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())

	for _, tok := range tokens {
		if _, err := r.bus.PublishJSON(ctx, queue.TranscriptTokens(r.streamID), "token", tok); err != nil {
			r.log.Warn("token publish failed", "error", err)
		}
	}
}

// EngineUsed reports which engine is currently serving this stream.
func (r *Router) EngineUsed() string { return r.failover.EngineUsed() }

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
