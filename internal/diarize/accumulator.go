package diarize

import (
	"context"
	"log/slog"
	"time"

	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/internal/queue"
	"github.com/Theesthan/VoxSentinel/pkg/pcm"
	"github.com/Theesthan/VoxSentinel/pkg/provider/diarize"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// errSleep is the pause after a transient read error.
const errSleep = time.Second

// DiarizationEvent is the pub/sub payload, one per speaker segment.
type DiarizationEvent struct {
	SpeakerID string `json:"speaker_id"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
}

// Accumulator batches speech chunks into fixed windows and diarizes each
// one. Segment offsets from the engine are window-relative; the accumulator
// rebases them onto the session audio timeline before sharing them.
type Accumulator struct {
	bus       *queue.Bus
	engine    diarize.Engine
	holder    *Holder
	streamID  string
	windowLen int
	metrics   *observe.Metrics
	log       *slog.Logger

	buf         []byte
	processedMs int64
}

// NewAccumulator creates an accumulator for one stream using windows of
// windowSeconds of audio.
func NewAccumulator(bus *queue.Bus, engine diarize.Engine, holder *Holder, streamID string, windowSeconds int, metrics *observe.Metrics) *Accumulator {
	windowLen := windowSeconds * pcm.SampleRate * pcm.BytesPerSample
	return &Accumulator{
		bus:       bus,
		engine:    engine,
		holder:    holder,
		streamID:  streamID,
		windowLen: windowLen,
		metrics:   metrics,
		log:       slog.With("component", "diarize", "stream_id", streamID),
		buf:       make([]byte, 0, windowLen),
	}
}

// Run consumes speech chunks until ctx is cancelled.
func (a *Accumulator) Run(ctx context.Context) error {
	reader := a.bus.NewReader(queue.SpeechChunks(a.streamID))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.Warn("speech chunk read failed, retrying", "error", err)
			sleep(ctx, errSleep)
			continue
		}

		for _, msg := range msgs {
			a.feed(ctx, msg.Values)
		}
	}
}

// feed appends one chunk to the window and diarizes when the window fills.
func (a *Accumulator) feed(ctx context.Context, values map[string]any) {
	entry, err := queue.ChunkEntryFromValues(values)
	if err != nil {
		a.log.Warn("dropping malformed speech chunk", "error", err)
		return
	}
	raw, err := entry.PCM()
	if err != nil {
		a.log.Warn("dropping undecodable speech chunk", "chunk_id", entry.ChunkID, "error", err)
		return
	}
	a.buf = append(a.buf, raw...)
	for len(a.buf) >= a.windowLen {
		window := a.buf[:a.windowLen]
		a.diarizeWindow(ctx, window)
		a.buf = a.buf[a.windowLen:]
		a.processedMs += pcm.DurationMs(a.windowLen)
	}
}

// diarizeWindow runs the engine over one window and publishes the rebased
// segments. Engine errors skip the window; attribution degrades to
// SPEAKER_UNKNOWN rather than stalling the stream.
func (a *Accumulator) diarizeWindow(ctx context.Context, window []byte) {
	start := time.Now()
	segments, err := a.engine.Diarize(ctx, window)
	a.metrics.DiarizationDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.log.Warn("diarization failed, window skipped", "error", err)
		return
	}

	// Rebase window-relative offsets onto the session timeline.
	rebased := make([]types.SpeakerSegment, len(segments))
	for i, seg := range segments {
		rebased[i] = types.SpeakerSegment{
			SpeakerID: seg.SpeakerID,
			StartMs:   seg.StartMs + a.processedMs,
			EndMs:     seg.EndMs + a.processedMs,
		}
	}

	a.holder.Set(rebased)

	for _, seg := range rebased {
		event := DiarizationEvent{
			SpeakerID: seg.SpeakerID,
			StartMs:   seg.StartMs,
			EndMs:     seg.EndMs,
		}
		if err := a.bus.PublishEvent(ctx, queue.DiarizationEvents(a.streamID), event); err != nil {
			a.log.Warn("diarization event publish failed", "error", err)
		}
	}
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
