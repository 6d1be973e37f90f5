package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/internal/queue"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// SegmentStore is the persistence surface the writer needs; implemented by
// [Store].
type SegmentStore interface {
	WriteSegment(ctx context.Context, seg types.TranscriptSegment) error
}

// Indexer pushes persisted segments into the search backend; implemented by
// the search client. A nil Indexer disables indexing.
type Indexer interface {
	IndexSegment(ctx context.Context, seg types.TranscriptSegment) error
}

// errPause is the wait after a transient queue read error.
const errPause = time.Second

// SegmentWriter consumes one stream's redacted tokens, turns each into a
// hashed transcript segment, persists it, and indexes it. Persistence errors
// skip the entry and keep the writer running; index errors only log.
type SegmentWriter struct {
	bus      *queue.Bus
	store    SegmentStore
	indexer  Indexer
	streamID string
	metrics  *observe.Metrics
	log      *slog.Logger
}

// NewSegmentWriter creates a writer for one stream.
func NewSegmentWriter(bus *queue.Bus, store SegmentStore, indexer Indexer, streamID string, metrics *observe.Metrics) *SegmentWriter {
	return &SegmentWriter{
		bus:      bus,
		store:    store,
		indexer:  indexer,
		streamID: streamID,
		metrics:  metrics,
		log:      slog.With("component", "segment_writer", "stream_id", streamID),
	}
}

// Run consumes redacted tokens until ctx is cancelled.
func (w *SegmentWriter) Run(ctx context.Context) error {
	reader := w.bus.NewReader(queue.RedactedTokens(w.streamID))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("redacted token read failed, retrying", "error", err)
			wait(ctx, errPause)
			continue
		}

		for _, msg := range msgs {
			w.processEntry(ctx, msg.Values)
		}
	}
}

// processEntry converts one queue entry into a segment and persists it.
func (w *SegmentWriter) processEntry(ctx context.Context, values map[string]any) {
	seg, err := segmentFromValues(w.streamID, values)
	if err != nil {
		w.log.Warn("dropping malformed redacted entry", "error", err)
		return
	}

	if err := w.store.WriteSegment(ctx, seg); err != nil {
		w.log.Error("segment persist failed", "segment_id", seg.SegmentID, "error", err)
		return
	}
	w.metrics.RecordSegmentPersisted(ctx, w.streamID)

	if w.indexer != nil {
		if err := w.indexer.IndexSegment(ctx, seg); err != nil {
			w.log.Warn("segment index failed", "segment_id", seg.SegmentID, "error", err)
		}
	}
}

// segmentFromValues builds a hashed TranscriptSegment from queue fields. The
// hash covers the original text when present so later redaction-rule changes
// cannot alter the evidence chain.
func segmentFromValues(streamID string, values map[string]any) (types.TranscriptSegment, error) {
	seg := types.TranscriptSegment{
		SegmentID:      uuid.NewString(),
		SessionID:      queue.StringField(values, "session_id"),
		StreamID:       streamID,
		SpeakerID:      queue.StringField(values, "speaker_id"),
		TextRedacted:   queue.StringField(values, "text_redacted"),
		TextOriginal:   queue.StringField(values, "text_original"),
		Language:       queue.StringField(values, "language"),
		ASRBackend:     queue.StringField(values, "asr_backend"),
		SentimentLabel: queue.StringField(values, "sentiment_label"),
		CreatedAt:      time.Now().UTC(),
	}

	var err error
	if seg.StartTime, err = floatField(values, "start_time"); err != nil {
		return seg, err
	}
	if seg.EndTime, err = floatField(values, "end_time"); err != nil {
		return seg, err
	}
	seg.SentimentScore, _ = floatField(values, "sentiment_score")
	seg.ASRConfidence, _ = floatField(values, "confidence")

	if raw := queue.StringField(values, "entities_found"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &seg.PIIEntities); err != nil {
			return seg, err
		}
	}

	hashText := seg.TextOriginal
	if hashText == "" {
		hashText = seg.TextRedacted
	}
	seg.SegmentHash = SegmentHash(seg.SegmentID, hashText, seg.StartTime, seg.SessionID)
	return seg, nil
}

// floatField parses a numeric string field.
func floatField(values map[string]any, key string) (float64, error) {
	s := queue.StringField(values, key)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
