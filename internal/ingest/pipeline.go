package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/internal/queue"
	"github.com/Theesthan/VoxSentinel/pkg/pcm"
)

// readBufSize is the read granularity against the extractor. Small enough to
// keep chunk latency low, large enough to avoid syscall churn.
const readBufSize = 4096

// Pipeline pumps one stream's audio from its extractor onto the stream's
// audio chunk queue. Run returns nil on clean end of stream and an error on
// connection loss, which the [Reconnector] turns into backoff-and-retry.
type Pipeline struct {
	bus       *queue.Bus
	extractor Extractor
	streamID  string
	sessionID string
	chunker   *Chunker
	metrics   *observe.Metrics
	log       *slog.Logger
}

// NewPipeline creates an ingestion pipeline for one stream session.
func NewPipeline(bus *queue.Bus, extractor Extractor, streamID, sessionID string, chunkMs int, metrics *observe.Metrics) *Pipeline {
	return &Pipeline{
		bus:       bus,
		extractor: extractor,
		streamID:  streamID,
		sessionID: sessionID,
		chunker:   NewChunker(chunkMs),
		metrics:   metrics,
		log:       slog.With("component", "ingest", "stream_id", streamID),
	}
}

// Run opens the source and publishes chunks until the source ends, the
// connection drops, or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	rc, err := p.extractor.Open(ctx)
	if err != nil {
		return fmt.Errorf("ingest: open %s source: %w", p.extractor.Name(), err)
	}
	defer rc.Close()

	p.chunker.Reset()
	p.log.Info("ingestion started",
		"extractor", p.extractor.Name(),
		"session_id", p.sessionID,
		"chunk_bytes", p.chunker.ChunkSize())

	buf := make([]byte, readBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := rc.Read(buf)
		if n > 0 {
			if err := p.publishChunks(ctx, p.chunker.Feed(buf[:n])); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if pending := p.chunker.Pending(); pending > 0 {
					p.log.Debug("discarding trailing partial chunk", "bytes", pending)
				}
				p.log.Info("source ended", "session_id", p.sessionID)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ingest: read %s source: %w", p.extractor.Name(), readErr)
		}
	}
}

// publishChunks appends each complete chunk to the stream's audio queue.
func (p *Pipeline) publishChunks(ctx context.Context, chunks [][]byte) error {
	for _, chunk := range chunks {
		entry := queue.NewChunkEntry(uuid.NewString(), p.streamID, p.sessionID, chunk, pcm.DurationMs(len(chunk)))
		if _, err := p.bus.Publish(ctx, queue.AudioChunks(p.streamID), entry.Fields()); err != nil {
			return fmt.Errorf("ingest: publish chunk: %w", err)
		}
		p.metrics.RecordChunkProduced(ctx, p.streamID)
	}
	return nil
}
