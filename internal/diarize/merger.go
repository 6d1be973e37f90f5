package diarize

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Theesthan/VoxSentinel/internal/queue"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// Merger joins transcript tokens with diarization output and republishes
// them as enriched tokens carrying a speaker attribution. It reads the
// accumulator's holder, which carries only the latest window's segments.
type Merger struct {
	bus       *queue.Bus
	holder    *Holder
	streamID  string
	sessionID string
	log       *slog.Logger
}

// NewMerger creates a merger for one stream session, attributing tokens
// against the segments held by holder.
func NewMerger(bus *queue.Bus, holder *Holder, streamID, sessionID string) *Merger {
	return &Merger{
		bus:       bus,
		holder:    holder,
		streamID:  streamID,
		sessionID: sessionID,
		log:       slog.With("component", "diarize_merger", "stream_id", streamID),
	}
}

// Run consumes transcript tokens until ctx is cancelled.
func (m *Merger) Run(ctx context.Context) error {
	reader := m.bus.NewReader(queue.TranscriptTokens(m.streamID))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn("token read failed, retrying", "error", err)
			sleep(ctx, errSleep)
			continue
		}

		for _, msg := range msgs {
			m.processToken(ctx, msg.Values)
		}
	}
}

// processToken attributes one token and publishes the enriched form.
func (m *Merger) processToken(ctx context.Context, values map[string]any) {
	raw := queue.StringField(values, "token")
	if raw == "" {
		m.log.Warn("dropping token entry without token field")
		return
	}

	var tok types.TranscriptToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		m.log.Warn("dropping unparseable token", "error", err)
		return
	}

	enriched := types.EnrichedToken{
		Text:       tok.Text,
		IsFinal:    tok.IsFinal,
		StartMs:    tok.StartMs,
		EndMs:      tok.EndMs,
		Confidence: tok.Confidence,
		Language:   tok.Language,
		SpeakerID:  m.holder.AssignSpeaker(tok.StartMs, tok.EndMs),
		StreamID:   m.streamID,
		SessionID:  m.sessionID,
	}

	if _, err := m.bus.PublishJSON(ctx, queue.EnrichedTokens(m.streamID), "token", enriched); err != nil {
		m.log.Warn("enriched token publish failed", "error", err)
	}
}
