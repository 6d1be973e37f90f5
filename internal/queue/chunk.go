package queue

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// ChunkEntry is the field layout of audio_chunks and speech_chunks entries.
// The PCM payload travels base64-encoded so field values stay string-safe.
type ChunkEntry struct {
	ChunkID    string
	StreamID   string
	SessionID  string
	PCMBase64  string
	Timestamp  time.Time
	DurationMs int64
}

// NewChunkEntry builds an entry for raw PCM, encoding the payload and
// stamping the production time in UTC.
func NewChunkEntry(chunkID, streamID, sessionID string, pcm []byte, durationMs int64) ChunkEntry {
	return ChunkEntry{
		ChunkID:    chunkID,
		StreamID:   streamID,
		SessionID:  sessionID,
		PCMBase64:  base64.StdEncoding.EncodeToString(pcm),
		Timestamp:  time.Now().UTC(),
		DurationMs: durationMs,
	}
}

// Fields returns the entry as a Redis stream value map.
func (c ChunkEntry) Fields() map[string]any {
	return map[string]any{
		"chunk_id":    c.ChunkID,
		"stream_id":   c.StreamID,
		"session_id":  c.SessionID,
		"pcm_b64":     c.PCMBase64,
		"timestamp":   c.Timestamp.Format(time.RFC3339Nano),
		"duration_ms": strconv.FormatInt(c.DurationMs, 10),
	}
}

// PCM decodes the base64 payload back to raw bytes.
func (c ChunkEntry) PCM() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(c.PCMBase64)
	if err != nil {
		return nil, fmt.Errorf("queue: decode chunk %s pcm: %w", c.ChunkID, err)
	}
	return b, nil
}

// ChunkEntryFromValues parses a stream entry value map back into a
// ChunkEntry. Missing mandatory fields are an error; the VAD gate relies on
// re-publishing the original values unmodified, so parsing stays lenient
// about extras.
func ChunkEntryFromValues(values map[string]any) (ChunkEntry, error) {
	c := ChunkEntry{
		ChunkID:   StringField(values, "chunk_id"),
		StreamID:  StringField(values, "stream_id"),
		SessionID: StringField(values, "session_id"),
		PCMBase64: StringField(values, "pcm_b64"),
	}
	if c.ChunkID == "" || c.PCMBase64 == "" {
		return ChunkEntry{}, fmt.Errorf("queue: chunk entry missing chunk_id or pcm_b64")
	}
	if ts := StringField(values, "timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return ChunkEntry{}, fmt.Errorf("queue: chunk %s timestamp: %w", c.ChunkID, err)
		}
		c.Timestamp = t
	}
	if d := StringField(values, "duration_ms"); d != "" {
		ms, err := strconv.ParseInt(d, 10, 64)
		if err != nil {
			return ChunkEntry{}, fmt.Errorf("queue: chunk %s duration_ms: %w", c.ChunkID, err)
		}
		c.DurationMs = ms
	}
	return c, nil
}
