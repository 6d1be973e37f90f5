package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// SegmentHash computes the tamper-evidence hash over a segment's identifying
// fields. The text input is the original transcript when retained, otherwise
// the redacted form — whichever the segment actually stores.
func SegmentHash(segmentID, text string, startTime float64, sessionID string) string {
	h := sha256.New()
	h.Write([]byte(segmentID))
	h.Write([]byte(text))
	h.Write([]byte(strconv.FormatFloat(startTime, 'f', -1, 64)))
	h.Write([]byte(sessionID))
	return hex.EncodeToString(h.Sum(nil))
}

// WriteSegment persists one segment and bumps the session's segment counter
// in the same transaction.
func (s *Store) WriteSegment(ctx context.Context, seg types.TranscriptSegment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin segment tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO transcript_segments
		    (segment_id, session_id, stream_id, speaker_id, start_time, end_time,
		     text_redacted, text_original, language, asr_backend, asr_confidence,
		     sentiment_label, sentiment_score, pii_entities, segment_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	entities := seg.PIIEntities
	if entities == nil {
		entities = []string{}
	}
	createdAt := seg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, q,
		seg.SegmentID, seg.SessionID, seg.StreamID, seg.SpeakerID,
		seg.StartTime, seg.EndTime,
		seg.TextRedacted, seg.TextOriginal, seg.Language,
		seg.ASRBackend, seg.ASRConfidence,
		seg.SentimentLabel, seg.SentimentScore,
		entities, seg.SegmentHash, createdAt,
	); err != nil {
		return fmt.Errorf("store: insert segment: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET segment_count = segment_count + 1 WHERE session_id = $1`,
		seg.SessionID,
	); err != nil {
		return fmt.Errorf("store: bump session segment count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit segment: %w", err)
	}
	return nil
}

// GetSegment loads one segment by ID.
func (s *Store) GetSegment(ctx context.Context, segmentID string) (types.TranscriptSegment, error) {
	const q = segmentColumns + `WHERE segment_id = $1`
	rows, err := s.pool.Query(ctx, q, segmentID)
	if err != nil {
		return types.TranscriptSegment{}, fmt.Errorf("store: get segment: %w", err)
	}
	seg, err := pgx.CollectOneRow(rows, scanSegment)
	if err != nil {
		return types.TranscriptSegment{}, fmt.Errorf("store: get segment %s: %w", segmentID, err)
	}
	return seg, nil
}

// SegmentsBySession returns a session's segments in chronological order.
func (s *Store) SegmentsBySession(ctx context.Context, sessionID string, limit int) ([]types.TranscriptSegment, error) {
	q := segmentColumns + `WHERE session_id = $1 ORDER BY start_time`
	args := []any{sessionID}
	if limit > 0 {
		args = append(args, limit)
		q += ` LIMIT $2`
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: segments by session: %w", err)
	}
	segs, err := pgx.CollectRows(rows, scanSegment)
	if err != nil {
		return nil, fmt.Errorf("store: segments by session: %w", err)
	}
	return segs, nil
}

// SegmentHashRef is one hashed segment in anchor order.
type SegmentHashRef struct {
	SegmentID string
	Hash      string
	CreatedAt time.Time
}

// SegmentHashesSince returns the hashes of all hashed segments created after
// cutoff, in anchor order (created_at, then segment_id for ties).
func (s *Store) SegmentHashesSince(ctx context.Context, cutoff time.Time) ([]SegmentHashRef, error) {
	const q = `
		SELECT segment_id, segment_hash, created_at
		FROM   transcript_segments
		WHERE  segment_hash IS NOT NULL
		  AND  created_at > $1
		ORDER  BY created_at, segment_id`

	rows, err := s.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: segment hashes since: %w", err)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SegmentHashRef, error) {
		var r SegmentHashRef
		err := row.Scan(&r.SegmentID, &r.Hash, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: segment hashes since: %w", err)
	}
	return refs, nil
}

// SegmentHashesBetween returns the hashes of the segments an anchor covers:
// everything from firstID through lastID in anchor order.
func (s *Store) SegmentHashesBetween(ctx context.Context, firstID, lastID string) ([]SegmentHashRef, error) {
	const q = `
		SELECT s.segment_id, s.segment_hash, s.created_at
		FROM   transcript_segments s,
		       transcript_segments f,
		       transcript_segments l
		WHERE  f.segment_id = $1
		  AND  l.segment_id = $2
		  AND  s.segment_hash IS NOT NULL
		  AND  (s.created_at, s.segment_id) >= (f.created_at, f.segment_id)
		  AND  (s.created_at, s.segment_id) <= (l.created_at, l.segment_id)
		ORDER  BY s.created_at, s.segment_id`

	rows, err := s.pool.Query(ctx, q, firstID, lastID)
	if err != nil {
		return nil, fmt.Errorf("store: segment hashes between: %w", err)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SegmentHashRef, error) {
		var r SegmentHashRef
		err := row.Scan(&r.SegmentID, &r.Hash, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: segment hashes between: %w", err)
	}
	return refs, nil
}

const segmentColumns = `
	SELECT segment_id, session_id, stream_id, speaker_id, start_time, end_time,
	       text_redacted, text_original, language, asr_backend, asr_confidence,
	       sentiment_label, sentiment_score, pii_entities, COALESCE(segment_hash, ''),
	       created_at
	FROM   transcript_segments
	`

// scanSegment scans one transcript_segments row.
func scanSegment(row pgx.CollectableRow) (types.TranscriptSegment, error) {
	var seg types.TranscriptSegment
	err := row.Scan(
		&seg.SegmentID, &seg.SessionID, &seg.StreamID, &seg.SpeakerID,
		&seg.StartTime, &seg.EndTime,
		&seg.TextRedacted, &seg.TextOriginal, &seg.Language,
		&seg.ASRBackend, &seg.ASRConfidence,
		&seg.SentimentLabel, &seg.SentimentScore,
		&seg.PIIEntities, &seg.SegmentHash, &seg.CreatedAt,
	)
	return seg, err
}
