package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// UpsertStream inserts or updates a stream registration.
func (s *Store) UpsertStream(ctx context.Context, st types.Stream) error {
	const q = `
		INSERT INTO streams
		    (stream_id, name, source_url, asr_primary, asr_fallback,
		     vad_threshold, chunk_ms, status, current_session_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (stream_id) DO UPDATE SET
		    name               = EXCLUDED.name,
		    source_url         = EXCLUDED.source_url,
		    asr_primary        = EXCLUDED.asr_primary,
		    asr_fallback       = EXCLUDED.asr_fallback,
		    vad_threshold      = EXCLUDED.vad_threshold,
		    chunk_ms           = EXCLUDED.chunk_ms,
		    status             = EXCLUDED.status,
		    current_session_id = EXCLUDED.current_session_id,
		    updated_at         = now()`

	status := st.Status
	if status == "" {
		status = types.StreamStopped
	}
	_, err := s.pool.Exec(ctx, q,
		st.StreamID, st.Name, st.SourceURL, st.ASRPrimary, st.ASRFallback,
		st.VADThreshold, st.ChunkMs, status, st.CurrentSessionID,
	)
	if err != nil {
		return fmt.Errorf("store: upsert stream: %w", err)
	}
	return nil
}

// UpdateStreamStatus sets a stream's status and current session.
func (s *Store) UpdateStreamStatus(ctx context.Context, streamID string, status types.StreamStatus, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE streams SET status = $2, current_session_id = $3, updated_at = now()
		 WHERE stream_id = $1`,
		streamID, status, sessionID,
	)
	if err != nil {
		return fmt.Errorf("store: update stream status: %w", err)
	}
	return nil
}

// ListStreams returns all registered streams, optionally filtered by status.
func (s *Store) ListStreams(ctx context.Context, status types.StreamStatus) ([]types.Stream, error) {
	q := `
		SELECT stream_id, name, source_url, asr_primary, asr_fallback,
		       vad_threshold, chunk_ms, status, current_session_id
		FROM   streams`
	var args []any
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY stream_id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list streams: %w", err)
	}
	streams, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Stream, error) {
		var st types.Stream
		err := row.Scan(
			&st.StreamID, &st.Name, &st.SourceURL, &st.ASRPrimary, &st.ASRFallback,
			&st.VADThreshold, &st.ChunkMs, &st.Status, &st.CurrentSessionID,
		)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: list streams: %w", err)
	}
	return streams, nil
}

// OpenSession records the start of a processing run.
func (s *Store) OpenSession(ctx context.Context, sessionID, streamID, asrBackend string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, stream_id, asr_backend) VALUES ($1, $2, $3)`,
		sessionID, streamID, asrBackend,
	)
	if err != nil {
		return fmt.Errorf("store: open session: %w", err)
	}
	return nil
}

// CloseSession stamps a session's end time.
func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET ended_at = now() WHERE session_id = $1 AND ended_at IS NULL`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("store: close session: %w", err)
	}
	return nil
}

// GetSession loads one session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (types.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, stream_id, started_at, ended_at, asr_backend,
		        segment_count, alert_count
		 FROM sessions WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return types.Session{}, fmt.Errorf("store: get session: %w", err)
	}
	sess, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (types.Session, error) {
		var sess types.Session
		var endedAt *time.Time
		err := row.Scan(
			&sess.SessionID, &sess.StreamID, &sess.StartedAt, &endedAt,
			&sess.ASRBackend, &sess.SegmentCount, &sess.AlertCount,
		)
		sess.EndedAt = endedAt
		return sess, err
	})
	if err != nil {
		return types.Session{}, fmt.Errorf("store: get session %s: %w", sessionID, err)
	}
	return sess, nil
}
