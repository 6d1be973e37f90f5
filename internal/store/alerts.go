package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// WriteAlert persists one alert with its delivery record and bumps the
// session's alert counter.
func (s *Store) WriteAlert(ctx context.Context, a types.Alert) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin alert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO alerts
		    (alert_id, session_id, stream_id, segment_id, alert_type, severity,
		     matched_rule, match_type, similarity_score, matched_text,
		     surrounding_context, speaker_id, delivered_to, delivery_status,
		     deduplicated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	delivered := a.DeliveredTo
	if delivered == nil {
		delivered = []string{}
	}
	status := a.DeliveryStatus
	if status == nil {
		status = map[string]types.DeliveryOutcome{}
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, q,
		a.AlertID, a.SessionID, a.StreamID, a.SegmentID,
		a.AlertType, a.Severity,
		a.MatchedRule, a.MatchType, a.SimilarityScore, a.MatchedText,
		a.SurroundingContext, a.SpeakerID,
		delivered, status, a.Deduplicated, createdAt,
	); err != nil {
		return fmt.Errorf("store: insert alert: %w", err)
	}

	if a.SessionID != "" && !a.Deduplicated {
		if _, err := tx.Exec(ctx,
			`UPDATE sessions SET alert_count = alert_count + 1 WHERE session_id = $1`,
			a.SessionID,
		); err != nil {
			return fmt.Errorf("store: bump session alert count: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit alert: %w", err)
	}
	return nil
}

// AlertsByStream returns a stream's alerts, newest first.
func (s *Store) AlertsByStream(ctx context.Context, streamID string, limit int) ([]types.Alert, error) {
	q := `
		SELECT alert_id, session_id, stream_id, segment_id, alert_type, severity,
		       matched_rule, match_type, similarity_score, matched_text,
		       surrounding_context, speaker_id, delivered_to, delivery_status,
		       deduplicated, created_at
		FROM   alerts
		WHERE  stream_id = $1
		ORDER  BY created_at DESC`
	args := []any{streamID}
	if limit > 0 {
		args = append(args, limit)
		q += ` LIMIT $2`
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: alerts by stream: %w", err)
	}
	alerts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Alert, error) {
		var a types.Alert
		err := row.Scan(
			&a.AlertID, &a.SessionID, &a.StreamID, &a.SegmentID,
			&a.AlertType, &a.Severity,
			&a.MatchedRule, &a.MatchType, &a.SimilarityScore, &a.MatchedText,
			&a.SurroundingContext, &a.SpeakerID,
			&a.DeliveredTo, &a.DeliveryStatus, &a.Deduplicated, &a.CreatedAt,
		)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: alerts by stream: %w", err)
	}
	return alerts, nil
}
