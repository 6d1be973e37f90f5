package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SweepSegments deletes transcript segments older than retention and returns
// how many rows were removed. Audit anchors are never touched: a covered
// range whose segments have aged out can no longer be verified, which the
// retention policy accepts in exchange for bounded storage.
func (s *Store) SweepSegments(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM transcript_segments WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: retention sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunRetention sweeps on the given interval until ctx is cancelled.
func (s *Store) RunRetention(ctx context.Context, retention, interval time.Duration) error {
	log := slog.With("component", "retention")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		n, err := s.SweepSegments(ctx, retention)
		if err != nil {
			log.Warn("retention sweep failed", "error", err)
			continue
		}
		if n > 0 {
			log.Info("retention sweep removed segments", "count", n)
		}
	}
}
