package alert

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// Guard defaults. The dedup TTL suppresses repeats of the same detection
// while its keyword stays inside the rolling haystack; the throttle caps a
// stream's total alert rate.
const (
	defaultDedupTTL      = 10 * time.Second
	defaultThrottleLimit = 30
	throttleWindow       = 60 * time.Second
	throttleKeyTTL       = 120 * time.Second
	throttleKeySpace     = "throttle:"
	dedupKeySpace        = "dedup:"
)

// Guard implements deduplication and per-stream rate limiting on Redis so
// the decisions hold across dispatcher restarts.
type Guard struct {
	rdb      *redis.Client
	dedupTTL time.Duration
	limit    int64
}

// GuardOption configures a [Guard].
type GuardOption func(*Guard)

// WithDedupTTL overrides the dedup suppression window.
func WithDedupTTL(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.dedupTTL = d
		}
	}
}

// WithThrottleLimit overrides the per-stream alerts-per-minute cap.
func WithThrottleLimit(n int) GuardOption {
	return func(g *Guard) {
		if n > 0 {
			g.limit = int64(n)
		}
	}
}

// NewGuard creates a guard using rdb.
func NewGuard(rdb *redis.Client, opts ...GuardOption) *Guard {
	g := &Guard{rdb: rdb, dedupTTL: defaultDedupTTL, limit: defaultThrottleLimit}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// dedupKey is dedup:{stream}:{keyword}:{match_type}.
func dedupKey(a types.Alert) string {
	return fmt.Sprintf("%s%s:%s:%s", dedupKeySpace, a.StreamID, a.MatchedRule, a.MatchType)
}

// IsDuplicate atomically claims the alert's dedup slot and reports whether
// it was already claimed within the TTL.
func (g *Guard) IsDuplicate(ctx context.Context, a types.Alert) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, dedupKey(a), "1", g.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("alert: dedup %s: %w", dedupKey(a), err)
	}
	return !ok, nil
}

// IsThrottled evicts dispatch records older than the window and reports
// whether the stream is at its rate limit.
func (g *Guard) IsThrottled(ctx context.Context, streamID string, now time.Time) (bool, error) {
	key := throttleKeySpace + streamID
	cutoff := strconv.FormatInt(now.Add(-throttleWindow).UnixMilli(), 10)
	if err := g.rdb.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
		return false, fmt.Errorf("alert: throttle evict %s: %w", key, err)
	}
	n, err := g.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("alert: throttle card %s: %w", key, err)
	}
	return n >= g.limit, nil
}

// RecordDispatch adds the alert to the stream's throttle window and renews
// the key's expiry.
func (g *Guard) RecordDispatch(ctx context.Context, streamID, alertID string, now time.Time) error {
	key := throttleKeySpace + streamID
	if err := g.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: alertID,
	}).Err(); err != nil {
		return fmt.Errorf("alert: throttle add %s: %w", key, err)
	}
	if err := g.rdb.Expire(ctx, key, throttleKeyTTL).Err(); err != nil {
		return fmt.Errorf("alert: throttle expire %s: %w", key, err)
	}
	return nil
}
