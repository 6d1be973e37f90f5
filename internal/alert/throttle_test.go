package alert

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func keywordAlert(streamID, keyword string) types.Alert {
	return types.Alert{
		AlertID:     keyword + "-1",
		StreamID:    streamID,
		AlertType:   types.AlertKeyword,
		Severity:    types.SeverityHigh,
		MatchedRule: keyword,
		MatchType:   types.MatchExact,
	}
}

func TestGuard_DedupSuppressesRepeat(t *testing.T) {
	t.Parallel()
	_, rdb := testRedis(t)
	g := NewGuard(rdb)
	ctx := context.Background()
	a := keywordAlert("lobby", "fire")

	dup, err := g.IsDuplicate(ctx, a)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Error("first alert reported as duplicate")
	}

	dup, err = g.IsDuplicate(ctx, a)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Error("repeat within TTL not reported as duplicate")
	}
}

func TestGuard_DedupKeyIsPerStreamKeywordMatchType(t *testing.T) {
	t.Parallel()
	_, rdb := testRedis(t)
	g := NewGuard(rdb)
	ctx := context.Background()

	if _, err := g.IsDuplicate(ctx, keywordAlert("lobby", "fire")); err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}

	// Different stream, keyword, or match type each get their own slot.
	others := []types.Alert{
		keywordAlert("dock", "fire"),
		keywordAlert("lobby", "flood"),
	}
	fuzzy := keywordAlert("lobby", "fire")
	fuzzy.MatchType = types.MatchFuzzy
	others = append(others, fuzzy)

	for i, a := range others {
		dup, err := g.IsDuplicate(ctx, a)
		if err != nil {
			t.Fatalf("IsDuplicate #%d: %v", i, err)
		}
		if dup {
			t.Errorf("alert #%d shares a dedup slot it should not", i)
		}
	}
}

func TestGuard_DedupExpires(t *testing.T) {
	t.Parallel()
	mr, rdb := testRedis(t)
	g := NewGuard(rdb)
	ctx := context.Background()
	a := keywordAlert("lobby", "fire")

	if _, err := g.IsDuplicate(ctx, a); err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	mr.FastForward(defaultDedupTTL + time.Second)

	dup, err := g.IsDuplicate(ctx, a)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Error("alert still deduplicated after the TTL expired")
	}
}

func TestGuard_ThrottleAtLimit(t *testing.T) {
	t.Parallel()
	_, rdb := testRedis(t)
	g := NewGuard(rdb)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < defaultThrottleLimit; i++ {
		if err := g.RecordDispatch(ctx, "lobby", fmt.Sprintf("a-%d", i), now); err != nil {
			t.Fatalf("RecordDispatch: %v", err)
		}
	}

	throttled, err := g.IsThrottled(ctx, "lobby", now)
	if err != nil {
		t.Fatalf("IsThrottled: %v", err)
	}
	if !throttled {
		t.Errorf("stream not throttled at %d dispatches in the window", defaultThrottleLimit)
	}

	// A different stream is unaffected.
	throttled, err = g.IsThrottled(ctx, "dock", now)
	if err != nil {
		t.Fatalf("IsThrottled: %v", err)
	}
	if throttled {
		t.Error("unrelated stream throttled")
	}
}

func TestGuard_ThrottleEvictsOldEntries(t *testing.T) {
	t.Parallel()
	_, rdb := testRedis(t)
	g := NewGuard(rdb)
	ctx := context.Background()
	base := time.Now()

	// Fill the window, then check again after all entries have aged out.
	for i := 0; i < defaultThrottleLimit; i++ {
		if err := g.RecordDispatch(ctx, "lobby", fmt.Sprintf("a-%d", i), base); err != nil {
			t.Fatalf("RecordDispatch: %v", err)
		}
	}
	later := base.Add(throttleWindow + time.Second)

	throttled, err := g.IsThrottled(ctx, "lobby", later)
	if err != nil {
		t.Fatalf("IsThrottled: %v", err)
	}
	if throttled {
		t.Error("stream still throttled after the window passed")
	}
}

func TestGuard_ConfiguredDedupTTL(t *testing.T) {
	t.Parallel()
	mr, rdb := testRedis(t)
	g := NewGuard(rdb, WithDedupTTL(2*time.Second))
	ctx := context.Background()
	a := keywordAlert("lobby", "fire")

	if _, err := g.IsDuplicate(ctx, a); err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	mr.FastForward(3 * time.Second)

	dup, err := g.IsDuplicate(ctx, a)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Error("alert still deduplicated after the configured TTL expired")
	}
}

func TestGuard_ConfiguredThrottleLimit(t *testing.T) {
	t.Parallel()
	_, rdb := testRedis(t)
	g := NewGuard(rdb, WithThrottleLimit(2))
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		if err := g.RecordDispatch(ctx, "lobby", fmt.Sprintf("a-%d", i), now); err != nil {
			t.Fatalf("RecordDispatch: %v", err)
		}
	}
	throttled, err := g.IsThrottled(ctx, "lobby", now)
	if err != nil {
		t.Fatalf("IsThrottled: %v", err)
	}
	if !throttled {
		t.Error("stream not throttled at the configured limit")
	}
}

func TestGuard_BelowLimitNotThrottled(t *testing.T) {
	t.Parallel()
	_, rdb := testRedis(t)
	g := NewGuard(rdb)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < defaultThrottleLimit-1; i++ {
		if err := g.RecordDispatch(ctx, "lobby", fmt.Sprintf("a-%d", i), now); err != nil {
			t.Fatalf("RecordDispatch: %v", err)
		}
	}
	throttled, err := g.IsThrottled(ctx, "lobby", now)
	if err != nil {
		t.Fatalf("IsThrottled: %v", err)
	}
	if throttled {
		t.Errorf("stream throttled below the limit")
	}
}
