package nlp

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Theesthan/VoxSentinel/internal/queue"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// RuleSource lists the current keyword rules, typically backed by the
// control-plane API or the rules table.
type RuleSource interface {
	ListRules(ctx context.Context) ([]types.KeywordRule, error)
}

// Reloader keeps a compiled [RuleIndex] in sync with the rule source. It
// polls on an interval, detects changes by hashing the canonical rules JSON,
// and rebuilds the index off the hot path; Detect callers keep using the old
// generation until the atomic swap.
type Reloader struct {
	source         RuleSource
	bus            *queue.Bus // nil disables the pub/sub fast path
	interval       time.Duration
	fuzzyThreshold float64
	log            *slog.Logger

	idx      atomic.Pointer[RuleIndex]
	lastHash [sha256.Size]byte
}

// ReloaderOption configures a [Reloader].
type ReloaderOption func(*Reloader)

// WithUpdateChannel subscribes the reloader to the rules_updated pub/sub
// channel so operator changes apply without waiting for the next poll.
func WithUpdateChannel(bus *queue.Bus) ReloaderOption {
	return func(r *Reloader) {
		r.bus = bus
	}
}

// NewReloader creates a reloader polling source every interval. The index
// starts empty; call [Reloader.Refresh] or [Reloader.LoadRulesDirectly]
// before serving traffic if an initial rule set is required.
func NewReloader(source RuleSource, interval time.Duration, fuzzyThreshold float64, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		source:         source,
		interval:       interval,
		fuzzyThreshold: fuzzyThreshold,
		log:            slog.With("component", "rule_reloader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	empty, _ := BuildIndex(nil, fuzzyThreshold)
	r.idx.Store(empty)
	return r
}

// Index returns the current rule index. Never nil.
func (r *Reloader) Index() *RuleIndex {
	return r.idx.Load()
}

// LoadRulesDirectly compiles and installs rules without consulting the
// source. Used for statically configured rule sets and in tests. Invalid
// regex rules are excluded and returned as the error.
func (r *Reloader) LoadRulesDirectly(rules []types.KeywordRule) error {
	idx, err := BuildIndex(rules, r.fuzzyThreshold)
	r.idx.Store(idx)
	r.lastHash = hashRules(rules)
	exact, fuzzy, regex := idx.RuleCount()
	r.log.Info("rule index loaded",
		"exact", exact, "fuzzy", fuzzy, "regex", regex)
	return err
}

// Refresh polls the source once and swaps the index if the rule set
// changed. A fetch error leaves the current index in place.
func (r *Reloader) Refresh(ctx context.Context) error {
	rules, err := r.source.ListRules(ctx)
	if err != nil {
		return err
	}

	hash := hashRules(rules)
	if hash == r.lastHash {
		return nil
	}

	idx, buildErr := BuildIndex(rules, r.fuzzyThreshold)
	if buildErr != nil {
		r.log.Warn("some rules were excluded from the index", "error", buildErr)
	}
	r.idx.Store(idx)
	r.lastHash = hash

	exact, fuzzy, regex := idx.RuleCount()
	r.log.Info("rule index reloaded",
		"exact", exact, "fuzzy", fuzzy, "regex", regex)
	return nil
}

// Run polls until ctx is cancelled. When an update channel is configured,
// rules_updated notifications trigger an immediate refresh between polls.
func (r *Reloader) Run(ctx context.Context) error {
	var notify <-chan struct{}
	if r.bus != nil {
		ch := make(chan struct{}, 1)
		notify = ch
		sub := r.bus.Subscribe(ctx, queue.RulesUpdatedChannel)
		defer sub.Close()
		go func() {
			for range sub.Channel() {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}()
	}

	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("initial rule fetch failed, starting with empty index", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-notify:
		}
		if err := r.Refresh(ctx); err != nil {
			r.log.Warn("rule refresh failed, keeping current index", "error", err)
		}
	}
}

// hashRules hashes the canonical (RuleID-sorted) JSON form of rules.
func hashRules(rules []types.KeywordRule) [sha256.Size]byte {
	sorted := make([]types.KeywordRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RuleID < sorted[j].RuleID })
	data, err := json.Marshal(sorted)
	if err != nil {
		// Marshalling plain structs cannot fail; keep the zero hash if it
		// somehow does so the next poll retries.
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(data)
}
