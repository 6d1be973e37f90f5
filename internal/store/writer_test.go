package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/internal/queue"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

func testBus(t *testing.T) *queue.Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return queue.New(rdb)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(metric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// memStore collects segments in memory and can be told to fail.
type memStore struct {
	mu       sync.Mutex
	segments []types.TranscriptSegment
	err      error
}

func (m *memStore) WriteSegment(_ context.Context, seg types.TranscriptSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.segments = append(m.segments, seg)
	return nil
}

func (m *memStore) all() []types.TranscriptSegment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.TranscriptSegment(nil), m.segments...)
}

type memIndexer struct {
	mu      sync.Mutex
	indexed []string
	err     error
}

func (m *memIndexer) IndexSegment(_ context.Context, seg types.TranscriptSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.indexed = append(m.indexed, seg.SegmentID)
	return nil
}

func (m *memIndexer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.indexed)
}

func redactedEntry() map[string]any {
	return map[string]any{
		"session_id":      "sess-1",
		"speaker_id":      "SPEAKER_00",
		"text_original":   "call me at 555-0199",
		"text_redacted":   "call me at [PHONE_NUMBER]",
		"entities_found":  `["PHONE_NUMBER"]`,
		"sentiment_label": "neutral",
		"sentiment_score": "0.5",
		"start_time":      "1.5",
		"end_time":        "3.2",
		"language":        "en",
		"confidence":      "0.92",
		"asr_backend":     "deepgram",
	}
}

func TestSegmentHash_DeterministicAndSensitive(t *testing.T) {
	h := SegmentHash("seg-1", "hello world", 1.5, "sess-1")
	if len(h) != 64 || strings.ToLower(h) != h {
		t.Fatalf("expected lowercase sha256 hex, got %q", h)
	}
	if again := SegmentHash("seg-1", "hello world", 1.5, "sess-1"); again != h {
		t.Errorf("hash not deterministic: %q vs %q", h, again)
	}

	variants := []string{
		SegmentHash("seg-2", "hello world", 1.5, "sess-1"),
		SegmentHash("seg-1", "hello world!", 1.5, "sess-1"),
		SegmentHash("seg-1", "hello world", 1.6, "sess-1"),
		SegmentHash("seg-1", "hello world", 1.5, "sess-2"),
	}
	for i, v := range variants {
		if v == h {
			t.Errorf("variant %d: expected different hash", i)
		}
	}
}

func TestSegmentFromValues_FullEntry(t *testing.T) {
	seg, err := segmentFromValues("lobby", redactedEntry())
	if err != nil {
		t.Fatalf("segmentFromValues: %v", err)
	}

	if seg.SegmentID == "" {
		t.Error("expected generated segment ID")
	}
	if seg.StreamID != "lobby" || seg.SessionID != "sess-1" {
		t.Errorf("ids: got stream=%q session=%q", seg.StreamID, seg.SessionID)
	}
	if seg.SpeakerID != "SPEAKER_00" {
		t.Errorf("SpeakerID: got %q", seg.SpeakerID)
	}
	if seg.StartTime != 1.5 || seg.EndTime != 3.2 {
		t.Errorf("times: got %v..%v", seg.StartTime, seg.EndTime)
	}
	if seg.SentimentScore != 0.5 || seg.ASRConfidence != 0.92 {
		t.Errorf("scores: got sentiment=%v confidence=%v", seg.SentimentScore, seg.ASRConfidence)
	}
	if len(seg.PIIEntities) != 1 || seg.PIIEntities[0] != "PHONE_NUMBER" {
		t.Errorf("PIIEntities: got %v", seg.PIIEntities)
	}
	if seg.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	// Hash covers the original text, not the redacted form.
	want := SegmentHash(seg.SegmentID, "call me at 555-0199", 1.5, "sess-1")
	if seg.SegmentHash != want {
		t.Errorf("SegmentHash: got %q want %q", seg.SegmentHash, want)
	}
}

func TestSegmentFromValues_HashFallsBackToRedacted(t *testing.T) {
	values := redactedEntry()
	values["text_original"] = ""

	seg, err := segmentFromValues("lobby", values)
	if err != nil {
		t.Fatalf("segmentFromValues: %v", err)
	}
	want := SegmentHash(seg.SegmentID, "call me at [PHONE_NUMBER]", 1.5, "sess-1")
	if seg.SegmentHash != want {
		t.Errorf("SegmentHash: got %q want %q", seg.SegmentHash, want)
	}
}

func TestSegmentFromValues_Malformed(t *testing.T) {
	badTime := redactedEntry()
	badTime["start_time"] = "not-a-number"
	if _, err := segmentFromValues("lobby", badTime); err == nil {
		t.Error("expected error for malformed start_time")
	}

	badEntities := redactedEntry()
	badEntities["entities_found"] = "{broken"
	if _, err := segmentFromValues("lobby", badEntities); err == nil {
		t.Error("expected error for malformed entities_found")
	}
}

func TestSegmentWriter_PersistsAndIndexes(t *testing.T) {
	bus := testBus(t)
	ms := &memStore{}
	idx := &memIndexer{}
	writer := NewSegmentWriter(bus, ms, idx, "lobby", testMetrics(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = writer.Run(ctx)
	}()
	time.Sleep(50 * time.Millisecond)

	if _, err := bus.Publish(ctx, queue.RedactedTokens("lobby"), redactedEntry()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(ms.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	segs := ms.all()
	if len(segs) != 1 {
		t.Fatalf("expected 1 persisted segment, got %d", len(segs))
	}
	if segs[0].TextRedacted != "call me at [PHONE_NUMBER]" {
		t.Errorf("TextRedacted: got %q", segs[0].TextRedacted)
	}
	if idx.count() != 1 {
		t.Errorf("expected 1 indexed segment, got %d", idx.count())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("writer did not stop on cancellation")
	}
}

func TestSegmentWriter_PersistFailureSkipsEntry(t *testing.T) {
	bus := testBus(t)
	ms := &memStore{err: errors.New("db down")}
	idx := &memIndexer{}
	writer := NewSegmentWriter(bus, ms, idx, "lobby", testMetrics(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = writer.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if _, err := bus.Publish(ctx, queue.RedactedTokens("lobby"), redactedEntry()); err != nil {
		t.Fatalf("publish first: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if idx.count() != 0 {
		t.Fatal("failed persist must not be indexed")
	}

	// Recovery: the writer keeps consuming after a failed write.
	ms.mu.Lock()
	ms.err = nil
	ms.mu.Unlock()
	if _, err := bus.Publish(ctx, queue.RedactedTokens("lobby"), redactedEntry()); err != nil {
		t.Fatalf("publish second: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(ms.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(ms.all()) != 1 {
		t.Fatalf("expected 1 persisted segment after recovery, got %d", len(ms.all()))
	}
}

func TestSegmentWriter_IndexFailureKeepsSegment(t *testing.T) {
	bus := testBus(t)
	ms := &memStore{}
	idx := &memIndexer{err: errors.New("search down")}
	writer := NewSegmentWriter(bus, ms, idx, "lobby", testMetrics(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = writer.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if _, err := bus.Publish(ctx, queue.RedactedTokens("lobby"), redactedEntry()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(ms.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(ms.all()) != 1 {
		t.Fatal("segment must persist even when indexing fails")
	}
}

func TestSegmentWriter_NilIndexer(t *testing.T) {
	bus := testBus(t)
	ms := &memStore{}
	writer := NewSegmentWriter(bus, ms, nil, "lobby", testMetrics(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = writer.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if _, err := bus.Publish(ctx, queue.RedactedTokens("lobby"), redactedEntry()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(ms.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(ms.all()) != 1 {
		t.Fatal("expected segment persisted without indexer")
	}
}
