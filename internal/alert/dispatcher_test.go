package alert

import (
	"context"
	"errors"
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

type mockChannel struct {
	name    string
	succeed bool
	sendErr error

	mu   sync.Mutex
	sent []types.Alert
}

func (m *mockChannel) Name() string  { return m.name }
func (m *mockChannel) Enabled() bool { return true }
func (m *mockChannel) Close() error  { return nil }

func (m *mockChannel) Send(_ context.Context, a types.Alert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, a)
	if m.sendErr != nil {
		return false, m.sendErr
	}
	return m.succeed, nil
}

func (m *mockChannel) delivered() []types.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Alert, len(m.sent))
	copy(out, m.sent)
	return out
}

func dispatcherBus(t *testing.T) *queue.Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return queue.New(rdb)
}

func dispatcherMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(metric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// runDispatcher starts d and returns a stop function. A short sleep lets the
// pattern subscription come up before the test publishes events.
func runDispatcher(t *testing.T, d *Dispatcher) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	return func() {
		cancel()
		<-done
	}
}

// persistRecorder collects alerts handed to the persist callback.
type persistRecorder struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (p *persistRecorder) persist(_ context.Context, a types.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, a)
	return nil
}

func (p *persistRecorder) wait(t *testing.T, want int) []types.Alert {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		p.mu.Lock()
		n := len(p.alerts)
		out := make([]types.Alert, n)
		copy(out, p.alerts)
		p.mu.Unlock()
		if n >= want {
			return out
		}
		select {
		case <-deadline:
			t.Fatalf("timed out, persisted %d alerts, want %d", n, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func matchEvent(keyword string, severity types.Severity) types.KeywordMatchEvent {
	return types.KeywordMatchEvent{
		StreamID:           "lobby",
		SessionID:          "sess-1",
		RuleID:             "r1",
		Keyword:            keyword,
		MatchType:          types.MatchExact,
		Severity:           severity,
		SimilarityScore:    1.0,
		MatchedText:        keyword,
		SurroundingContext: "context around " + keyword,
		SpeakerID:          "SPEAKER_00",
	}
}

func TestDispatcher_DeliversKeywordAlert(t *testing.T) {
	t.Parallel()
	bus := dispatcherBus(t)
	ch := &mockChannel{name: "mock", succeed: true}
	rec := &persistRecorder{}
	d := NewDispatcher(bus, []Route{{Channel: ch}}, rec.persist, DispatcherConfig{}, dispatcherMetrics(t))
	stop := runDispatcher(t, d)
	defer stop()

	if err := bus.PublishEvent(context.Background(), queue.MatchEvents("lobby"), matchEvent("fire", types.SeverityCritical)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	alerts := rec.wait(t, 1)
	a := alerts[0]
	if a.AlertType != types.AlertKeyword || a.Severity != types.SeverityCritical {
		t.Errorf("alert = %s/%s, want keyword/critical", a.AlertType, a.Severity)
	}
	if a.MatchedRule != "fire" || a.StreamID != "lobby" || a.SessionID != "sess-1" {
		t.Errorf("alert identity = %+v", a)
	}
	if len(a.DeliveredTo) != 1 || a.DeliveredTo[0] != "mock" {
		t.Errorf("delivered_to = %v, want [mock]", a.DeliveredTo)
	}
	if a.DeliveryStatus["mock"] != types.DeliveryDelivered {
		t.Errorf("delivery_status = %v", a.DeliveryStatus)
	}
	if got := ch.delivered(); len(got) != 1 {
		t.Errorf("channel received %d alerts, want 1", len(got))
	}
}

func TestDispatcher_SeverityDefaultsHighForKeyword(t *testing.T) {
	t.Parallel()
	bus := dispatcherBus(t)
	rec := &persistRecorder{}
	d := NewDispatcher(bus, nil, rec.persist, DispatcherConfig{}, dispatcherMetrics(t))
	stop := runDispatcher(t, d)
	defer stop()

	if err := bus.PublishEvent(context.Background(), queue.MatchEvents("lobby"), matchEvent("fire", "")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	alerts := rec.wait(t, 1)
	if alerts[0].Severity != types.SeverityHigh {
		t.Errorf("severity = %s, want high default", alerts[0].Severity)
	}
}

func TestDispatcher_SentimentAlertIsMedium(t *testing.T) {
	t.Parallel()
	bus := dispatcherBus(t)
	rec := &persistRecorder{}
	d := NewDispatcher(bus, nil, rec.persist, DispatcherConfig{}, dispatcherMetrics(t))
	stop := runDispatcher(t, d)
	defer stop()

	ev := types.SentimentEvent{
		StreamID: "lobby", SessionID: "sess-1",
		Label: "negative", Score: 0.95, Text: "get me out of here", Consecutive: 3,
	}
	if err := bus.PublishEvent(context.Background(), queue.SentimentEvents("lobby"), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	alerts := rec.wait(t, 1)
	a := alerts[0]
	if a.AlertType != types.AlertSentiment || a.Severity != types.SeverityMedium {
		t.Errorf("alert = %s/%s, want sentiment/medium", a.AlertType, a.Severity)
	}
	if a.MatchedRule != "negative_sentiment" || a.MatchedText != "get me out of here" {
		t.Errorf("alert content = %+v", a)
	}
}

func TestDispatcher_DeduplicatesRepeat(t *testing.T) {
	t.Parallel()
	bus := dispatcherBus(t)
	ch := &mockChannel{name: "mock", succeed: true}
	rec := &persistRecorder{}
	d := NewDispatcher(bus, []Route{{Channel: ch}}, rec.persist, DispatcherConfig{}, dispatcherMetrics(t))
	stop := runDispatcher(t, d)
	defer stop()

	ev := matchEvent("fire", types.SeverityHigh)
	for i := 0; i < 2; i++ {
		if err := bus.PublishEvent(context.Background(), queue.MatchEvents("lobby"), ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	alerts := rec.wait(t, 2)
	if alerts[0].Deduplicated {
		t.Error("first alert marked deduplicated")
	}
	if !alerts[1].Deduplicated {
		t.Error("repeat alert not marked deduplicated")
	}
	if got := ch.delivered(); len(got) != 1 {
		t.Errorf("channel received %d alerts, want 1 (duplicate must not be delivered)", len(got))
	}
}

func TestDispatcher_DropsCorruptedEvent(t *testing.T) {
	t.Parallel()
	bus := dispatcherBus(t)
	ch := &mockChannel{name: "mock", succeed: true}
	rec := &persistRecorder{}
	d := NewDispatcher(bus, []Route{{Channel: ch}}, rec.persist, DispatcherConfig{}, dispatcherMetrics(t))
	stop := runDispatcher(t, d)
	defer stop()

	ctx := context.Background()
	if err := bus.Client().Publish(ctx, queue.MatchEvents("lobby"), "{not json").Err(); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}
	// A valid event after the garbage proves the dispatcher kept running.
	if err := bus.PublishEvent(ctx, queue.MatchEvents("lobby"), matchEvent("flood", types.SeverityHigh)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	alerts := rec.wait(t, 1)
	if alerts[0].MatchedRule != "flood" {
		t.Errorf("alert = %+v, want the valid flood event only", alerts[0])
	}
}

func TestDispatcher_RecordsFailedDelivery(t *testing.T) {
	t.Parallel()
	bus := dispatcherBus(t)
	ch := &mockChannel{name: "mock", succeed: false}
	rec := &persistRecorder{}
	d := NewDispatcher(bus, []Route{{Channel: ch}}, rec.persist, DispatcherConfig{}, dispatcherMetrics(t))
	stop := runDispatcher(t, d)
	defer stop()

	if err := bus.PublishEvent(context.Background(), queue.MatchEvents("lobby"), matchEvent("fire", types.SeverityHigh)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	alerts := rec.wait(t, 1)
	a := alerts[0]
	if len(a.DeliveredTo) != 0 {
		t.Errorf("delivered_to = %v, want empty", a.DeliveredTo)
	}
	if a.DeliveryStatus["mock"] != types.DeliveryFailed {
		t.Errorf("delivery_status = %v, want mock failed", a.DeliveryStatus)
	}
}

func TestDispatcher_RecordsErroredDelivery(t *testing.T) {
	t.Parallel()
	bus := dispatcherBus(t)
	ch := &mockChannel{name: "mock", sendErr: errors.New("payload too large to encode")}
	rec := &persistRecorder{}
	d := NewDispatcher(bus, []Route{{Channel: ch}}, rec.persist, DispatcherConfig{}, dispatcherMetrics(t))
	stop := runDispatcher(t, d)
	defer stop()

	if err := bus.PublishEvent(context.Background(), queue.MatchEvents("lobby"), matchEvent("fire", types.SeverityHigh)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	alerts := rec.wait(t, 1)
	a := alerts[0]
	if len(a.DeliveredTo) != 0 {
		t.Errorf("delivered_to = %v, want empty", a.DeliveredTo)
	}
	if a.DeliveryStatus["mock"] != types.DeliveryError {
		t.Errorf("delivery_status = %v, want mock error", a.DeliveryStatus)
	}
}

func TestDispatcher_ThrottleLimitFromConfig(t *testing.T) {
	t.Parallel()
	bus := dispatcherBus(t)
	ch := &mockChannel{name: "mock", succeed: true}
	rec := &persistRecorder{}
	d := NewDispatcher(bus, []Route{{Channel: ch}}, rec.persist,
		DispatcherConfig{ThrottlePerMinute: 1}, dispatcherMetrics(t))
	stop := runDispatcher(t, d)
	defer stop()

	ctx := context.Background()
	// Distinct keywords dodge dedup; the second dispatch hits the cap.
	for _, kw := range []string{"fire", "flood"} {
		if err := bus.PublishEvent(ctx, queue.MatchEvents("lobby"), matchEvent(kw, types.SeverityHigh)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	rec.wait(t, 1)
	time.Sleep(100 * time.Millisecond)
	if got := ch.delivered(); len(got) != 1 {
		t.Errorf("channel received %d alerts, want 1 (second throttled)", len(got))
	}
}

func TestDispatcher_FiltersRoutes(t *testing.T) {
	t.Parallel()
	bus := dispatcherBus(t)
	critical := &mockChannel{name: "critical-only", succeed: true}
	all := &mockChannel{name: "all", succeed: true}
	rec := &persistRecorder{}
	d := NewDispatcher(bus, []Route{
		{Channel: critical, MinSeverity: types.SeverityCritical},
		{Channel: all},
	}, rec.persist, DispatcherConfig{}, dispatcherMetrics(t))
	stop := runDispatcher(t, d)
	defer stop()

	if err := bus.PublishEvent(context.Background(), queue.MatchEvents("lobby"), matchEvent("fire", types.SeverityHigh)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	rec.wait(t, 1)
	if got := critical.delivered(); len(got) != 0 {
		t.Errorf("filtered channel received %d alerts, want 0", len(got))
	}
	if got := all.delivered(); len(got) != 1 {
		t.Errorf("unfiltered channel received %d alerts, want 1", len(got))
	}
}
