package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/internal/queue"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// Alert outcome labels recorded on the dispatch counter.
const (
	outcomeDispatched   = "dispatched"
	outcomeDeduplicated = "deduplicated"
	outcomeThrottled    = "throttled"
)

// PersistFunc stores a dispatched or deduplicated alert. Persist errors are
// logged and never block delivery.
type PersistFunc func(ctx context.Context, a types.Alert) error

// DispatcherConfig carries the dispatch tunables. Zero values fall back to
// the defaults (10s dedup, 30 alerts/minute, 3 redelivery attempts).
type DispatcherConfig struct {
	DedupTTL          time.Duration
	ThrottlePerMinute int
	MaxRetries        int
}

// Dispatcher consumes match and sentiment events for all streams, applies
// dedup and throttle, and fans accepted alerts out to the configured routes.
type Dispatcher struct {
	bus     *queue.Bus
	guard   *Guard
	routes  []Route
	persist PersistFunc
	metrics *observe.Metrics
	retrier *retrier
	log     *slog.Logger
}

// NewDispatcher creates a dispatcher over the given routes. persist may be
// nil when alert storage is disabled.
func NewDispatcher(bus *queue.Bus, routes []Route, persist PersistFunc, cfg DispatcherConfig, metrics *observe.Metrics) *Dispatcher {
	return &Dispatcher{
		bus: bus,
		guard: NewGuard(bus.Client(),
			WithDedupTTL(cfg.DedupTTL),
			WithThrottleLimit(cfg.ThrottlePerMinute)),
		routes:  routes,
		persist: persist,
		metrics: metrics,
		retrier: newRetrier(cfg.MaxRetries, metrics),
		log:     slog.With("component", "alert_dispatcher"),
	}
}

// Run subscribes to the event patterns and dispatches until ctx is
// cancelled. Channels are closed on the way out.
func (d *Dispatcher) Run(ctx context.Context) error {
	sub := d.bus.PSubscribe(ctx, queue.MatchEventsPattern, queue.SentimentEventsPattern)
	defer sub.Close()

	d.retrier.start(ctx)
	defer d.retrier.wait()
	defer d.closeChannels()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			d.handle(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

// handle parses one event into an alert. Corrupted events are logged and
// dropped.
func (d *Dispatcher) handle(ctx context.Context, channel string, payload []byte) {
	var a types.Alert
	switch {
	case strings.HasPrefix(channel, "match_events:"):
		var ev types.KeywordMatchEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			d.log.Warn("dropping corrupted match event", "channel", channel, "error", err)
			return
		}
		a = alertFromMatch(ev)
	case strings.HasPrefix(channel, "sentiment_events:"):
		var ev types.SentimentEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			d.log.Warn("dropping corrupted sentiment event", "channel", channel, "error", err)
			return
		}
		a = alertFromSentiment(ev)
	default:
		d.log.Warn("event on unexpected channel", "channel", channel)
		return
	}
	d.dispatch(ctx, a)
}

// alertFromMatch builds a keyword alert. The rule severity carries through;
// a rule without one defaults to high.
func alertFromMatch(ev types.KeywordMatchEvent) types.Alert {
	severity := ev.Severity
	if severity == "" {
		severity = types.SeverityHigh
	}
	return types.Alert{
		AlertID:            uuid.NewString(),
		SessionID:          ev.SessionID,
		StreamID:           ev.StreamID,
		AlertType:          types.AlertKeyword,
		Severity:           severity,
		MatchedRule:        ev.Keyword,
		MatchType:          ev.MatchType,
		SimilarityScore:    ev.SimilarityScore,
		MatchedText:        ev.MatchedText,
		SurroundingContext: ev.SurroundingContext,
		SpeakerID:          ev.SpeakerID,
		DeliveryStatus:     make(map[string]types.DeliveryOutcome),
		CreatedAt:          time.Now().UTC(),
	}
}

// alertFromSentiment builds a sentiment escalation alert at medium severity.
func alertFromSentiment(ev types.SentimentEvent) types.Alert {
	return types.Alert{
		AlertID:            uuid.NewString(),
		SessionID:          ev.SessionID,
		StreamID:           ev.StreamID,
		AlertType:          types.AlertSentiment,
		Severity:           types.SeverityMedium,
		MatchedRule:        "negative_sentiment",
		MatchedText:        ev.Text,
		SurroundingContext: ev.Text,
		SpeakerID:          ev.SpeakerID,
		DeliveryStatus:     make(map[string]types.DeliveryOutcome),
		CreatedAt:          time.Now().UTC(),
	}
}

// dispatch applies dedup and throttle, fans out, records the dispatch, and
// persists the result.
func (d *Dispatcher) dispatch(ctx context.Context, a types.Alert) {
	start := time.Now()
	defer func() {
		d.metrics.DispatchDuration.Record(ctx, time.Since(start).Seconds())
	}()

	dup, err := d.guard.IsDuplicate(ctx, a)
	if err != nil {
		// Fail open: a Redis hiccup must not silence alerts.
		d.log.Warn("dedup check failed, dispatching anyway", "alert_id", a.AlertID, "error", err)
	}
	if dup {
		a.Deduplicated = true
		d.metrics.RecordAlertOutcome(ctx, a.StreamID, outcomeDeduplicated)
		d.store(ctx, a)
		return
	}

	throttled, err := d.guard.IsThrottled(ctx, a.StreamID, start)
	if err != nil {
		d.log.Warn("throttle check failed, dispatching anyway", "alert_id", a.AlertID, "error", err)
	}
	if throttled {
		d.metrics.RecordAlertOutcome(ctx, a.StreamID, outcomeThrottled)
		d.log.Warn("stream at alert rate limit, dropping",
			"stream_id", a.StreamID, "alert_id", a.AlertID)
		return
	}

	for _, route := range d.routes {
		ch := route.Channel
		if !ch.Enabled() || !route.Accepts(a) {
			continue
		}
		ok, err := ch.Send(ctx, a)
		switch {
		case ok:
			a.DeliveredTo = append(a.DeliveredTo, ch.Name())
			a.DeliveryStatus[ch.Name()] = types.DeliveryDelivered
		case err != nil:
			// The alert never left the process.
			a.DeliveryStatus[ch.Name()] = types.DeliveryError
			d.log.Error("channel send error", "channel", ch.Name(), "alert_id", a.AlertID, "error", err)
			d.metrics.RecordDeliveryFailure(ctx, ch.Name())
			d.retrier.enqueue(ch, a)
		default:
			a.DeliveryStatus[ch.Name()] = types.DeliveryFailed
			d.metrics.RecordDeliveryFailure(ctx, ch.Name())
			d.retrier.enqueue(ch, a)
		}
	}

	if err := d.guard.RecordDispatch(ctx, a.StreamID, a.AlertID, start); err != nil {
		d.log.Warn("throttle record failed", "alert_id", a.AlertID, "error", err)
	}
	d.metrics.RecordAlertOutcome(ctx, a.StreamID, outcomeDispatched)
	d.log.Info("alert dispatched",
		"alert_id", a.AlertID, "stream_id", a.StreamID,
		"type", a.AlertType, "severity", a.Severity,
		"delivered_to", a.DeliveredTo)
	d.store(ctx, a)
}

// store persists the alert when a writer is configured. Errors are logged
// only; alert delivery never depends on storage.
func (d *Dispatcher) store(ctx context.Context, a types.Alert) {
	if d.persist == nil {
		return
	}
	if err := d.persist(context.WithoutCancel(ctx), a); err != nil {
		d.log.Error("alert persist failed", "alert_id", a.AlertID, "error", err)
	}
}

// closeChannels closes every distinct channel once.
func (d *Dispatcher) closeChannels() {
	seen := make(map[Channel]struct{})
	for _, route := range d.routes {
		if _, ok := seen[route.Channel]; ok {
			continue
		}
		seen[route.Channel] = struct{}{}
		if err := route.Channel.Close(); err != nil {
			d.log.Warn("channel close failed", "channel", route.Channel.Name(), "error", err)
		}
	}
}
