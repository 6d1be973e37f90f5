// Package observe provides application-wide observability primitives for
// VoxSentinel: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/Theesthan/VoxSentinel"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// VADDuration tracks per-chunk speech scoring latency.
	VADDuration metric.Float64Histogram

	// ASRDuration tracks per-chunk transcription latency.
	ASRDuration metric.Float64Histogram

	// DiarizationDuration tracks per-window diarization latency.
	DiarizationDuration metric.Float64Histogram

	// NLPDuration tracks per-token NLP pipeline latency (all three
	// sub-pipelines combined).
	NLPDuration metric.Float64Histogram

	// DispatchDuration tracks alert dispatch latency including fan-out.
	DispatchDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksProduced counts chunks published to audio_chunks by stream.
	ChunksProduced metric.Int64Counter

	// ChunksDropped counts chunks the VAD gate classified as non-speech.
	ChunksDropped metric.Int64Counter

	// ASRFailures counts primary engine errors by engine.
	ASRFailures metric.Int64Counter

	// ASRFailovers counts failover activations by primary/fallback pair.
	ASRFailovers metric.Int64Counter

	// ASRChunksAbandoned counts chunks dropped because the circuit was
	// open with no fallback configured.
	ASRChunksAbandoned metric.Int64Counter

	// Reconnections counts ingestion reconnection attempts by stream.
	Reconnections metric.Int64Counter

	// AlertsDispatched counts alerts fanned out by stream and outcome
	// ("dispatched", "deduplicated", "throttled").
	AlertsDispatched metric.Int64Counter

	// DeliveryFailures counts per-channel delivery failures.
	DeliveryFailures metric.Int64Counter

	// SegmentsPersisted counts transcript segments written by stream.
	SegmentsPersisted metric.Int64Counter

	// AnchorsWritten counts audit anchors committed.
	AnchorsWritten metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of running ingestion pipelines.
	ActiveStreams metric.Int64UpDownCounter

	// SpeechRatio records the per-stream speech ratio flushed by the VAD
	// gate every 60 seconds.
	SpeechRatio metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin endpoint latency. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for audio-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	histograms := []struct {
		target *metric.Float64Histogram
		name   string
		desc   string
	}{
		{&met.VADDuration, "voxsentinel.vad.duration", "Latency of per-chunk speech scoring."},
		{&met.ASRDuration, "voxsentinel.asr.duration", "Latency of per-chunk transcription."},
		{&met.DiarizationDuration, "voxsentinel.diarization.duration", "Latency of per-window diarization."},
		{&met.NLPDuration, "voxsentinel.nlp.duration", "Latency of per-token NLP processing."},
		{&met.DispatchDuration, "voxsentinel.dispatch.duration", "Latency of alert dispatch including fan-out."},
	}
	for _, h := range histograms {
		if *h.target, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&met.ChunksProduced, "voxsentinel.chunks.produced", "Total audio chunks published by stream."},
		{&met.ChunksDropped, "voxsentinel.chunks.dropped", "Total chunks the VAD gate dropped as non-speech."},
		{&met.ASRFailures, "voxsentinel.asr.failures", "Total primary ASR engine errors by engine."},
		{&met.ASRFailovers, "voxsentinel.asr.failovers", "Total ASR failover activations."},
		{&met.ASRChunksAbandoned, "voxsentinel.asr.chunks_abandoned", "Total chunks abandoned with an open circuit and no fallback."},
		{&met.Reconnections, "voxsentinel.ingest.reconnections", "Total ingestion reconnection attempts by stream."},
		{&met.AlertsDispatched, "voxsentinel.alerts.dispatched", "Total alerts by stream and outcome."},
		{&met.DeliveryFailures, "voxsentinel.alerts.delivery_failures", "Total per-channel delivery failures."},
		{&met.SegmentsPersisted, "voxsentinel.segments.persisted", "Total transcript segments written by stream."},
		{&met.AnchorsWritten, "voxsentinel.audit.anchors_written", "Total audit anchors committed."},
	}
	for _, c := range counters {
		if *c.target, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges.
	if met.ActiveStreams, err = m.Int64UpDownCounter("voxsentinel.streams.active",
		metric.WithDescription("Number of running ingestion pipelines."),
	); err != nil {
		return nil, err
	}
	if met.SpeechRatio, err = m.Float64Gauge("voxsentinel.vad.speech_ratio",
		metric.WithDescription("Fraction of chunks classified as speech in the last 60s window, by stream."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxsentinel.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChunkProduced increments the chunk production counter for a stream.
func (m *Metrics) RecordChunkProduced(ctx context.Context, streamID string) {
	m.ChunksProduced.Add(ctx, 1, metric.WithAttributes(attribute.String("stream_id", streamID)))
}

// RecordChunkDropped increments the VAD drop counter for a stream.
func (m *Metrics) RecordChunkDropped(ctx context.Context, streamID string) {
	m.ChunksDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("stream_id", streamID)))
}

// RecordSpeechRatio flushes the 60-second speech ratio gauge for a stream.
func (m *Metrics) RecordSpeechRatio(ctx context.Context, streamID string, ratio float64) {
	m.SpeechRatio.Record(ctx, ratio, metric.WithAttributes(attribute.String("stream_id", streamID)))
}

// RecordASRFailure increments the primary-engine error counter.
func (m *Metrics) RecordASRFailure(ctx context.Context, engine string) {
	m.ASRFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", engine)))
}

// RecordASRFailover increments the failover activation counter.
func (m *Metrics) RecordASRFailover(ctx context.Context, primary, fallback string) {
	m.ASRFailovers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("primary", primary),
		attribute.String("fallback", fallback),
	))
}

// RecordASRChunkAbandoned increments the abandoned-chunk counter.
func (m *Metrics) RecordASRChunkAbandoned(ctx context.Context, streamID string) {
	m.ASRChunksAbandoned.Add(ctx, 1, metric.WithAttributes(attribute.String("stream_id", streamID)))
}

// RecordReconnection increments the reconnection counter for a stream.
func (m *Metrics) RecordReconnection(ctx context.Context, streamID string) {
	m.Reconnections.Add(ctx, 1, metric.WithAttributes(attribute.String("stream_id", streamID)))
}

// RecordAlertOutcome increments the alert counter with the given outcome
// ("dispatched", "deduplicated", "throttled").
func (m *Metrics) RecordAlertOutcome(ctx context.Context, streamID, outcome string) {
	m.AlertsDispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stream_id", streamID),
		attribute.String("outcome", outcome),
	))
}

// RecordDeliveryFailure increments the per-channel delivery failure counter.
func (m *Metrics) RecordDeliveryFailure(ctx context.Context, channel string) {
	m.DeliveryFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

// RecordSegmentPersisted increments the segment counter for a stream.
func (m *Metrics) RecordSegmentPersisted(ctx context.Context, streamID string) {
	m.SegmentsPersisted.Add(ctx, 1, metric.WithAttributes(attribute.String("stream_id", streamID)))
}

// RecordAnchorWritten increments the anchor counter.
func (m *Metrics) RecordAnchorWritten(ctx context.Context, segmentCount int) {
	m.AnchorsWritten.Add(ctx, 1, metric.WithAttributes(attribute.Int("segment_count", segmentCount)))
}
