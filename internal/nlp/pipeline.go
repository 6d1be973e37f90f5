package nlp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/internal/queue"
	"github.com/Theesthan/VoxSentinel/pkg/provider/sentiment"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// errSleep is the pause after a transient read error.
const errSleep = time.Second

// PipelineConfig tunes one stream's NLP pipeline.
type PipelineConfig struct {
	// WindowSeconds is the keyword haystack span. Default behaviour is
	// decided by the caller; zero is not defaulted here.
	WindowSeconds int

	// SentimentWindowSeconds spans the rolling sentiment history.
	SentimentWindowSeconds int

	// SentimentConsecutive is the escalation streak length.
	SentimentConsecutive int

	// SentimentScoreThreshold is the minimum negative score that counts
	// toward a streak (exclusive).
	SentimentScoreThreshold float64

	// ASRBackend labels redacted entries with the engine that produced the
	// transcript.
	ASRBackend string
}

// Pipeline is the per-stream NLP stage. It consumes enriched tokens,
// runs keyword detection, sentiment classification, and PII redaction
// concurrently for each final token, and publishes the results.
type Pipeline struct {
	bus      *queue.Bus
	reloader *Reloader
	analyzer sentiment.Analyzer // nil disables sentiment
	redactor *Redactor
	streamID string
	cfg      PipelineConfig
	metrics  *observe.Metrics
	log      *slog.Logger

	window  *Window
	tracker *SentimentTracker
}

// NewPipeline creates an NLP pipeline for one stream.
func NewPipeline(bus *queue.Bus, reloader *Reloader, analyzer sentiment.Analyzer, redactor *Redactor, streamID string, cfg PipelineConfig, metrics *observe.Metrics) *Pipeline {
	return &Pipeline{
		bus:      bus,
		reloader: reloader,
		analyzer: analyzer,
		redactor: redactor,
		streamID: streamID,
		cfg:      cfg,
		metrics:  metrics,
		log:      slog.With("component", "nlp", "stream_id", streamID),
		window:   NewWindow(cfg.WindowSeconds),
		tracker:  NewSentimentTracker(cfg.SentimentWindowSeconds, cfg.SentimentConsecutive, cfg.SentimentScoreThreshold),
	}
}

// Run consumes enriched tokens until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	reader := p.bus.NewReader(queue.EnrichedTokens(p.streamID))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("enriched token read failed, retrying", "error", err)
			sleep(ctx, errSleep)
			continue
		}

		for _, msg := range msgs {
			p.processEntry(ctx, msg.Values)
		}
	}
}

// processEntry parses one queue entry and analyses it if it is a final,
// non-empty token.
func (p *Pipeline) processEntry(ctx context.Context, values map[string]any) {
	raw := queue.StringField(values, "token")
	if raw == "" {
		p.log.Warn("dropping entry without token field")
		return
	}
	var tok types.EnrichedToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		p.log.Warn("dropping unparseable enriched token", "error", err)
		return
	}
	if !tok.IsFinal || strings.TrimSpace(tok.Text) == "" {
		return
	}
	p.processToken(ctx, tok)
}

// analysis carries one token's sub-pipeline outputs to the publish step.
type analysis struct {
	matches       []Match
	sentimentRes  sentiment.Result
	escalated     bool
	streak        int
	textRedacted  string
	entitiesFound []string
}

// processToken runs the three sub-pipelines concurrently and publishes once
// all complete.
func (p *Pipeline) processToken(ctx context.Context, tok types.EnrichedToken) {
	start := time.Now()
	defer func() {
		p.metrics.NLPDuration.Record(ctx, time.Since(start).Seconds())
	}()

	p.window.Add(tok)
	haystack := p.window.Text()

	var res analysis
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res.matches = p.reloader.Index().Detect(haystack)
		return nil
	})

	g.Go(func() error {
		if p.analyzer == nil {
			res.sentimentRes = sentiment.Result{Label: sentiment.LabelNeutral}
			return nil
		}
		sres, err := p.analyzer.Analyze(gctx, tok.Text)
		if err != nil {
			p.log.Warn("sentiment analysis failed, defaulting to neutral", "error", err)
			sres = sentiment.Result{Label: sentiment.LabelNeutral}
		}
		res.sentimentRes = sres
		return nil
	})

	g.Go(func() error {
		res.textRedacted, res.entitiesFound = p.redactor.Redact(tok.Text)
		return nil
	})

	// The workers never return errors; the group is for structured
	// completion, not error propagation.
	_ = g.Wait()

	res.escalated, res.streak = p.tracker.Observe(tok, res.sentimentRes)

	p.publish(ctx, tok, haystack, res)
}

// publish emits match events, sentiment escalations, and the redacted entry
// for one token.
func (p *Pipeline) publish(ctx context.Context, tok types.EnrichedToken, haystack string, res analysis) {
	for _, m := range res.matches {
		ev := types.KeywordMatchEvent{
			StreamID:           tok.StreamID,
			SessionID:          tok.SessionID,
			RuleID:             m.Rule.RuleID,
			Keyword:            m.Rule.Keyword,
			MatchType:          m.Rule.MatchType,
			Severity:           m.Rule.Severity,
			SimilarityScore:    m.Similarity,
			MatchedText:        m.MatchedText,
			SurroundingContext: haystack,
			SpeakerID:          tok.SpeakerID,
			StartTime:          float64(tok.StartMs) / 1000,
			EndTime:            float64(tok.EndMs) / 1000,
		}
		if err := p.bus.PublishEvent(ctx, queue.MatchEvents(p.streamID), ev); err != nil {
			p.log.Warn("match event publish failed", "rule_id", m.Rule.RuleID, "error", err)
		}
	}

	if res.escalated {
		ev := types.SentimentEvent{
			StreamID:    tok.StreamID,
			SessionID:   tok.SessionID,
			Label:       res.sentimentRes.Label,
			Score:       res.sentimentRes.Score,
			Text:        tok.Text,
			SpeakerID:   tok.SpeakerID,
			StartTime:   float64(tok.StartMs) / 1000,
			EndTime:     float64(tok.EndMs) / 1000,
			Consecutive: res.streak,
		}
		if err := p.bus.PublishEvent(ctx, queue.SentimentEvents(p.streamID), ev); err != nil {
			p.log.Warn("sentiment event publish failed", "error", err)
		}
	}

	entities, err := json.Marshal(res.entitiesFound)
	if err != nil {
		entities = []byte("[]")
	}
	fields := map[string]any{
		"text_original":   tok.Text,
		"text_redacted":   res.textRedacted,
		"entities_found":  string(entities),
		"sentiment_label": res.sentimentRes.Label,
		"sentiment_score": strconv.FormatFloat(res.sentimentRes.Score, 'f', -1, 64),
		"start_time":      strconv.FormatFloat(float64(tok.StartMs)/1000, 'f', -1, 64),
		"end_time":        strconv.FormatFloat(float64(tok.EndMs)/1000, 'f', -1, 64),
		"speaker_id":      tok.SpeakerID,
		"session_id":      tok.SessionID,
		"language":        tok.Language,
		"confidence":      strconv.FormatFloat(tok.Confidence, 'f', -1, 64),
		"asr_backend":     p.cfg.ASRBackend,
	}
	if _, err := p.bus.Publish(ctx, queue.RedactedTokens(p.streamID), fields); err != nil {
		p.log.Warn("redacted token publish failed", "error", err)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
