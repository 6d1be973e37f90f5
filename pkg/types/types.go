// Package types defines the shared types used across all VoxSentinel packages.
//
// These types form the lingua franca between the pipeline stages, providers,
// and the storage layer. They are intentionally minimal — each package defines
// its own domain types, but cross-cutting data structures live here to avoid
// circular imports.
package types

import "time"

// StreamStatus enumerates the lifecycle states of a monitored stream.
type StreamStatus string

const (
	StreamActive  StreamStatus = "active"
	StreamPaused  StreamStatus = "paused"
	StreamError   StreamStatus = "error"
	StreamStopped StreamStatus = "stopped"
)

// Stream is a logical audio source being monitored. Mutable only by the
// stream supervisor; one Stream owns zero or more Sessions over its lifetime.
type Stream struct {
	StreamID         string       `json:"stream_id"`
	Name             string       `json:"name,omitempty"`
	SourceURL        string       `json:"source_url"`
	ASRPrimary       string       `json:"asr_primary,omitempty"`
	ASRFallback      string       `json:"asr_fallback,omitempty"`
	VADThreshold     float64      `json:"vad_threshold,omitempty"`
	ChunkMs          int          `json:"chunk_ms,omitempty"`
	Status           StreamStatus `json:"status,omitempty"`
	CurrentSessionID string       `json:"current_session_id,omitempty"`
}

// Session is one continuous processing run of a stream. Opened when the
// stream transitions to active, closed on stop.
type Session struct {
	SessionID    string     `json:"session_id"`
	StreamID     string     `json:"stream_id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	ASRBackend   string     `json:"asr_backend_used,omitempty"`
	SegmentCount int64      `json:"segment_count"`
	AlertCount   int64      `json:"alert_count"`
}

// WordDetail holds per-word timing metadata from ASR engines that support it.
type WordDetail struct {
	Word       string  `json:"word"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TranscriptToken is a unit of ASR output. Non-final tokens are interim
// guesses and may be superseded; consumers that care about finality must
// filter on IsFinal rather than count tokens.
type TranscriptToken struct {
	Text       string       `json:"text"`
	IsFinal    bool         `json:"is_final"`
	StartMs    int64        `json:"start_ms"`
	EndMs      int64        `json:"end_ms"`
	Confidence float64      `json:"confidence"`
	Language   string       `json:"language,omitempty"`
	Words      []WordDetail `json:"word_timestamps,omitempty"`
}

// SpeakerSegment is one speaker turn within a diarization window, with
// millisecond offsets relative to the start of the session's audio.
type SpeakerSegment struct {
	SpeakerID string `json:"speaker_id"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
}

// SpeakerUnknown is the label assigned when no diarization segment covers a
// token (or no diarization output exists at all).
const SpeakerUnknown = "SPEAKER_UNKNOWN"

// EnrichedToken is a TranscriptToken annotated with its speaker label and
// routing identity. This is the unit the NLP pipeline consumes.
type EnrichedToken struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	SpeakerID  string  `json:"speaker_id"`
	StreamID   string  `json:"stream_id"`
	SessionID  string  `json:"session_id"`
}

// TranscriptSegment is a persisted final token with all NLP enrichment
// applied. SegmentHash makes the archive tamper-evident; see the audit
// package for the anchoring scheme.
type TranscriptSegment struct {
	SegmentID      string       `json:"segment_id"`
	SessionID      string       `json:"session_id"`
	StreamID       string       `json:"stream_id"`
	SpeakerID      string       `json:"speaker_id,omitempty"`
	StartTime      float64      `json:"start_time"`
	EndTime        float64      `json:"end_time"`
	TextRedacted   string       `json:"text_redacted"`
	TextOriginal   string       `json:"text_original,omitempty"`
	Words          []WordDetail `json:"word_timestamps,omitempty"`
	Language       string       `json:"language,omitempty"`
	ASRBackend     string       `json:"asr_backend,omitempty"`
	ASRConfidence  float64      `json:"asr_confidence"`
	SentimentLabel string       `json:"sentiment_label,omitempty"`
	SentimentScore float64      `json:"sentiment_score"`
	PIIEntities    []string     `json:"pii_entities_found,omitempty"`
	SegmentHash    string       `json:"segment_hash"`
	CreatedAt      time.Time    `json:"created_at"`
}

// MatchType enumerates the keyword matching strategies.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
	MatchRegex MatchType = "regex"
)

// Severity enumerates alert severities, lowest to highest.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal of the severity for threshold comparisons.
// Unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// KeywordRule is one entry of the operator-managed detection rule set. The
// set of enabled rules is partitioned by MatchType and consumed by the
// corresponding matcher.
type KeywordRule struct {
	RuleID         string    `json:"rule_id"`
	RuleSet        string    `json:"rule_set,omitempty"`
	Keyword        string    `json:"keyword"`
	MatchType      MatchType `json:"match_type"`
	FuzzyThreshold float64   `json:"fuzzy_threshold,omitempty"`
	Severity       Severity  `json:"severity"`
	Category       string    `json:"category,omitempty"`
	Language       string    `json:"language,omitempty"`
	Enabled        bool      `json:"enabled"`
}

// KeywordMatchEvent is published on match_events:{stream_id} for every
// keyword hit. SimilarityScore is 1.0 for exact matches, the normalized
// ratio for fuzzy matches, and 0 for regex matches.
type KeywordMatchEvent struct {
	StreamID           string    `json:"stream_id"`
	SessionID          string    `json:"session_id"`
	RuleID             string    `json:"rule_id"`
	Keyword            string    `json:"keyword"`
	MatchType          MatchType `json:"match_type"`
	Severity           Severity  `json:"severity"`
	SimilarityScore    float64   `json:"similarity_score"`
	MatchedText        string    `json:"matched_text"`
	SurroundingContext string    `json:"surrounding_context"`
	SpeakerID          string    `json:"speaker_id,omitempty"`
	StartTime          float64   `json:"start_time"`
	EndTime            float64   `json:"end_time"`
}

// SentimentEvent is published on sentiment_events:{stream_id} when the
// escalation rule fires (a streak of strongly negative tokens).
type SentimentEvent struct {
	StreamID    string  `json:"stream_id"`
	SessionID   string  `json:"session_id"`
	Label       string  `json:"label"`
	Score       float64 `json:"score"`
	Text        string  `json:"text"`
	SpeakerID   string  `json:"speaker_id,omitempty"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Consecutive int     `json:"consecutive"`
}

// AlertType enumerates the kinds of alerts the dispatcher produces.
type AlertType string

const (
	AlertKeyword    AlertType = "keyword"
	AlertSentiment  AlertType = "sentiment"
	AlertCompliance AlertType = "compliance"
	AlertIntent     AlertType = "intent"
)

// DeliveryOutcome is the per-channel result recorded in
// [Alert.DeliveryStatus].
type DeliveryOutcome string

const (
	DeliveryDelivered DeliveryOutcome = "delivered"
	DeliveryFailed    DeliveryOutcome = "failed"
	DeliveryError     DeliveryOutcome = "error"
)

// Alert is a dispatched (or suppressed) detection event. DeliveredTo is
// always a subset of the channels recorded as "delivered" in DeliveryStatus.
type Alert struct {
	AlertID            string                     `json:"alert_id"`
	SessionID          string                     `json:"session_id"`
	StreamID           string                     `json:"stream_id"`
	SegmentID          string                     `json:"segment_id,omitempty"`
	AlertType          AlertType                  `json:"alert_type"`
	Severity           Severity                   `json:"severity"`
	MatchedRule        string                     `json:"matched_rule"`
	MatchType          MatchType                  `json:"match_type,omitempty"`
	SimilarityScore    float64                    `json:"similarity_score,omitempty"`
	MatchedText        string                     `json:"matched_text"`
	SurroundingContext string                     `json:"surrounding_context,omitempty"`
	SpeakerID          string                     `json:"speaker_id,omitempty"`
	DeliveredTo        []string                   `json:"delivered_to"`
	DeliveryStatus     map[string]DeliveryOutcome `json:"delivery_status"`
	Deduplicated       bool                       `json:"deduplicated"`
	CreatedAt          time.Time                  `json:"created_at"`
}

// ChannelType enumerates the supported alert delivery channel kinds.
type ChannelType string

const (
	ChannelWebSocket ChannelType = "websocket"
	ChannelWebhook   ChannelType = "webhook"
	ChannelSlack     ChannelType = "slack"
	ChannelTeams     ChannelType = "teams"
	ChannelEmail     ChannelType = "email"
	ChannelSMS       ChannelType = "sms"
	ChannelSignal    ChannelType = "signal"
)

// AlertChannelConfig describes one operator-configured delivery channel.
// A nil StreamIDs slice means the channel accepts alerts from all streams.
type AlertChannelConfig struct {
	ChannelID   string         `json:"channel_id"`
	ChannelType ChannelType    `json:"channel_type"`
	Config      map[string]any `json:"config"`
	MinSeverity Severity       `json:"min_severity"`
	AlertTypes  []AlertType    `json:"alert_types,omitempty"`
	StreamIDs   []string       `json:"stream_ids,omitempty"`
	Enabled     bool           `json:"enabled"`
}

// AuditAnchor is one append-only Merkle anchor over a contiguous range of
// segment hashes. Anchor rows are never updated or deleted.
type AuditAnchor struct {
	AnchorID       int64     `json:"anchor_id"`
	MerkleRoot     string    `json:"merkle_root"`
	SegmentCount   int       `json:"segment_count"`
	FirstSegmentID string    `json:"first_segment_id"`
	LastSegmentID  string    `json:"last_segment_id"`
	AnchoredAt     time.Time `json:"anchored_at"`
}

// RedactedToken is the payload appended to redacted_tokens:{stream_id} by
// the NLP pipeline and consumed by the storage writer.
type RedactedToken struct {
	TextOriginal   string   `json:"text_original"`
	TextRedacted   string   `json:"text_redacted"`
	EntitiesFound  []string `json:"entities_found"`
	SentimentLabel string   `json:"sentiment_label"`
	SentimentScore float64  `json:"sentiment_score"`
	StartTime      float64  `json:"start_time"`
	EndTime        float64  `json:"end_time"`
	SpeakerID      string   `json:"speaker_id,omitempty"`
	SessionID      string   `json:"session_id"`
	Language       string   `json:"language,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	ASRBackend     string   `json:"asr_backend,omitempty"`
}
