package queue

// Stream and pub/sub channel naming. Every name is keyed by stream ID so
// readers and writers stay strictly per-stream.

// AudioChunks is the raw chunk stream produced by the ingesters.
func AudioChunks(streamID string) string { return "audio_chunks:" + streamID }

// SpeechChunks carries only the chunks the VAD gate classified as speech.
func SpeechChunks(streamID string) string { return "speech_chunks:" + streamID }

// TranscriptTokens carries JSON-serialized ASR tokens.
func TranscriptTokens(streamID string) string { return "transcript_tokens:" + streamID }

// EnrichedTokens carries speaker-annotated tokens for the NLP pipeline.
func EnrichedTokens(streamID string) string { return "enriched_tokens:" + streamID }

// RedactedTokens carries the NLP output consumed by the storage writer.
func RedactedTokens(streamID string) string { return "redacted_tokens:" + streamID }

// DiarizationEvents is the pub/sub channel for speaker turns.
func DiarizationEvents(streamID string) string { return "diarization_events:" + streamID }

// MatchEvents is the pub/sub channel for keyword hits.
func MatchEvents(streamID string) string { return "match_events:" + streamID }

// SentimentEvents is the pub/sub channel for sentiment escalations.
func SentimentEvents(streamID string) string { return "sentiment_events:" + streamID }

// Pub/sub patterns the alert dispatcher subscribes to, and the channel the
// rule API publishes on when the rule set changes.
const (
	MatchEventsPattern     = "match_events:*"
	SentimentEventsPattern = "sentiment_events:*"
	RulesUpdatedChannel    = "rules_updated"
)
