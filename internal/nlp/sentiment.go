package nlp

import (
	"github.com/Theesthan/VoxSentinel/pkg/provider/sentiment"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// SentimentTracker keeps a rolling history of sentiment classifications and
// detects escalations: a streak of consecutive strongly negative tokens.
//
// Owned by a single pipeline goroutine; no locking.
type SentimentTracker struct {
	windowMs       int64
	streakNeeded   int
	scoreThreshold float64

	history []sentimentEntry
}

type sentimentEntry struct {
	label string
	score float64
	endMs int64
}

// NewSentimentTracker creates a tracker over a windowSeconds history that
// escalates after streakNeeded consecutive negative entries scoring above
// scoreThreshold.
func NewSentimentTracker(windowSeconds, streakNeeded int, scoreThreshold float64) *SentimentTracker {
	return &SentimentTracker{
		windowMs:       int64(windowSeconds) * 1000,
		streakNeeded:   streakNeeded,
		scoreThreshold: scoreThreshold,
	}
}

// Observe records one classified token and reports whether it completes an
// escalation streak. Every qualifying token at or beyond the streak length
// reports true; the dispatcher's dedup layer collapses the burst.
func (t *SentimentTracker) Observe(tok types.EnrichedToken, res sentiment.Result) (escalated bool, streak int) {
	// Evict entries older than the window relative to this token.
	cutoff := tok.EndMs - t.windowMs
	firstKept := 0
	for firstKept < len(t.history) && t.history[firstKept].endMs < cutoff {
		firstKept++
	}
	if firstKept > 0 {
		t.history = append(t.history[:0], t.history[firstKept:]...)
	}

	t.history = append(t.history, sentimentEntry{
		label: res.Label,
		score: res.Score,
		endMs: tok.EndMs,
	})

	streak = t.currentStreak()
	return streak >= t.streakNeeded, streak
}

// currentStreak counts the qualifying entries at the tail of the history.
func (t *SentimentTracker) currentStreak() int {
	n := 0
	for i := len(t.history) - 1; i >= 0; i-- {
		e := t.history[i]
		if e.label != sentiment.LabelNegative || e.score <= t.scoreThreshold {
			break
		}
		n++
	}
	return n
}

// HistoryLen returns the number of entries currently held.
func (t *SentimentTracker) HistoryLen() int { return len(t.history) }
