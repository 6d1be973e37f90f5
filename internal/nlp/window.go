// Package nlp runs the text analysis stage: keyword detection over a sliding
// transcript window, sentiment scoring with escalation tracking, and PII
// redaction. Each final token fans out to the three sub-pipelines
// concurrently; results are published once all three complete.
package nlp

import (
	"strings"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// Window is the per-stream sliding transcript window used as the keyword
// matching haystack. Tokens older than the span (measured against the most
// recent token's end time) are evicted on every add.
//
// Window is owned by a single pipeline goroutine and needs no locking.
type Window struct {
	spanMs int64
	tokens []windowToken
}

type windowToken struct {
	text    string
	startMs int64
	endMs   int64
}

// NewWindow creates a window spanning spanSeconds of transcript time.
func NewWindow(spanSeconds int) *Window {
	return &Window{spanMs: int64(spanSeconds) * 1000}
}

// Add appends a token and evicts everything that fell out of the span.
func (w *Window) Add(tok types.EnrichedToken) {
	w.tokens = append(w.tokens, windowToken{
		text:    tok.Text,
		startMs: tok.StartMs,
		endMs:   tok.EndMs,
	})

	cutoff := tok.EndMs - w.spanMs
	firstKept := 0
	for firstKept < len(w.tokens) && w.tokens[firstKept].endMs < cutoff {
		firstKept++
	}
	if firstKept > 0 {
		w.tokens = append(w.tokens[:0], w.tokens[firstKept:]...)
	}
}

// Text returns the space-joined window content, the haystack for keyword
// matching and the surrounding context reported with each hit.
func (w *Window) Text() string {
	parts := make([]string, 0, len(w.tokens))
	for _, t := range w.tokens {
		if s := strings.TrimSpace(t.text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Len returns the number of tokens currently in the window.
func (w *Window) Len() int { return len(w.tokens) }

// Span returns the start and end times covered by the window in
// milliseconds. Both are zero for an empty window.
func (w *Window) Span() (startMs, endMs int64) {
	if len(w.tokens) == 0 {
		return 0, 0
	}
	return w.tokens[0].startMs, w.tokens[len(w.tokens)-1].endMs
}
