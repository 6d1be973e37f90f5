package nlp

import (
	"testing"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

func tok(text string, startMs, endMs int64) types.EnrichedToken {
	return types.EnrichedToken{Text: text, IsFinal: true, StartMs: startMs, EndMs: endMs}
}

func TestWindow_JoinsTokens(t *testing.T) {
	t.Parallel()
	w := NewWindow(10)
	w.Add(tok("open", 0, 400))
	w.Add(tok("the", 400, 600))
	w.Add(tok("door", 600, 1000))

	if got := w.Text(); got != "open the door" {
		t.Errorf("Text() = %q, want %q", got, "open the door")
	}
}

func TestWindow_EvictsOldTokens(t *testing.T) {
	t.Parallel()
	w := NewWindow(10)
	w.Add(tok("stale", 0, 500))
	w.Add(tok("fresh", 11000, 11500))

	if got := w.Text(); got != "fresh" {
		t.Errorf("Text() = %q, want %q (token outside the 10s span must go)", got, "fresh")
	}
	if w.Len() != 1 {
		t.Errorf("Len() = %d, want 1", w.Len())
	}
}

func TestWindow_BoundaryTokenKept(t *testing.T) {
	t.Parallel()
	w := NewWindow(10)
	// Ends exactly at latest − span: still inside.
	w.Add(tok("edge", 500, 1000))
	w.Add(tok("now", 10500, 11000))

	if got := w.Text(); got != "edge now" {
		t.Errorf("Text() = %q, want %q", got, "edge now")
	}
}

func TestWindow_SkipsBlankText(t *testing.T) {
	t.Parallel()
	w := NewWindow(10)
	w.Add(tok("hello", 0, 300))
	w.Add(tok("  ", 300, 500))
	w.Add(tok("there", 500, 800))

	if got := w.Text(); got != "hello there" {
		t.Errorf("Text() = %q, want %q", got, "hello there")
	}
}

func TestWindow_Span(t *testing.T) {
	t.Parallel()
	w := NewWindow(10)
	if s, e := w.Span(); s != 0 || e != 0 {
		t.Errorf("empty Span() = (%d, %d), want (0, 0)", s, e)
	}
	w.Add(tok("a", 100, 400))
	w.Add(tok("b", 400, 900))
	if s, e := w.Span(); s != 100 || e != 900 {
		t.Errorf("Span() = (%d, %d), want (100, 900)", s, e)
	}
}
