// Package sentiment defines the Analyzer interface for sentiment scoring
// backends.
//
// The model contract is binary: every non-empty text scores as positive or
// negative with a confidence in [0, 1]. Empty or whitespace-only input must
// yield the neutral label with score 0 — the NLP pipeline depends on that
// when a token carries no usable text.
package sentiment

import "context"

// Labels produced by analyzers. Backends normalize model output to
// lowercase before returning it.
const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
)

// Result is one sentiment classification.
type Result struct {
	Label string
	Score float64
}

// Analyzer is the abstraction over any sentiment backend.
//
// Implementations must be safe for concurrent use: one analyzer instance is
// shared by all per-stream NLP pipelines.
type Analyzer interface {
	// Analyze classifies text. Empty or whitespace-only input returns
	// {neutral, 0} without consulting the model.
	Analyze(ctx context.Context, text string) (Result, error)

	// Name returns the backend identifier used in logs.
	Name() string

	// Close releases model resources. Calling Close more than once is safe.
	Close() error
}
