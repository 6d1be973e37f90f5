// Package mock provides a scriptable sentiment.Analyzer for tests.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/Theesthan/VoxSentinel/pkg/provider/sentiment"
)

// Analyzer is a test double for sentiment.Analyzer. Set Result for a
// constant classification or AnalyzeFunc for per-call control. The
// empty-input rule is honoured either way.
type Analyzer struct {
	Result      sentiment.Result
	Err         error
	AnalyzeFunc func(text string) (sentiment.Result, error)

	mu    sync.Mutex
	calls int
}

// Analyze returns the scripted result and records the call.
func (a *Analyzer) Analyze(_ context.Context, text string) (sentiment.Result, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return sentiment.Result{Label: sentiment.LabelNeutral, Score: 0}, nil
	}
	if a.AnalyzeFunc != nil {
		return a.AnalyzeFunc(text)
	}
	if a.Err != nil {
		return sentiment.Result{}, a.Err
	}
	return a.Result, nil
}

// Name returns "mock".
func (a *Analyzer) Name() string { return "mock" }

// Close is a no-op.
func (a *Analyzer) Close() error { return nil }

// Calls returns how many times Analyze was invoked.
func (a *Analyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
