// Package senthttp provides a sentiment.Analyzer backed by an HTTP model
// server exposing POST /sentiment.
package senthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Theesthan/VoxSentinel/pkg/provider/sentiment"
)

const requestTimeout = 10 * time.Second

// Option is a functional option for configuring the senthttp Analyzer.
type Option func(*Analyzer)

// WithHTTPClient overrides the HTTP client. Used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Analyzer) { a.client = c }
}

// Analyzer implements sentiment.Analyzer against a model server. Safe for
// concurrent use.
type Analyzer struct {
	baseURL string
	client  *http.Client
}

// New creates a senthttp Analyzer targeting baseURL.
func New(baseURL string, opts ...Option) (*Analyzer, error) {
	if baseURL == "" {
		return nil, errors.New("senthttp: baseURL must not be empty")
	}
	a := &Analyzer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Analyze posts the text and normalizes the model's label to lowercase.
func (a *Analyzer) Analyze(ctx context.Context, text string) (sentiment.Result, error) {
	if strings.TrimSpace(text) == "" {
		return sentiment.Result{Label: sentiment.LabelNeutral, Score: 0}, nil
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return sentiment.Result{}, fmt.Errorf("senthttp: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/sentiment", bytes.NewReader(payload))
	if err != nil {
		return sentiment.Result{}, fmt.Errorf("senthttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return sentiment.Result{}, fmt.Errorf("senthttp: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return sentiment.Result{}, fmt.Errorf("senthttp: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}

	var body struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return sentiment.Result{}, fmt.Errorf("senthttp: decode response: %w", err)
	}

	return sentiment.Result{
		Label: strings.ToLower(body.Label),
		Score: body.Score,
	}, nil
}

// Name returns "sentiment-http".
func (a *Analyzer) Name() string { return "sentiment-http" }

// Close is a no-op; the analyzer holds no persistent connections.
func (a *Analyzer) Close() error { return nil }
