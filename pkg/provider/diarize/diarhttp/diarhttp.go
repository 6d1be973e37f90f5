// Package diarhttp provides a diarize.Engine backed by an HTTP diarization
// model server. The server receives a WAV payload and responds with the
// speaker turns it found.
package diarhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Theesthan/VoxSentinel/pkg/pcm"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

const requestTimeout = 30 * time.Second

// Option is a functional option for configuring the diarhttp Engine.
type Option func(*Engine)

// WithHTTPClient overrides the HTTP client. Used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// Engine implements diarize.Engine against a model server exposing
// POST /diarize. Safe for concurrent use.
type Engine struct {
	baseURL string
	client  *http.Client
}

// New creates a diarhttp Engine targeting baseURL.
func New(baseURL string, opts ...Option) (*Engine, error) {
	if baseURL == "" {
		return nil, errors.New("diarhttp: baseURL must not be empty")
	}
	e := &Engine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// segmentResponse is the server's per-turn JSON shape.
type segmentResponse struct {
	Segments []struct {
		Speaker string `json:"speaker"`
		StartMs int64  `json:"start_ms"`
		EndMs   int64  `json:"end_ms"`
	} `json:"segments"`
}

// Diarize posts the window as WAV and parses the returned speaker turns.
func (e *Engine) Diarize(ctx context.Context, raw []byte) ([]types.SpeakerSegment, error) {
	body := bytes.NewReader(pcm.EncodeWAV(raw, pcm.SampleRate))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/diarize", body)
	if err != nil {
		return nil, fmt.Errorf("diarhttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diarhttp: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("diarhttp: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}

	var sr segmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("diarhttp: decode response: %w", err)
	}

	segs := make([]types.SpeakerSegment, 0, len(sr.Segments))
	for _, s := range sr.Segments {
		segs = append(segs, types.SpeakerSegment{
			SpeakerID: s.Speaker,
			StartMs:   s.StartMs,
			EndMs:     s.EndMs,
		})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].StartMs < segs[j].StartMs })
	return segs, nil
}

// Name returns "diarization-http".
func (e *Engine) Name() string { return "diarization-http" }

// Close is a no-op; the engine holds no persistent connections.
func (e *Engine) Close() error { return nil }
