// Package whisperhttp provides an ASR engine backed by a Whisper-compatible
// HTTP transcription server (OpenAI-compatible /v1/audio/transcriptions).
// It implements the asr.Engine interface.
//
// Whisper is a batch model: the engine accumulates incoming chunks until the
// configured accumulation window is full, runs one transcription over the
// buffered audio, and yields segment-level final tokens with word timings
// offset by the number of samples already consumed. Between flushes
// StreamAudio returns no tokens.
package whisperhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/Theesthan/VoxSentinel/pkg/pcm"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

const (
	defaultModel               = "whisper-1"
	defaultAccumulationSeconds = 3
	requestTimeout             = 30 * time.Second
)

// Option is a functional option for configuring the whisperhttp Engine.
type Option func(*Engine)

// WithModel sets the model name sent to the server.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithLanguage sets the transcription language hint.
func WithLanguage(language string) Option {
	return func(e *Engine) { e.language = language }
}

// WithAccumulationSeconds sets the batch window in seconds of audio.
func WithAccumulationSeconds(s int) Option {
	return func(e *Engine) {
		if s > 0 {
			e.accumulationSeconds = s
		}
	}
}

// WithHTTPClient overrides the HTTP client. Used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// Engine implements asr.Engine against a Whisper HTTP server. One Engine
// serves one stream; it is driven by a single goroutine and keeps the
// accumulation buffer unsynchronized.
type Engine struct {
	baseURL             string
	model               string
	language            string
	accumulationSeconds int
	client              *http.Client

	connected        bool
	buf              []byte
	processedSamples int64
}

// New creates a whisperhttp Engine targeting baseURL
// (e.g. "http://whisper:9000").
func New(baseURL string, opts ...Option) (*Engine, error) {
	if baseURL == "" {
		return nil, errors.New("whisperhttp: baseURL must not be empty")
	}
	e := &Engine{
		baseURL:             strings.TrimRight(baseURL, "/"),
		model:               defaultModel,
		accumulationSeconds: defaultAccumulationSeconds,
		client:              &http.Client{Timeout: requestTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Connect verifies the server is reachable.
func (e *Engine) Connect(ctx context.Context) error {
	if !e.HealthCheck(ctx) {
		return fmt.Errorf("whisperhttp: server %s is unreachable", e.baseURL)
	}
	e.connected = true
	e.buf = nil
	e.processedSamples = 0
	return nil
}

// Disconnect discards buffered audio.
func (e *Engine) Disconnect() error {
	e.connected = false
	e.buf = nil
	return nil
}

// maxBufferBytes caps the accumulation buffer at twice the window so a
// failing server cannot grow it without bound.
func (e *Engine) maxBufferBytes() int {
	return 2 * e.accumulationSeconds * pcm.SampleRate * pcm.BytesPerSample
}

// StreamAudio appends the chunk to the accumulation buffer and, when the
// window is full, transcribes it in one batch.
func (e *Engine) StreamAudio(ctx context.Context, chunk []byte) ([]types.TranscriptToken, error) {
	if !e.connected {
		return nil, fmt.Errorf("whisperhttp: %w", errNotConnected)
	}
	e.buf = append(e.buf, chunk...)

	windowBytes := e.accumulationSeconds * pcm.SampleRate * pcm.BytesPerSample
	if len(e.buf) < windowBytes && len(e.buf) < e.maxBufferBytes() {
		return nil, nil
	}

	window := e.buf
	tokens, err := e.transcribe(ctx, window)
	if err != nil {
		// The buffer is kept so the audio is retried on the next chunk,
		// bounded by maxBufferBytes.
		if len(e.buf) >= e.maxBufferBytes() {
			e.discard(window)
		}
		return nil, err
	}
	e.discard(window)
	return tokens, nil
}

var errNotConnected = errors.New("engine is not connected")

// discard drops a transcribed (or abandoned) window from the buffer and
// advances the sample offset used for token timing.
func (e *Engine) discard(window []byte) {
	e.processedSamples += int64(len(window) / pcm.BytesPerSample)
	e.buf = nil
}

// HealthCheck probes the server's health endpoint.
func (e *Engine) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 500
}

// Name returns "whisper".
func (e *Engine) Name() string { return "whisper" }

// verboseResponse is the verbose_json transcription response shape.
type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}

// transcribe posts the window as a WAV file and converts the response
// segments into final tokens, offsetting all timings by the samples already
// consumed from this stream.
func (e *Engine) transcribe(ctx context.Context, window []byte) ([]types.TranscriptToken, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisperhttp: create form file: %w", err)
	}
	if _, err := fw.Write(pcm.EncodeWAV(window, pcm.SampleRate)); err != nil {
		return nil, fmt.Errorf("whisperhttp: write wav: %w", err)
	}
	_ = mw.WriteField("model", e.model)
	_ = mw.WriteField("response_format", "verbose_json")
	_ = mw.WriteField("timestamp_granularities[]", "word")
	if e.language != "" {
		_ = mw.WriteField("language", e.language)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisperhttp: close multipart: %w", err)
	}

	url := e.baseURL + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("whisperhttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisperhttp: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisperhttp: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("whisperhttp: decode response: %w", err)
	}

	offsetMs := e.processedSamples * 1000 / pcm.SampleRate
	tokens := make([]types.TranscriptToken, 0, len(vr.Segments))
	for _, seg := range vr.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		words := make([]types.WordDetail, 0, len(seg.Words))
		for _, w := range seg.Words {
			words = append(words, types.WordDetail{
				Word:    strings.TrimSpace(w.Word),
				StartMs: offsetMs + int64(w.Start*1000),
				EndMs:   offsetMs + int64(w.End*1000),
			})
		}
		tokens = append(tokens, types.TranscriptToken{
			Text:     text,
			IsFinal:  true,
			StartMs:  offsetMs + int64(seg.Start*1000),
			EndMs:    offsetMs + int64(seg.End*1000),
			Language: vr.Language,
			Words:    words,
			// Whisper does not report per-segment confidence.
			Confidence: 1.0,
		})
	}
	return tokens, nil
}
