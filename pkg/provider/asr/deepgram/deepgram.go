// Package deepgram provides a Deepgram-backed ASR engine using the Deepgram
// streaming WebSocket API. It implements the asr.Engine interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/Theesthan/VoxSentinel/pkg/pcm"
	"github.com/Theesthan/VoxSentinel/pkg/provider/asr"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
)

// Option is a functional option for configuring the Deepgram Engine.
type Option func(*Engine)

// WithModel sets the Deepgram model to use (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(e *Engine) { e.language = language }
}

// WithEndpoint overrides the WebSocket endpoint. Used in tests against a
// local stub server.
func WithEndpoint(endpoint string) Option {
	return func(e *Engine) { e.endpoint = endpoint }
}

// Engine implements asr.Engine backed by the Deepgram streaming API.
//
// Tokens arrive asynchronously on the WebSocket; the read loop parses them
// into an internal buffer which each StreamAudio call drains after writing
// its chunk. One Engine serves one stream.
type Engine struct {
	apiKey   string
	model    string
	language string
	endpoint string

	mu        sync.Mutex
	conn      *websocket.Conn
	buffer    []types.TranscriptToken
	connected bool

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a Deepgram Engine. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	e := &Engine{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: defaultEndpoint,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Connect dials the streaming endpoint and starts the receive loop.
func (e *Engine) Connect(ctx context.Context) error {
	wsURL, err := e.buildURL()
	if err != nil {
		return fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+e.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return fmt.Errorf("deepgram: dial: %w", err)
	}

	e.mu.Lock()
	e.conn = conn
	e.connected = true
	e.buffer = nil
	e.mu.Unlock()

	e.done = make(chan struct{})
	e.once = sync.Once{}
	e.wg.Add(1)
	go e.readLoop()

	return nil
}

// Disconnect closes the stream and waits for the receive loop to exit.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	conn := e.conn
	e.connected = false
	e.mu.Unlock()

	if conn == nil {
		return nil
	}
	e.once.Do(func() {
		// Ask the server to flush pending audio before closing.
		_ = conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		close(e.done)
		conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	e.wg.Wait()

	e.mu.Lock()
	e.conn = nil
	e.mu.Unlock()
	return nil
}

// StreamAudio sends the chunk and drains all tokens received so far.
func (e *Engine) StreamAudio(ctx context.Context, chunk []byte) ([]types.TranscriptToken, error) {
	e.mu.Lock()
	conn := e.conn
	connected := e.connected
	e.mu.Unlock()

	if !connected || conn == nil {
		return nil, asr.ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		return nil, fmt.Errorf("deepgram: write chunk: %w", err)
	}

	e.mu.Lock()
	tokens := e.buffer
	e.buffer = nil
	e.mu.Unlock()
	return tokens, nil
}

// HealthCheck reports whether the WebSocket is connected.
func (e *Engine) HealthCheck(_ context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Name returns "deepgram".
func (e *Engine) Name() string { return "deepgram" }

// buildURL constructs the streaming endpoint URL with audio parameters.
func (e *Engine) buildURL() (string, error) {
	u, err := url.Parse(e.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", e.model)
	q.Set("language", e.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(pcm.SampleRate))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop receives JSON messages and appends parsed tokens to the buffer
// until the connection closes.
func (e *Engine) readLoop() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		conn := e.conn
		e.mu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.Read(context.Background())
		if err != nil {
			e.mu.Lock()
			e.connected = false
			e.mu.Unlock()
			return
		}

		tok, ok := parseResponse(msg)
		if !ok {
			continue
		}

		e.mu.Lock()
		e.buffer = append(e.buffer, tok)
		e.mu.Unlock()
	}
}

// response is the JSON structure returned by Deepgram for a Results event.
type response struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Start   float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResponse parses a raw WebSocket message into a token. Returns
// (zero, false) for non-Results messages and empty transcripts.
func parseResponse(data []byte) (types.TranscriptToken, bool) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.TranscriptToken{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return types.TranscriptToken{}, false
	}
	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return types.TranscriptToken{}, false
	}

	words := make([]types.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, types.WordDetail{
			Word:       w.Word,
			StartMs:    int64(w.Start * 1000),
			EndMs:      int64(w.End * 1000),
			Confidence: w.Confidence,
		})
	}

	return types.TranscriptToken{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		StartMs:    int64(resp.Start * 1000),
		EndMs:      int64((resp.Start + resp.Duration) * 1000),
		Confidence: alt.Confidence,
		Words:      words,
	}, true
}
