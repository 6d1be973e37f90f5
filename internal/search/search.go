// Package search pushes redacted transcript segments into an external
// full-text index (Elasticsearch/OpenSearch compatible). Only the redacted
// text leaves the database; the original transcript is never indexed.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

const (
	// indexName is the single index all segments land in.
	indexName = "transcripts"

	requestTimeout = 10 * time.Second
)

// segmentDoc is the indexed projection of a TranscriptSegment.
type segmentDoc struct {
	SegmentID      string    `json:"segment_id"`
	SessionID      string    `json:"session_id"`
	StreamID       string    `json:"stream_id"`
	SpeakerID      string    `json:"speaker_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Text           string    `json:"text"`
	SentimentLabel string    `json:"sentiment_label,omitempty"`
	Language       string    `json:"language,omitempty"`
}

// indexMapping declares field types so the backend does not guess. Text is
// the only analyzed field; everything else is exact-match metadata.
const indexMapping = `{
	"mappings": {
		"properties": {
			"segment_id":      {"type": "keyword"},
			"session_id":      {"type": "keyword"},
			"stream_id":       {"type": "keyword"},
			"speaker_id":      {"type": "keyword"},
			"timestamp":       {"type": "date"},
			"text":            {"type": "text"},
			"sentiment_label": {"type": "keyword"},
			"language":        {"type": "keyword"}
		}
	}
}`

// Client indexes segments over the backend's document HTTP API. A nil Client
// is not usable; construct with [NewClient].
type Client struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewClient creates a search client for the backend at baseURL
// (e.g. "http://search:9200").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
		log:     slog.With("component", "search"),
	}
}

// EnsureIndex creates the transcripts index with its mapping. An index that
// already exists is not an error.
func (c *Client) EnsureIndex(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/"+indexName, strings.NewReader(indexMapping))
	if err != nil {
		return fmt.Errorf("search: build index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("search: create index: %w", err)
	}
	defer drain(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.log.Info("search index ready", "index", indexName)
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		// Backends report an existing index as a 400 with
		// resource_already_exists_exception.
		return nil
	default:
		return fmt.Errorf("search: create index: status %d", resp.StatusCode)
	}
}

// IndexSegment writes one segment document, keyed by segment ID so re-indexing
// is idempotent. Only the redacted text is sent.
func (c *Client) IndexSegment(ctx context.Context, seg types.TranscriptSegment) error {
	doc := segmentDoc{
		SegmentID:      seg.SegmentID,
		SessionID:      seg.SessionID,
		StreamID:       seg.StreamID,
		SpeakerID:      seg.SpeakerID,
		Timestamp:      seg.CreatedAt,
		Text:           seg.TextRedacted,
		SentimentLabel: seg.SentimentLabel,
		Language:       seg.Language,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("search: marshal doc: %w", err)
	}

	endpoint := c.baseURL + "/" + indexName + "/_doc/" + url.PathEscape(seg.SegmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("search: build doc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("search: index %s: %w", seg.SegmentID, err)
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("search: index %s: status %d", seg.SegmentID, resp.StatusCode)
	}
	return nil
}

// drain empties and closes the response body so the connection is reusable.
func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
