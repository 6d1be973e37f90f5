// Package apiclient talks to the control-plane REST API that owns stream
// registrations and keyword rules. The supervisor reconciles against its
// active-stream list and the rule reloader polls it for rule changes.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

const requestTimeout = 10 * time.Second

// errorBodyLimit caps how much of an error response lands in the message.
const errorBodyLimit = 512

// Client is a control-plane API client. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a client for the API rooted at baseURL
// (e.g. "http://control-plane:9000/api/v1"). token may be empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// ListStreams returns registered streams, optionally filtered by status.
func (c *Client) ListStreams(ctx context.Context, status types.StreamStatus) ([]types.Stream, error) {
	endpoint := c.baseURL + "/streams"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(string(status))
	}
	var streams []types.Stream
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &streams); err != nil {
		return nil, fmt.Errorf("apiclient: list streams: %w", err)
	}
	return streams, nil
}

// ListRules returns all keyword rules. Satisfies the rule reloader's source
// contract.
func (c *Client) ListRules(ctx context.Context) ([]types.KeywordRule, error) {
	var rules []types.KeywordRule
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/rules", nil, &rules); err != nil {
		return nil, fmt.Errorf("apiclient: list rules: %w", err)
	}
	return rules, nil
}

// UpdateStreamStatus reports a stream's lifecycle transition back to the
// control plane, including the session it opened or closed.
func (c *Client) UpdateStreamStatus(ctx context.Context, streamID string, status types.StreamStatus, sessionID string) error {
	body := map[string]string{
		"status":             string(status),
		"current_session_id": sessionID,
	}
	endpoint := c.baseURL + "/streams/" + url.PathEscape(streamID) + "/status"
	if err := c.do(ctx, http.MethodPut, endpoint, body, nil); err != nil {
		return fmt.Errorf("apiclient: update stream %s: %w", streamID, err)
	}
	return nil
}

// do runs one JSON request. A non-nil out decodes the response body into it.
func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
