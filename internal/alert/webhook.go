package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// webhookTimeout bounds one delivery attempt including retries.
const webhookTimeout = 10 * time.Second

// webhookSendRetries is the number of in-send retries after the first
// attempt fails.
const webhookSendRetries = 3

// WebhookChannel POSTs each alert as JSON to a configured URL. Transient
// failures are retried in-send with exponential backoff before the channel
// reports the delivery as failed.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
	log     *slog.Logger
}

// NewWebhookChannel creates a webhook channel. headers are added to every
// request, typically for authentication.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: webhookTimeout},
		log:     slog.With("component", "alert_channel", "channel", name),
	}
}

// Name returns the configured channel name.
func (c *WebhookChannel) Name() string { return c.name }

// Enabled reports whether a destination URL is configured.
func (c *WebhookChannel) Enabled() bool { return c.url != "" }

// Send posts the alert and reports whether the endpoint accepted it. A
// non-nil error means the alert never left the process.
func (c *WebhookChannel) Send(ctx context.Context, a types.Alert) (bool, error) {
	body, err := json.Marshal(a)
	if err != nil {
		c.log.Error("marshal alert failed", "alert_id", a.AlertID, "error", err)
		return false, fmt.Errorf("alert: marshal %s: %w", a.AlertID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	op := func() error {
		return c.post(ctx, body)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), webhookSendRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		c.log.Warn("webhook delivery failed", "alert_id", a.AlertID, "error", err)
		return false, nil
	}
	return true, nil
}

func (c *WebhookChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the channel holds no persistent connections.
func (c *WebhookChannel) Close() error { return nil }
