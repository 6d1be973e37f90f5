package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// slackContextLimit caps the quoted transcript context in a Slack message.
const slackContextLimit = 300

// SlackChannel posts alerts to a Slack incoming webhook using Block Kit:
// a header line, the quoted transcript context, and a context block with
// severity, match detail and the alert ID.
type SlackChannel struct {
	name   string
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewSlackChannel creates a Slack channel for the given incoming-webhook URL.
func NewSlackChannel(name, url string) *SlackChannel {
	return &SlackChannel{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		log:    slog.With("component", "alert_channel", "channel", name),
	}
}

// Name returns the configured channel name.
func (c *SlackChannel) Name() string { return c.name }

// Enabled reports whether a webhook URL is configured.
func (c *SlackChannel) Enabled() bool { return c.url != "" }

// Send posts the alert message and reports whether Slack accepted it. A
// non-nil error means the message never left the process.
func (c *SlackChannel) Send(ctx context.Context, a types.Alert) (bool, error) {
	body, err := json.Marshal(map[string]any{"blocks": buildBlocks(a)})
	if err != nil {
		c.log.Error("marshal slack message failed", "alert_id", a.AlertID, "error", err)
		return false, fmt.Errorf("alert: marshal slack message %s: %w", a.AlertID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		c.log.Error("build slack request failed", "error", err)
		return false, fmt.Errorf("alert: build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("slack delivery failed", "alert_id", a.AlertID, "error", err)
		return false, nil
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("slack rejected message", "alert_id", a.AlertID, "status", resp.StatusCode)
		return false, nil
	}
	return true, nil
}

// buildBlocks assembles the Block Kit payload for one alert.
func buildBlocks(a types.Alert) []map[string]any {
	header := fmt.Sprintf("%s alert on %s: %q", a.Severity, a.StreamID, a.MatchedRule)

	quoted := a.SurroundingContext
	if quoted == "" {
		quoted = a.MatchedText
	}
	if len(quoted) > slackContextLimit {
		quoted = quoted[:slackContextLimit] + "…"
	}

	match := string(a.AlertType)
	if a.MatchType != "" {
		match = fmt.Sprintf("%s (%.2f)", a.MatchType, a.SimilarityScore)
	}

	return []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": header, "emoji": true},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": "> " + quoted},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": "severity: *" + string(a.Severity) + "*"},
				{"type": "mrkdwn", "text": "match: " + match},
				{"type": "mrkdwn", "text": "alert: " + a.AlertID},
			},
		},
	}
}

// Close is a no-op.
func (c *SlackChannel) Close() error { return nil }
