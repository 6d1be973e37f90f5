// Package alert turns match and sentiment events into alerts and fans them
// out to the configured delivery channels, with Redis-backed deduplication
// and per-stream throttling in front of the fan-out.
package alert

import (
	"context"
	"fmt"

	"github.com/Theesthan/VoxSentinel/internal/config"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// Channel delivers alerts to one destination. Send reports (true, nil) when
// the destination accepted the alert, (false, nil) when delivery was
// attempted and rejected or timed out, and (false, err) when the alert never
// left the process (a marshalling or request-construction error). The
// dispatcher records the distinction per channel in the alert's delivery
// status and retries both failure modes.
type Channel interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, a types.Alert) (bool, error)
	Close() error
}

// Route pairs a channel with its delivery filters.
type Route struct {
	Channel Channel

	// MinSeverity drops alerts ranking below it. Empty admits all.
	MinSeverity types.Severity

	// AlertTypes restricts delivery to these types. Empty admits all.
	AlertTypes []types.AlertType

	// StreamIDs restricts delivery to these streams. Empty admits all.
	StreamIDs []string
}

// Accepts reports whether a passes the route's filters.
func (r Route) Accepts(a types.Alert) bool {
	if r.MinSeverity != "" && a.Severity.Rank() < r.MinSeverity.Rank() {
		return false
	}
	if len(r.AlertTypes) > 0 {
		ok := false
		for _, t := range r.AlertTypes {
			if t == a.AlertType {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(r.StreamIDs) > 0 {
		ok := false
		for _, id := range r.StreamIDs {
			if id == a.StreamID {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// BuildRoutes constructs channels from static configuration. The websocket
// channel type binds to hub, which the caller also mounts on the admin mux;
// passing a nil hub with a websocket channel configured is an error.
func BuildRoutes(cfgs []config.ChannelConfig, hub *Hub) ([]Route, error) {
	var routes []Route
	for _, cfg := range cfgs {
		var ch Channel
		switch types.ChannelType(cfg.Type) {
		case types.ChannelWebhook:
			ch = NewWebhookChannel(cfg.Name, optString(cfg.Options, "url"), optHeaders(cfg.Options))
		case types.ChannelSlack:
			ch = NewSlackChannel(cfg.Name, optString(cfg.Options, "url"))
		case types.ChannelWebSocket:
			if hub == nil {
				return nil, fmt.Errorf("alert: channel %s: websocket hub not available", cfg.Name)
			}
			ch = hub
		default:
			return nil, fmt.Errorf("alert: channel %s: unsupported type %q", cfg.Name, cfg.Type)
		}
		route := Route{
			Channel:     ch,
			MinSeverity: types.Severity(cfg.MinSeverity),
			StreamIDs:   cfg.StreamIDs,
		}
		for _, t := range cfg.AlertTypes {
			route.AlertTypes = append(route.AlertTypes, types.AlertType(t))
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

func optHeaders(opts map[string]any) map[string]string {
	raw, ok := opts["headers"].(map[string]any)
	if !ok {
		return nil
	}
	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return headers
}
