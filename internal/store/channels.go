package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// ListChannelConfigs returns the enabled operator-configured delivery
// channels.
func (s *Store) ListChannelConfigs(ctx context.Context) ([]types.AlertChannelConfig, error) {
	const q = `
		SELECT channel_id, channel_type, config, min_severity,
		       alert_types, stream_ids, enabled
		FROM   alert_channel_configs
		WHERE  enabled
		ORDER  BY channel_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list channel configs: %w", err)
	}
	cfgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AlertChannelConfig, error) {
		var c types.AlertChannelConfig
		err := row.Scan(
			&c.ChannelID, &c.ChannelType, &c.Config, &c.MinSeverity,
			&c.AlertTypes, &c.StreamIDs, &c.Enabled,
		)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: list channel configs: %w", err)
	}
	return cfgs, nil
}

// UpsertChannelConfig inserts or updates one delivery channel config.
func (s *Store) UpsertChannelConfig(ctx context.Context, c types.AlertChannelConfig) error {
	const q = `
		INSERT INTO alert_channel_configs
		    (channel_id, channel_type, config, min_severity, alert_types,
		     stream_ids, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (channel_id) DO UPDATE SET
		    channel_type = EXCLUDED.channel_type,
		    config       = EXCLUDED.config,
		    min_severity = EXCLUDED.min_severity,
		    alert_types  = EXCLUDED.alert_types,
		    stream_ids   = EXCLUDED.stream_ids,
		    enabled      = EXCLUDED.enabled,
		    updated_at   = now()`

	alertTypes := c.AlertTypes
	if alertTypes == nil {
		alertTypes = []types.AlertType{}
	}
	streamIDs := c.StreamIDs
	if streamIDs == nil {
		streamIDs = []string{}
	}
	cfg := c.Config
	if cfg == nil {
		cfg = map[string]any{}
	}

	_, err := s.pool.Exec(ctx, q,
		c.ChannelID, c.ChannelType, cfg, c.MinSeverity,
		alertTypes, streamIDs, c.Enabled,
	)
	if err != nil {
		return fmt.Errorf("store: upsert channel config: %w", err)
	}
	return nil
}
