// Package store is the PostgreSQL persistence layer for VoxSentinel:
// transcript segments with full-text search, alerts, stream and session
// bookkeeping, operator-managed keyword rules and channel configs, and the
// append-only audit anchor table.
//
// All operations share a single [pgxpool.Pool]. [Migrate] is idempotent and
// runs at startup.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Streams and sessions
// ─────────────────────────────────────────────────────────────────────────────

const ddlStreams = `
CREATE TABLE IF NOT EXISTS streams (
    stream_id           TEXT         PRIMARY KEY,
    name                TEXT         NOT NULL DEFAULT '',
    source_url          TEXT         NOT NULL,
    asr_primary         TEXT         NOT NULL DEFAULT '',
    asr_fallback        TEXT         NOT NULL DEFAULT '',
    vad_threshold       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    chunk_ms            INTEGER      NOT NULL DEFAULT 280,
    status              TEXT         NOT NULL DEFAULT 'stopped',
    current_session_id  TEXT         NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
    session_id     TEXT         PRIMARY KEY,
    stream_id      TEXT         NOT NULL REFERENCES streams (stream_id) ON DELETE CASCADE,
    started_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at       TIMESTAMPTZ,
    asr_backend    TEXT         NOT NULL DEFAULT '',
    segment_count  BIGINT       NOT NULL DEFAULT 0,
    alert_count    BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_stream_id
    ON sessions (stream_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// Transcript segments
// ─────────────────────────────────────────────────────────────────────────────

const ddlSegments = `
CREATE TABLE IF NOT EXISTS transcript_segments (
    segment_id      TEXT         PRIMARY KEY,
    session_id      TEXT         NOT NULL,
    stream_id       TEXT         NOT NULL,
    speaker_id      TEXT         NOT NULL DEFAULT '',
    start_time      DOUBLE PRECISION NOT NULL,
    end_time        DOUBLE PRECISION NOT NULL,
    text_redacted   TEXT         NOT NULL,
    text_original   TEXT         NOT NULL DEFAULT '',
    language        TEXT         NOT NULL DEFAULT '',
    asr_backend     TEXT         NOT NULL DEFAULT '',
    asr_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    sentiment_label TEXT         NOT NULL DEFAULT '',
    sentiment_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    pii_entities    JSONB        NOT NULL DEFAULT '[]',
    segment_hash    TEXT,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_segments_session_id
    ON transcript_segments (session_id);

CREATE INDEX IF NOT EXISTS idx_segments_stream_created
    ON transcript_segments (stream_id, created_at);

CREATE INDEX IF NOT EXISTS idx_segments_created_at
    ON transcript_segments (created_at);

CREATE INDEX IF NOT EXISTS idx_segments_fts
    ON transcript_segments USING GIN (to_tsvector('english', text_redacted));
`

// ─────────────────────────────────────────────────────────────────────────────
// Alerts
// ─────────────────────────────────────────────────────────────────────────────

const ddlAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    alert_id            TEXT         PRIMARY KEY,
    session_id          TEXT         NOT NULL DEFAULT '',
    stream_id           TEXT         NOT NULL,
    segment_id          TEXT         NOT NULL DEFAULT '',
    alert_type          TEXT         NOT NULL,
    severity            TEXT         NOT NULL,
    matched_rule        TEXT         NOT NULL DEFAULT '',
    match_type          TEXT         NOT NULL DEFAULT '',
    similarity_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
    matched_text        TEXT         NOT NULL DEFAULT '',
    surrounding_context TEXT         NOT NULL DEFAULT '',
    speaker_id          TEXT         NOT NULL DEFAULT '',
    delivered_to        JSONB        NOT NULL DEFAULT '[]',
    delivery_status     JSONB        NOT NULL DEFAULT '{}',
    deduplicated        BOOLEAN      NOT NULL DEFAULT false,
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_alerts_stream_created
    ON alerts (stream_id, created_at);

CREATE INDEX IF NOT EXISTS idx_alerts_severity
    ON alerts (severity);
`

// ─────────────────────────────────────────────────────────────────────────────
// Keyword rules and channel configs
// ─────────────────────────────────────────────────────────────────────────────

const ddlRules = `
CREATE TABLE IF NOT EXISTS keyword_rules (
    rule_id         TEXT         PRIMARY KEY,
    rule_set        TEXT         NOT NULL DEFAULT '',
    keyword         TEXT         NOT NULL,
    match_type      TEXT         NOT NULL,
    fuzzy_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
    severity        TEXT         NOT NULL DEFAULT 'high',
    category        TEXT         NOT NULL DEFAULT '',
    language        TEXT         NOT NULL DEFAULT '',
    enabled         BOOLEAN      NOT NULL DEFAULT true,
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alert_channel_configs (
    channel_id    TEXT         PRIMARY KEY,
    channel_type  TEXT         NOT NULL,
    config        JSONB        NOT NULL DEFAULT '{}',
    min_severity  TEXT         NOT NULL DEFAULT '',
    alert_types   JSONB        NOT NULL DEFAULT '[]',
    stream_ids    JSONB        NOT NULL DEFAULT '[]',
    enabled       BOOLEAN      NOT NULL DEFAULT true,
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ─────────────────────────────────────────────────────────────────────────────
// Audit anchors
// ─────────────────────────────────────────────────────────────────────────────

// audit_anchors is INSERT-only by contract: the application never issues
// UPDATE or DELETE against it, and deployments are expected to REVOKE those
// privileges from the application role:
//
//	REVOKE UPDATE, DELETE ON audit_anchors FROM voxsentinel_app;
const ddlAnchors = `
CREATE TABLE IF NOT EXISTS audit_anchors (
    anchor_id        BIGSERIAL    PRIMARY KEY,
    merkle_root      TEXT         NOT NULL,
    segment_count    INTEGER      NOT NULL,
    first_segment_id TEXT         NOT NULL,
    last_segment_id  TEXT         NOT NULL,
    anchored_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_anchors_anchored_at
    ON audit_anchors (anchored_at);
`

// Migrate creates all tables and indexes if they do not exist. Safe to run
// on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlStreams, ddlSegments, ddlAlerts, ddlRules, ddlAnchors} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}
