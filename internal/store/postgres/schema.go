package postgres

import "context"

// Schema holds the DDL for all engine tables. Statements are idempotent so
// EnsureSchema can run on every startup.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_time TIMESTAMPTZ NOT NULL,
    attributes JSONB NOT NULL DEFAULT '{}',
    received_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_user_type_time
    ON events (user_id, event_type, event_time);

CREATE TABLE IF NOT EXISTS journeys (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_time TIMESTAMPTZ NOT NULL,
    attributes JSONB NOT NULL DEFAULT '{}',
    deadline TIMESTAMPTZ NOT NULL,
    resolved BOOLEAN NOT NULL DEFAULT FALSE,
    outcome TEXT NOT NULL DEFAULT '',
    resolved_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journeys_user_open
    ON journeys (user_id, event_type) WHERE resolved = FALSE;

CREATE INDEX IF NOT EXISTS idx_journeys_due
    ON journeys (deadline) WHERE resolved = FALSE;

CREATE TABLE IF NOT EXISTS experiments (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    cohort TEXT NOT NULL,
    timing TEXT NOT NULL,
    channel TEXT NOT NULL,
    lever TEXT NOT NULL,
    offer TEXT NOT NULL,
    tone TEXT NOT NULL,
    message TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    sent_at TIMESTAMPTZ,
    opened_at TIMESTAMPTZ,
    converted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_experiments_user_cohort
    ON experiments (user_id, cohort, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_experiments_user_status
    ON experiments (user_id, status, created_at DESC);

CREATE TABLE IF NOT EXISTS scheduled_sends (
    id UUID PRIMARY KEY,
    experiment_id UUID NOT NULL REFERENCES experiments (id),
    user_id TEXT NOT NULL,
    send_at TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    next_attempt_at TIMESTAMPTZ NOT NULL,
    delivered_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sends_due
    ON scheduled_sends (next_attempt_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS combo_stats (
    combo_key TEXT PRIMARY KEY,
    timing TEXT NOT NULL,
    channel TEXT NOT NULL,
    lever TEXT NOT NULL,
    offer TEXT NOT NULL,
    sent_count BIGINT NOT NULL DEFAULT 0,
    converted_count BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates any missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}
