package postgres

import "context"

// Schema holds the DDL for the oracle tables. oracle_quotes is declared
// partitioned by month on observed_at; operators attach partitions out of
// band, with a default partition so writes never fail in development.
const Schema = `
CREATE TABLE IF NOT EXISTS oracle_feeds (
	id                  UUID PRIMARY KEY,
	asset_id            TEXT NOT NULL,
	currency            TEXT NOT NULL,
	update_interval     TEXT NOT NULL,
	providers           JSONB NOT NULL,
	method              TEXT NOT NULL,
	deviation_threshold NUMERIC(20,8) NOT NULL,
	min_sources         INT NOT NULL DEFAULT 0,
	pause_threshold     INT NOT NULL DEFAULT 0,
	active              BOOLEAN NOT NULL DEFAULT TRUE,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	UNIQUE (asset_id, currency)
);

CREATE TABLE IF NOT EXISTS oracle_feed_schedules (
	feed_id              UUID PRIMARY KEY REFERENCES oracle_feeds(id) ON DELETE CASCADE,
	next_update_at       TIMESTAMPTZ NOT NULL,
	last_update_at       TIMESTAMPTZ,
	consecutive_failures INT NOT NULL DEFAULT 0,
	is_paused            BOOLEAN NOT NULL DEFAULT FALSE,
	running              BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS oracle_quotes (
	id          UUID NOT NULL,
	asset_id    TEXT NOT NULL,
	currency    TEXT NOT NULL,
	price       NUMERIC(30,8) NOT NULL,
	volume      NUMERIC(30,8) NOT NULL DEFAULT 0,
	confidence  DOUBLE PRECISION NOT NULL,
	source      TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (id, observed_at)
) PARTITION BY RANGE (observed_at);

CREATE TABLE IF NOT EXISTS oracle_quotes_default PARTITION OF oracle_quotes DEFAULT;

CREATE INDEX IF NOT EXISTS oracle_quotes_asset_idx
	ON oracle_quotes (asset_id, currency, observed_at DESC);

CREATE TABLE IF NOT EXISTS oracle_aggregates (
	id                 UUID PRIMARY KEY,
	asset_id           TEXT NOT NULL,
	currency           TEXT NOT NULL,
	price              NUMERIC(30,8) NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL,
	method             TEXT NOT NULL,
	source_count       INT NOT NULL,
	deviation_percent  NUMERIC(20,8) NOT NULL,
	outliers_removed   INT NOT NULL,
	flagged            BOOLEAN NOT NULL DEFAULT FALSE,
	processing_time_us BIGINT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS oracle_aggregates_asset_idx
	ON oracle_aggregates (asset_id, currency, created_at DESC);

CREATE TABLE IF NOT EXISTS oracle_subscriptions (
	id             UUID PRIMARY KEY,
	feed_id        UUID NOT NULL REFERENCES oracle_feeds(id) ON DELETE CASCADE,
	method         TEXT NOT NULL,
	endpoint       TEXT NOT NULL DEFAULT '',
	secret         TEXT NOT NULL DEFAULT '',
	filters        JSONB,
	max_retries    INT NOT NULL DEFAULT 0,
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	sent_count     INT NOT NULL DEFAULT 0,
	failed_count   INT NOT NULL DEFAULT 0,
	failure_streak INT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS oracle_notification_tasks (
	id              UUID PRIMARY KEY,
	subscription_id UUID NOT NULL,
	feed_id         UUID NOT NULL,
	type            TEXT NOT NULL,
	payload         JSONB,
	priority        INT NOT NULL,
	status          TEXT NOT NULL,
	retry_count     INT NOT NULL DEFAULT 0,
	max_retries     INT NOT NULL DEFAULT 0,
	retry_after     TIMESTAMPTZ,
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS oracle_notification_tasks_claim_idx
	ON oracle_notification_tasks (priority, created_at)
	WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS oracle_notification_history (
	id              UUID PRIMARY KEY,
	task_id         UUID NOT NULL,
	subscription_id UUID NOT NULL,
	attempt         INT NOT NULL,
	success         BOOLEAN NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	delivered_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS oracle_notification_history_task_idx
	ON oracle_notification_history (task_id, attempt);
`

// EnsureSchema creates the oracle tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}
