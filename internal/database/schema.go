package database

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id               BIGSERIAL PRIMARY KEY,
	email            TEXT UNIQUE,
	telegram_chat_id TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tracked_items (
	id                  BIGSERIAL PRIMARY KEY,
	user_id             BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	marketplace         TEXT NOT NULL,
	article_id          TEXT NOT NULL,
	name                TEXT NOT NULL DEFAULT '',
	current_price       BIGINT NOT NULL DEFAULT 0 CHECK (current_price >= 0),
	previous_price      BIGINT NOT NULL DEFAULT 0,
	image_url           TEXT NOT NULL DEFAULT '',
	target_price        BIGINT,
	last_notified_price BIGINT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, marketplace, article_id)
);

CREATE INDEX IF NOT EXISTS idx_tracked_items_user ON tracked_items(user_id);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	target_stream  TEXT NOT NULL,
	status         TEXT NOT NULL,
	retry_count    INT NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_event_pending
	ON outbox_event(status, next_retry_at)
	WHERE status IN ('pending', 'failed');
`

// EnsureSchema creates the tables the tracker needs when they are missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
