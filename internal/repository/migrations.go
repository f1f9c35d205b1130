package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS mailbox_credentials (
    user_id          BIGINT PRIMARY KEY,
    address          TEXT NOT NULL,
    encrypted_secret TEXT NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS outbox_entries (
    id              BIGSERIAL PRIMARY KEY,
    user_id         BIGINT NOT NULL,
    from_addr       TEXT NOT NULL,
    to_addrs        TEXT[] NOT NULL DEFAULT '{}',
    cc_addrs        TEXT[] NOT NULL DEFAULT '{}',
    bcc_addrs       TEXT[] NOT NULL DEFAULT '{}',
    subject         TEXT NOT NULL DEFAULT '',
    html_body       TEXT NOT NULL DEFAULT '',
    text_body       TEXT NOT NULL DEFAULT '',
    send_at         TIMESTAMPTZ NOT NULL,
    status          TEXT NOT NULL DEFAULT 'PENDING',
    attempts        INT NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    sent_message_id BIGINT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_outbox_due
    ON outbox_entries (send_at) WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS idx_outbox_user
    ON outbox_entries (user_id);

CREATE TABLE IF NOT EXISTS mirrored_messages (
    id                BIGSERIAL PRIMARY KEY,
    user_id           BIGINT NOT NULL,
    global_message_id TEXT NOT NULL,
    folder            TEXT NOT NULL,
    uid               BIGINT NOT NULL DEFAULT 0,
    from_addr         TEXT NOT NULL DEFAULT '',
    to_addrs          TEXT[] NOT NULL DEFAULT '{}',
    cc_addrs          TEXT[] NOT NULL DEFAULT '{}',
    bcc_addrs         TEXT[] NOT NULL DEFAULT '{}',
    subject           TEXT NOT NULL DEFAULT '',
    html_body         TEXT NOT NULL DEFAULT '',
    text_body         TEXT NOT NULL DEFAULT '',
    snippet           TEXT NOT NULL DEFAULT '',
    is_read           BOOLEAN NOT NULL DEFAULT FALSE,
    is_starred        BOOLEAN NOT NULL DEFAULT FALSE,
    has_attachments   BOOLEAN NOT NULL DEFAULT FALSE,
    sent_at           TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, global_message_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_folder
    ON mirrored_messages (user_id, folder);

CREATE TABLE IF NOT EXISTS attachments (
    id          BIGSERIAL PRIMARY KEY,
    message_id  BIGINT NOT NULL REFERENCES mirrored_messages(id) ON DELETE CASCADE,
    filename    TEXT NOT NULL DEFAULT '',
    mime_type   TEXT NOT NULL DEFAULT '',
    size        BIGINT NOT NULL DEFAULT 0,
    content_ref TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_attachments_message
    ON attachments (message_id);
`

// EnsureSchema creates the tables the repositories expect.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
