package database

import (
	"context"
	"database/sql"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS chat_users (
    id           TEXT PRIMARY KEY,
    username     VARCHAR(150) NOT NULL,
    display_name VARCHAR(150) NOT NULL DEFAULT '',
    role         VARCHAR(50) NOT NULL DEFAULT '',
    role_icon    TEXT NOT NULL DEFAULT '',
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chat_users_username ON chat_users (username);

CREATE TABLE IF NOT EXISTS chat_rooms (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name        VARCHAR(100) UNIQUE NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    last_seq    BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    room_id             UUID NOT NULL REFERENCES chat_rooms(id),
    author_id           TEXT NOT NULL REFERENCES chat_users(id),
    content             TEXT NOT NULL,
    parent_id           UUID REFERENCES chat_messages(id),
    depth               INT NOT NULL DEFAULT 0,
    seq                 BIGINT NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
    is_deleted          BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_by          TEXT REFERENCES chat_users(id),
    deleted_at          TIMESTAMPTZ,
    is_edited           BOOLEAN NOT NULL DEFAULT FALSE,
    edited_by           TEXT REFERENCES chat_users(id),
    edited_at           TIMESTAMPTZ,
    is_forwarded        BOOLEAN NOT NULL DEFAULT FALSE,
    original_message_id UUID REFERENCES chat_messages(id),
    is_pinned           BOOLEAN NOT NULL DEFAULT FALSE,
    pinned_by           TEXT REFERENCES chat_users(id),
    pinned_at           TIMESTAMPTZ,
    UNIQUE (room_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room_created ON chat_messages (room_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room_live_seq ON chat_messages (room_id, seq) WHERE NOT is_deleted;
CREATE INDEX IF NOT EXISTS idx_chat_messages_parent ON chat_messages (parent_id) WHERE parent_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS chat_reactions (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    message_id    UUID NOT NULL REFERENCES chat_messages(id),
    user_id       TEXT NOT NULL REFERENCES chat_users(id),
    reaction_type VARCHAR(10) NOT NULL CHECK (reaction_type IN ('like', 'dislike')),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (message_id, user_id)
);

CREATE TABLE IF NOT EXISTS chat_read_positions (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id         TEXT NOT NULL REFERENCES chat_users(id),
    room_id         UUID NOT NULL REFERENCES chat_rooms(id),
    last_read_at    TIMESTAMPTZ,
    last_message_id UUID REFERENCES chat_messages(id),
    last_read_seq   BIGINT NOT NULL DEFAULT 0,
    unread_count    INT NOT NULL DEFAULT 0,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, room_id)
);

CREATE TABLE IF NOT EXISTS chat_audit_log (
    id         BIGSERIAL PRIMARY KEY,
    actor_id   TEXT NOT NULL REFERENCES chat_users(id),
    action     VARCHAR(50) NOT NULL,
    message_id UUID REFERENCES chat_messages(id),
    detail     TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chat_audit_log_message ON chat_audit_log (message_id);
`

func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
