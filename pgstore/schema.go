package pgstore

import (
	"context"
	"database/sql"
)

// Schema creates the tables used by the stores. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	uid               TEXT PRIMARY KEY,
	email             TEXT NOT NULL UNIQUE,
	password_digest   TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT 'pending',
	role              TEXT NOT NULL DEFAULT 'member',
	level             INTEGER NOT NULL DEFAULT 0,
	language          TEXT NOT NULL DEFAULT 'en',
	otp               BOOLEAN NOT NULL DEFAULT FALSE,
	phone_verified_at TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS codes (
	id                     UUID PRIMARY KEY,
	user_id                TEXT NOT NULL,
	code_type              TEXT NOT NULL,
	category               TEXT NOT NULL,
	code                   TEXT NOT NULL DEFAULT '',
	attempt_count          INTEGER NOT NULL DEFAULT 0,
	validated_at           TIMESTAMPTZ,
	expired_at             TIMESTAMPTZ NOT NULL,
	email_encrypted        TEXT NOT NULL DEFAULT '',
	email_index            TEXT NOT NULL DEFAULT '',
	phone_number_encrypted TEXT NOT NULL DEFAULT '',
	phone_number_index     TEXT NOT NULL DEFAULT '',
	data                   JSONB,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL,
	version                BIGINT NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS codes_pending_idx
	ON codes (user_id, code_type, category, created_at DESC)
	WHERE validated_at IS NULL;

CREATE TABLE IF NOT EXISTS phones (
	user_id          TEXT PRIMARY KEY,
	number_encrypted TEXT NOT NULL,
	number_index     TEXT NOT NULL,
	code_id          UUID,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS phones_number_index_idx ON phones (number_index);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return classify(err)
}
