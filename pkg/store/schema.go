package store

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'user',
	email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	password_hash TEXT NOT NULL DEFAULT '',
	preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS contexts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	last_used TIMESTAMPTZ NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT FALSE,
	settings JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS contexts_owner_idx ON contexts (user_id);
CREATE INDEX IF NOT EXISTS contexts_owner_active_idx ON contexts (user_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS categories (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS activities (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	duration TEXT NOT NULL DEFAULT '',
	participants INT NOT NULL DEFAULT 0,
	tags TEXT[] NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	type TEXT NOT NULL,
	is_starred BOOLEAN NOT NULL DEFAULT FALSE,
	occurred_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '',
	audio_url TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS activities_owner_idx ON activities (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS audit_events (
	id BIGSERIAL PRIMARY KEY,
	actor_hash TEXT NOT NULL,
	action TEXT NOT NULL,
	resource TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// Migrate applies the schema idempotently at boot.
func Migrate(ctx context.Context, p *Postgres) error {
	_, err := p.Pool.Exec(ctx, schema)
	return err
}
