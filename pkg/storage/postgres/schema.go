package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

type migration struct {
	version int
	name    string
	sql     string
}

// migrations are applied in order, each inside its own transaction.
var migrations = []migration{
	{1, "accounts", `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	full_name     TEXT NOT NULL DEFAULT '',
	avatar_url    TEXT NOT NULL DEFAULT '',
	github_login  TEXT NOT NULL DEFAULT '',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	is_staff      BOOLEAN NOT NULL DEFAULT FALSE,
	is_superuser  BOOLEAN NOT NULL DEFAULT FALSE,
	date_joined   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_login    TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS users_username_uniq ON users (LOWER(username));

CREATE TABLE IF NOT EXISTS api_tokens (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	key_hash   TEXT NOT NULL UNIQUE,
	prefix     TEXT NOT NULL,
	created    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_used  TIMESTAMPTZ,
	expires_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS notification_preferences (
	user_id     BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	preferences JSONB NOT NULL DEFAULT '{}'
);
`},
	{2, "namespaces", `
CREATE TABLE IF NOT EXISTS namespaces (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	company     TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	avatar_url  TEXT NOT NULL DEFAULT '',
	location    TEXT NOT NULL DEFAULT '',
	html_url    TEXT NOT NULL DEFAULT '',
	is_vendor   BOOLEAN NOT NULL DEFAULT FALSE,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	created     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	modified    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS namespaces_name_uniq ON namespaces (LOWER(name));

CREATE TABLE IF NOT EXISTS namespace_owners (
	namespace_id BIGINT NOT NULL REFERENCES namespaces(id) ON DELETE CASCADE,
	user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (namespace_id, user_id)
);

CREATE TABLE IF NOT EXISTS providers (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	active      BOOLEAN NOT NULL DEFAULT TRUE
);
INSERT INTO providers (name, description) VALUES ('GitHub', 'Public GitHub') ON CONFLICT (name) DO NOTHING;

CREATE TABLE IF NOT EXISTS provider_namespaces (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	provider_id  BIGINT NOT NULL REFERENCES providers(id),
	namespace_id BIGINT REFERENCES namespaces(id) ON DELETE SET NULL,
	description  TEXT NOT NULL DEFAULT '',
	company      TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	avatar_url   TEXT NOT NULL DEFAULT '',
	html_url     TEXT NOT NULL DEFAULT '',
	followers    INTEGER NOT NULL DEFAULT 0,
	created      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	modified     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS provider_namespaces_uniq ON provider_namespaces (provider_id, LOWER(name));
`},
	{3, "repositories", `
CREATE TABLE IF NOT EXISTS repositories (
	id                     BIGSERIAL PRIMARY KEY,
	provider_namespace_id  BIGINT NOT NULL REFERENCES provider_namespaces(id) ON DELETE RESTRICT,
	name                   TEXT NOT NULL,
	original_name          TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	format                 TEXT NOT NULL DEFAULT 'role',
	import_branch          TEXT NOT NULL DEFAULT '',
	commit_hash            TEXT NOT NULL DEFAULT '',
	commit_message         TEXT NOT NULL DEFAULT '',
	commit_url             TEXT NOT NULL DEFAULT '',
	commit_created         TIMESTAMPTZ,
	stargazers_count       INTEGER NOT NULL DEFAULT 0,
	watchers_count         INTEGER NOT NULL DEFAULT 0,
	forks_count            INTEGER NOT NULL DEFAULT 0,
	open_issues_count      INTEGER NOT NULL DEFAULT 0,
	download_count         BIGINT NOT NULL DEFAULT 0,
	quality_score          DOUBLE PRECISION,
	community_score        DOUBLE PRECISION,
	community_survey_count INTEGER NOT NULL DEFAULT 0,
	deprecated             BOOLEAN NOT NULL DEFAULT FALSE,
	is_enabled             BOOLEAN NOT NULL DEFAULT TRUE,
	readme                 TEXT NOT NULL DEFAULT '',
	readme_type            TEXT NOT NULL DEFAULT '',
	created                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	modified               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS repositories_uniq ON repositories (provider_namespace_id, LOWER(name));

CREATE TABLE IF NOT EXISTS repository_owners (
	repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	user_id       BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (repository_id, user_id)
);

CREATE TABLE IF NOT EXISTS repository_versions (
	id            BIGSERIAL PRIMARY KEY,
	repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	version       TEXT NOT NULL,
	tag           TEXT NOT NULL,
	commit_sha    TEXT NOT NULL DEFAULT '',
	commit_date   TIMESTAMPTZ,
	UNIQUE (repository_id, version)
);

CREATE TABLE IF NOT EXISTS content_types (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS content (
	id                  BIGSERIAL PRIMARY KEY,
	repository_id       BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	namespace_id        BIGINT REFERENCES namespaces(id) ON DELETE SET NULL,
	content_type_id     BIGINT NOT NULL REFERENCES content_types(id),
	name                TEXT NOT NULL,
	original_name       TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	author              TEXT NOT NULL DEFAULT '',
	company             TEXT NOT NULL DEFAULT '',
	license             TEXT NOT NULL DEFAULT '',
	min_ansible_version TEXT NOT NULL DEFAULT '',
	platforms           JSONB NOT NULL DEFAULT '[]',
	cloud_platforms     TEXT[] NOT NULL DEFAULT '{}',
	tags                TEXT[] NOT NULL DEFAULT '{}',
	dependencies        TEXT[] NOT NULL DEFAULT '{}',
	quality_score       DOUBLE PRECISION,
	metadata_score      DOUBLE PRECISION,
	compatibility_score DOUBLE PRECISION,
	content_score       DOUBLE PRECISION,
	deprecated          BOOLEAN NOT NULL DEFAULT FALSE,
	search_vector       TSVECTOR,
	created             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	modified            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (repository_id, content_type_id, name)
);
CREATE INDEX IF NOT EXISTS content_search_idx ON content USING GIN (search_vector);
CREATE INDEX IF NOT EXISTS content_tags_idx ON content USING GIN (tags);
`},
	{4, "collections", `
CREATE TABLE IF NOT EXISTS collections (
	id                     BIGSERIAL PRIMARY KEY,
	namespace_id           BIGINT NOT NULL REFERENCES namespaces(id) ON DELETE RESTRICT,
	name                   TEXT NOT NULL,
	deprecated             BOOLEAN NOT NULL DEFAULT FALSE,
	download_count         BIGINT NOT NULL DEFAULT 0,
	community_score        DOUBLE PRECISION,
	community_survey_count INTEGER NOT NULL DEFAULT 0,
	latest_version_id      BIGINT,
	tags                   TEXT[] NOT NULL DEFAULT '{}',
	search_vector          TSVECTOR,
	created                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	modified               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS collections_uniq ON collections (namespace_id, LOWER(name));
CREATE INDEX IF NOT EXISTS collections_search_idx ON collections USING GIN (search_vector);

CREATE TABLE IF NOT EXISTS collection_versions (
	id                BIGSERIAL PRIMARY KEY,
	collection_id     BIGINT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	version           TEXT NOT NULL,
	hidden            BOOLEAN NOT NULL DEFAULT FALSE,
	metadata          JSONB NOT NULL DEFAULT '{}',
	contents          JSONB NOT NULL DEFAULT '[]',
	quality_score     DOUBLE PRECISION,
	artifact_filename TEXT NOT NULL,
	artifact_sha256   TEXT NOT NULL,
	artifact_size     BIGINT NOT NULL DEFAULT 0,
	import_task_id    BIGINT,
	created           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (collection_id, version)
);
`},
	{5, "imports_surveys_notifications", `
CREATE TABLE IF NOT EXISTS import_tasks (
	id                    BIGSERIAL PRIMARY KEY,
	type                  TEXT NOT NULL,
	state                 TEXT NOT NULL DEFAULT 'PENDING',
	owner_id              BIGINT NOT NULL REFERENCES users(id),
	repository_id         BIGINT REFERENCES repositories(id) ON DELETE SET NULL,
	namespace_id          BIGINT REFERENCES namespaces(id) ON DELETE SET NULL,
	collection_version_id BIGINT REFERENCES collection_versions(id) ON DELETE SET NULL,
	github_user           TEXT NOT NULL DEFAULT '',
	github_repo           TEXT NOT NULL DEFAULT '',
	github_reference      TEXT NOT NULL DEFAULT '',
	alternate_role_name   TEXT NOT NULL DEFAULT '',
	artifact_key          TEXT NOT NULL DEFAULT '',
	commit_sha            TEXT NOT NULL DEFAULT '',
	commit_message        TEXT NOT NULL DEFAULT '',
	import_branch         TEXT NOT NULL DEFAULT '',
	error                 TEXT NOT NULL DEFAULT '',
	messages              JSONB NOT NULL DEFAULT '[]',
	warning_count         INTEGER NOT NULL DEFAULT 0,
	error_count           INTEGER NOT NULL DEFAULT 0,
	created               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started               TIMESTAMPTZ,
	finished              TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS import_tasks_state_idx ON import_tasks (state, started);

CREATE TABLE IF NOT EXISTS surveys (
	id                 BIGSERIAL PRIMARY KEY,
	user_id            BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	kind               TEXT NOT NULL,
	object_id          BIGINT NOT NULL,
	docs               SMALLINT,
	ease_of_use        SMALLINT,
	does_what_it_says  SMALLINT,
	works_as_is        SMALLINT,
	used_in_production SMALLINT,
	created            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	modified           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, kind, object_id)
);

CREATE TABLE IF NOT EXISTS notifications (
	id             BIGSERIAL PRIMARY KEY,
	user_id        BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	type           TEXT NOT NULL,
	message        TEXT NOT NULL,
	repository_id  BIGINT,
	collection_id  BIGINT,
	import_task_id BIGINT,
	seen           BOOLEAN NOT NULL DEFAULT FALSE,
	created        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS notifications_user_idx ON notifications (user_id, seen, id DESC);
`},
	{6, "webhooks", `
CREATE TABLE IF NOT EXISTS webhooks (
	id          BIGSERIAL PRIMARY KEY,
	url         TEXT NOT NULL,
	secret      TEXT NOT NULL,
	events      TEXT NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	description TEXT NOT NULL DEFAULT '',
	created_by  BIGINT NOT NULL,
	created     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id           TEXT PRIMARY KEY,
	webhook_id   BIGINT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
	event        TEXT NOT NULL,
	status_code  INTEGER NOT NULL DEFAULT 0,
	success      BOOLEAN NOT NULL DEFAULT FALSE,
	attempt      INTEGER NOT NULL DEFAULT 1,
	error        TEXT NOT NULL DEFAULT '',
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	delivered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`},
	{7, "collection_version_artifact_key", `
ALTER TABLE collection_versions ADD COLUMN IF NOT EXISTS artifact_key TEXT NOT NULL DEFAULT '';
`},
}

// Migrate applies any migrations newer than the recorded schema version.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{"version": m.version, "name": m.name}).Info("applied schema migration")
	}

	for _, name := range models.KnownContentTypes {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO content_types (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
			return fmt.Errorf("failed to seed content type %s: %w", name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.version, err)
	}
	return tx.Commit()
}
