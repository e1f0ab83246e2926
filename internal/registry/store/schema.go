package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schemaStatements creates every table and index the registry relies on.
// EnsureSchema is the development path; production deployments run the same
// DDL through their migration tooling.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		slug        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id           TEXT PRIMARY KEY,
		external_id  TEXT NOT NULL UNIQUE,
		email        TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS organization_members (
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		user_id         TEXT NOT NULL REFERENCES users(id),
		role            TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (organization_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS invites (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		email           TEXT NOT NULL,
		role            TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		invited_by      TEXT NOT NULL REFERENCES users(id),
		expires_at      TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS invites_pending_unique
		ON invites (organization_id, email) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS workspaces (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		slug            TEXT NOT NULL,
		name            TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (organization_id, slug)
	)`,
	`CREATE TABLE IF NOT EXISTS environments (
		id                   TEXT PRIMARY KEY,
		workspace_id         TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		slug                 TEXT NOT NULL,
		name                 TEXT NOT NULL,
		description          TEXT NOT NULL DEFAULT '',
		owner_user_id        TEXT REFERENCES users(id),
		max_concurrent_locks INT,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (workspace_id, slug)
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id             TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
		name           TEXT NOT NULL,
		key_prefix     TEXT NOT NULL,
		key_hash       TEXT NOT NULL,
		created_by     TEXT REFERENCES users(id),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_used_at   TIMESTAMPTZ,
		revoked_at     TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS api_keys_prefix_idx ON api_keys (key_prefix)`,
	`CREATE TABLE IF NOT EXISTS target_roots (
		id             TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
		name           TEXT NOT NULL,
		uri            TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (environment_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS builds (
		id             TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
		user_id        TEXT REFERENCES users(id),
		name           TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		commit_hash    TEXT NOT NULL DEFAULT '',
		root_task_ids  TEXT[] NOT NULL DEFAULT '{}',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS builds_env_created_idx ON builds (environment_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		pk             BIGSERIAL PRIMARY KEY,
		task_id        TEXT NOT NULL,
		environment_id TEXT NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
		namespace      TEXT NOT NULL,
		name           TEXT NOT NULL,
		params         JSONB NOT NULL DEFAULT '{}',
		version        TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (environment_id, task_id)
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_env_created_idx ON tasks (environment_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS task_dependencies (
		upstream_pk   BIGINT NOT NULL REFERENCES tasks(pk) ON DELETE CASCADE,
		downstream_pk BIGINT NOT NULL REFERENCES tasks(pk) ON DELETE CASCADE,
		PRIMARY KEY (upstream_pk, downstream_pk)
	)`,
	`CREATE INDEX IF NOT EXISTS task_dependencies_downstream_idx ON task_dependencies (downstream_pk)`,
	`CREATE TABLE IF NOT EXISTS events (
		id            TEXT PRIMARY KEY,
		build_id      TEXT NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
		task_pk       BIGINT REFERENCES tasks(pk) ON DELETE CASCADE,
		event_type    TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		error_message TEXT NOT NULL DEFAULT '',
		metadata      JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS events_build_created_idx ON events (build_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS events_build_task_type_idx ON events (build_id, task_pk, event_type)`,
	`CREATE INDEX IF NOT EXISTS events_task_type_idx ON events (task_pk, event_type)`,
	`CREATE TABLE IF NOT EXISTS distributed_locks (
		name           TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
		owner_id       TEXT NOT NULL,
		acquired_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at     TIMESTAMPTZ NOT NULL,
		version        BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS distributed_locks_env_expiry_idx ON distributed_locks (environment_id, expires_at)`,
	`CREATE TABLE IF NOT EXISTS task_registry_assets (
		id         TEXT PRIMARY KEY,
		task_pk    BIGINT NOT NULL REFERENCES tasks(pk) ON DELETE CASCADE,
		asset_type TEXT NOT NULL,
		name       TEXT NOT NULL,
		body       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS task_registry_assets_task_idx ON task_registry_assets (task_pk)`,
}

// EnsureSchema creates all tables and indexes if they do not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Fixed identifiers for the development seed so local SDK runs work without
// any registration step.
const (
	SeedOrganizationID = "00000000-0000-0000-0000-000000000001"
	SeedUserID         = "00000000-0000-0000-0000-000000000002"
	SeedWorkspaceID    = "00000000-0000-0000-0000-000000000003"
	SeedEnvironmentID  = "00000000-0000-0000-0000-000000000004"
)

// Seed inserts the default organization, user, membership, workspace, and
// environment. It is idempotent.
func (s *Store) Seed(ctx context.Context) error {
	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO organizations (id, name, slug, description)
			VALUES ($1, 'Default Organization', 'default', 'seeded for local development')
			ON CONFLICT (id) DO NOTHING`, []any{SeedOrganizationID}},
		{`INSERT INTO users (id, external_id, email, display_name)
			VALUES ($1, 'seed:dev', 'dev@localhost', 'Local Developer')
			ON CONFLICT (id) DO NOTHING`, []any{SeedUserID}},
		{`INSERT INTO organization_members (organization_id, user_id, role)
			VALUES ($1, $2, 'owner')
			ON CONFLICT (organization_id, user_id) DO NOTHING`, []any{SeedOrganizationID, SeedUserID}},
		{`INSERT INTO workspaces (id, organization_id, slug, name)
			VALUES ($1, $2, 'default', 'Default Workspace')
			ON CONFLICT (id) DO NOTHING`, []any{SeedWorkspaceID, SeedOrganizationID}},
		{`INSERT INTO environments (id, workspace_id, slug, name)
			VALUES ($1, $2, 'default', 'Default Environment')
			ON CONFLICT (id) DO NOTHING`, []any{SeedEnvironmentID, SeedWorkspaceID}},
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt.sql, stmt.args...); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
		}
		return nil
	})
}
