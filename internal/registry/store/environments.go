package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stardag/stardag/internal/registry/domain"
)

const environmentColumns = `id, workspace_id, slug, name, description, owner_user_id, max_concurrent_locks, created_at`

func scanEnvironment(row pgx.Row) (domain.Environment, error) {
	var env domain.Environment
	err := row.Scan(&env.ID, &env.WorkspaceID, &env.Slug, &env.Name, &env.Description,
		&env.OwnerUserID, &env.MaxConcurrentLocks, &env.CreatedAt)
	return env, err
}

// CreateEnvironment inserts a new environment.
func (s *Store) CreateEnvironment(ctx context.Context, env domain.Environment) (domain.Environment, error) {
	created, err := scanEnvironment(s.pool.QueryRow(ctx, `
INSERT INTO environments (id, workspace_id, slug, name, description, owner_user_id, max_concurrent_locks)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+environmentColumns,
		env.ID, env.WorkspaceID, env.Slug, env.Name, env.Description,
		env.OwnerUserID, env.MaxConcurrentLocks))
	if err != nil {
		return domain.Environment{}, fmt.Errorf("create environment: %w", mapErr(err))
	}
	return created, nil
}

// GetEnvironment fetches an environment by id.
func (s *Store) GetEnvironment(ctx context.Context, id string) (domain.Environment, error) {
	env, err := scanEnvironment(s.pool.QueryRow(ctx,
		`SELECT `+environmentColumns+` FROM environments WHERE id = $1`, id))
	if err != nil {
		return domain.Environment{}, fmt.Errorf("get environment: %w", mapErr(err))
	}
	return env, nil
}

// ListEnvironments returns all environments in a workspace.
func (s *Store) ListEnvironments(ctx context.Context, workspaceID string) ([]domain.Environment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+environmentColumns+` FROM environments WHERE workspace_id = $1 ORDER BY created_at`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", mapErr(err))
	}
	defer rows.Close()
	var out []domain.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

// CountEnvironments counts environments in a workspace. Used to guard the
// last-environment invariant before a delete.
func (s *Store) CountEnvironments(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM environments WHERE workspace_id = $1`, workspaceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count environments: %w", err)
	}
	return n, nil
}

// DeleteEnvironment removes an environment.
func (s *Store) DeleteEnvironment(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM environments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete environment: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
