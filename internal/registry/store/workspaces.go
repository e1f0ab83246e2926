package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stardag/stardag/internal/registry/domain"
)

const workspaceColumns = `id, organization_id, slug, name, description, created_at`

func scanWorkspace(row pgx.Row) (domain.Workspace, error) {
	var ws domain.Workspace
	err := row.Scan(&ws.ID, &ws.OrganizationID, &ws.Slug, &ws.Name, &ws.Description, &ws.CreatedAt)
	return ws, err
}

// CreateWorkspace inserts the workspace and its initial environment in one
// transaction, preserving the "a workspace has at least one environment"
// invariant from the first moment it exists.
func (s *Store) CreateWorkspace(ctx context.Context, ws domain.Workspace, initialEnv domain.Environment) (domain.Workspace, error) {
	var created domain.Workspace
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = scanWorkspace(tx.QueryRow(ctx, `
INSERT INTO workspaces (id, organization_id, slug, name, description)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+workspaceColumns,
			ws.ID, ws.OrganizationID, ws.Slug, ws.Name, ws.Description))
		if err != nil {
			return fmt.Errorf("insert workspace: %w", mapErr(err))
		}
		_, err = tx.Exec(ctx, `
INSERT INTO environments (id, workspace_id, slug, name, description, owner_user_id, max_concurrent_locks)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			initialEnv.ID, created.ID, initialEnv.Slug, initialEnv.Name,
			initialEnv.Description, initialEnv.OwnerUserID, initialEnv.MaxConcurrentLocks)
		if err != nil {
			return fmt.Errorf("insert initial environment: %w", mapErr(err))
		}
		return nil
	})
	if err != nil {
		return domain.Workspace{}, err
	}
	return created, nil
}

// GetWorkspace fetches a workspace by id.
func (s *Store) GetWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	ws, err := scanWorkspace(s.pool.QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id))
	if err != nil {
		return domain.Workspace{}, fmt.Errorf("get workspace: %w", mapErr(err))
	}
	return ws, nil
}

// UpdateWorkspace changes name and description.
func (s *Store) UpdateWorkspace(ctx context.Context, id, name, description string) (domain.Workspace, error) {
	ws, err := scanWorkspace(s.pool.QueryRow(ctx, `
UPDATE workspaces SET name = $2, description = $3 WHERE id = $1
RETURNING `+workspaceColumns, id, name, description))
	if err != nil {
		return domain.Workspace{}, fmt.Errorf("update workspace: %w", mapErr(err))
	}
	return ws, nil
}

// DeleteWorkspace removes the workspace; environments cascade.
func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// WorkspaceWithRole pairs a workspace with the caller's role in its
// organization, for the /ui/me listing.
type WorkspaceWithRole struct {
	Workspace domain.Workspace
	Role      domain.Role
}

// ListWorkspacesForUser returns every workspace whose organization the user
// belongs to, with the user's role.
func (s *Store) ListWorkspacesForUser(ctx context.Context, userID string) ([]WorkspaceWithRole, error) {
	rows, err := s.pool.Query(ctx, `
SELECT w.id, w.organization_id, w.slug, w.name, w.description, w.created_at, m.role
FROM workspaces w
JOIN organization_members m ON m.organization_id = w.organization_id
WHERE m.user_id = $1
ORDER BY w.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces for user: %w", mapErr(err))
	}
	defer rows.Close()
	var out []WorkspaceWithRole
	for rows.Next() {
		var wr WorkspaceWithRole
		if err := rows.Scan(&wr.Workspace.ID, &wr.Workspace.OrganizationID, &wr.Workspace.Slug,
			&wr.Workspace.Name, &wr.Workspace.Description, &wr.Workspace.CreatedAt, &wr.Role); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		out = append(out, wr)
	}
	return out, rows.Err()
}
