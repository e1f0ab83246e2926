package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stardag/stardag/internal/registry/domain"
)

const targetRootColumns = `id, environment_id, name, uri, created_at`

func scanTargetRoot(row pgx.Row) (domain.TargetRoot, error) {
	var tr domain.TargetRoot
	err := row.Scan(&tr.ID, &tr.EnvironmentID, &tr.Name, &tr.URI, &tr.CreatedAt)
	return tr, err
}

// CreateTargetRoot inserts a named URI prefix for an environment.
func (s *Store) CreateTargetRoot(ctx context.Context, tr domain.TargetRoot) (domain.TargetRoot, error) {
	created, err := scanTargetRoot(s.pool.QueryRow(ctx, `
INSERT INTO target_roots (id, environment_id, name, uri)
VALUES ($1, $2, $3, $4)
RETURNING `+targetRootColumns, tr.ID, tr.EnvironmentID, tr.Name, tr.URI))
	if err != nil {
		return domain.TargetRoot{}, fmt.Errorf("create target root: %w", mapErr(err))
	}
	return created, nil
}

// ListTargetRoots returns the target roots of an environment.
func (s *Store) ListTargetRoots(ctx context.Context, environmentID string) ([]domain.TargetRoot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+targetRootColumns+` FROM target_roots WHERE environment_id = $1 ORDER BY name`,
		environmentID)
	if err != nil {
		return nil, fmt.Errorf("list target roots: %w", mapErr(err))
	}
	defer rows.Close()
	var out []domain.TargetRoot
	for rows.Next() {
		tr, err := scanTargetRoot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target root: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// UpdateTargetRoot changes the URI of a named root.
func (s *Store) UpdateTargetRoot(ctx context.Context, id, uri string) (domain.TargetRoot, error) {
	tr, err := scanTargetRoot(s.pool.QueryRow(ctx, `
UPDATE target_roots SET uri = $2 WHERE id = $1
RETURNING `+targetRootColumns, id, uri))
	if err != nil {
		return domain.TargetRoot{}, fmt.Errorf("update target root: %w", mapErr(err))
	}
	return tr, nil
}

// DeleteTargetRoot removes a target root.
func (s *Store) DeleteTargetRoot(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM target_roots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete target root: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
