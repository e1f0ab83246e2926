package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stardag/stardag/internal/registry/domain"
)

const apiKeyColumns = `id, environment_id, name, key_prefix, key_hash, created_by, created_at, last_used_at, revoked_at`

func scanAPIKey(row pgx.Row) (domain.APIKey, error) {
	var key domain.APIKey
	err := row.Scan(&key.ID, &key.EnvironmentID, &key.Name, &key.KeyPrefix, &key.KeyHash,
		&key.CreatedBy, &key.CreatedAt, &key.LastUsedAt, &key.RevokedAt)
	return key, err
}

// InsertAPIKey stores a new key record. The caller has already hashed the
// secret; the plaintext never reaches the store.
func (s *Store) InsertAPIKey(ctx context.Context, key domain.APIKey) (domain.APIKey, error) {
	created, err := scanAPIKey(s.pool.QueryRow(ctx, `
INSERT INTO api_keys (id, environment_id, name, key_prefix, key_hash, created_by)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+apiKeyColumns,
		key.ID, key.EnvironmentID, key.Name, key.KeyPrefix, key.KeyHash, key.CreatedBy))
	if err != nil {
		return domain.APIKey{}, fmt.Errorf("insert api key: %w", mapErr(err))
	}
	return created, nil
}

// ListAPIKeys returns all keys of an environment, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, environmentID string) ([]domain.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE environment_id = $1 ORDER BY created_at DESC`,
		environmentID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", mapErr(err))
	}
	defer rows.Close()
	var out []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// FindActiveAPIKeysByPrefix returns unrevoked candidate keys sharing a
// prefix. The prefix is not unique; the caller compares hashes.
func (s *Store) FindActiveAPIKeysByPrefix(ctx context.Context, prefix string) ([]domain.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("find api keys by prefix: %w", mapErr(err))
	}
	defer rows.Close()
	var out []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// TouchAPIKey records key usage.
func (s *Store) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// RevokeAPIKey marks a key revoked. Revoking an already revoked key is a
// no-op conflict.
func (s *Store) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
