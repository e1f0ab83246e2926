package store

import (
	"context"
	"fmt"

	"github.com/stardag/stardag/internal/registry/domain"
)

const userColumns = `id, external_id, email, COALESCE(display_name, ''), created_at`

// UpsertUserByExternalID creates a user on first sight of an OIDC subject and
// refreshes the email if the issuer reports a new one.
func (s *Store) UpsertUserByExternalID(ctx context.Context, id, externalID, email, displayName string) (domain.User, error) {
	query := `
INSERT INTO users (id, external_id, email, display_name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (external_id) DO UPDATE SET email = EXCLUDED.email
RETURNING ` + userColumns
	var user domain.User
	err := s.pool.QueryRow(ctx, query, id, externalID, email, displayName).Scan(
		&user.ID, &user.ExternalID, &user.Email, &user.DisplayName, &user.CreatedAt,
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", mapErr(err))
	}
	return user, nil
}

// GetUser fetches a user by internal id.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id).Scan(
		&user.ID, &user.ExternalID, &user.Email, &user.DisplayName, &user.CreatedAt,
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", mapErr(err))
	}
	return user, nil
}

// GetUserByEmail fetches a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email).Scan(
		&user.ID, &user.ExternalID, &user.Email, &user.DisplayName, &user.CreatedAt,
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", mapErr(err))
	}
	return user, nil
}
