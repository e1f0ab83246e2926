package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stardag/stardag/internal/registry/domain"
)

const inviteColumns = `id, organization_id, email, role, status, invited_by, expires_at, created_at`

func scanInvite(row pgx.Row) (domain.Invite, error) {
	var inv domain.Invite
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.Status,
		&inv.InvitedBy, &inv.ExpiresAt, &inv.CreatedAt)
	return inv, err
}

// CreateInvite inserts a pending invite. The partial unique index on
// (organization_id, email) WHERE status = 'pending' enforces at most one
// pending invite per pair.
func (s *Store) CreateInvite(ctx context.Context, inv domain.Invite) (domain.Invite, error) {
	created, err := scanInvite(s.pool.QueryRow(ctx, `
INSERT INTO invites (id, organization_id, email, role, status, invited_by, expires_at)
VALUES ($1, $2, $3, $4, 'pending', $5, $6)
RETURNING `+inviteColumns,
		inv.ID, inv.OrganizationID, inv.Email, inv.Role, inv.InvitedBy, inv.ExpiresAt))
	if err != nil {
		return domain.Invite{}, fmt.Errorf("create invite: %w", mapErr(err))
	}
	return created, nil
}

// GetInvite fetches an invite by id.
func (s *Store) GetInvite(ctx context.Context, id string) (domain.Invite, error) {
	inv, err := scanInvite(s.pool.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE id = $1`, id))
	if err != nil {
		return domain.Invite{}, fmt.Errorf("get invite: %w", mapErr(err))
	}
	return inv, nil
}

// ListInvitesByOrg returns all invites of an organization, newest first.
func (s *Store) ListInvitesByOrg(ctx context.Context, orgID string) ([]domain.Invite, error) {
	return s.listInvites(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE organization_id = $1 ORDER BY created_at DESC`, orgID)
}

// ListPendingInvitesByEmail returns pending, unexpired invites addressed to
// the email.
func (s *Store) ListPendingInvitesByEmail(ctx context.Context, email string, now time.Time) ([]domain.Invite, error) {
	return s.listInvites(ctx, `
SELECT `+inviteColumns+` FROM invites
WHERE email = $1 AND status = 'pending' AND expires_at > $2
ORDER BY created_at DESC`, email, now)
}

func (s *Store) listInvites(ctx context.Context, query string, args ...any) ([]domain.Invite, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", mapErr(err))
	}
	defer rows.Close()
	var out []domain.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// UpdateInviteStatus transitions an invite out of pending. Only pending
// invites may transition; anything else conflicts.
func (s *Store) UpdateInviteStatus(ctx context.Context, id string, status domain.InviteStatus) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE invites SET status = $2 WHERE id = $1 AND status = 'pending'`, id, status)
	if err != nil {
		return fmt.Errorf("update invite status: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// AcceptInvite marks the invite accepted and creates the membership in one
// transaction.
func (s *Store) AcceptInvite(ctx context.Context, id, userID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var orgID string
		var role domain.Role
		err := tx.QueryRow(ctx, `
UPDATE invites SET status = 'accepted'
WHERE id = $1 AND status = 'pending' AND expires_at > now()
RETURNING organization_id, role`, id).Scan(&orgID, &role)
		if err != nil {
			return fmt.Errorf("accept invite: %w", mapErr(err))
		}
		_, err = tx.Exec(ctx, `
INSERT INTO organization_members (organization_id, user_id, role)
VALUES ($1, $2, $3)
ON CONFLICT (organization_id, user_id) DO NOTHING`, orgID, userID, role)
		if err != nil {
			return fmt.Errorf("insert membership: %w", mapErr(err))
		}
		return nil
	})
}

// ExpirePendingInvites flips past-due pending invites to expired and returns
// how many changed. Called from the janitor; reads also guard against
// past-due invites so correctness does not depend on the sweep.
func (s *Store) ExpirePendingInvites(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE invites SET status = 'expired' WHERE status = 'pending' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire invites: %w", err)
	}
	return tag.RowsAffected(), nil
}
