package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stardag/stardag/internal/registry/domain"
)

// CreateOrganizationWithOwner inserts the organization and the creator's
// owner membership in one transaction.
func (s *Store) CreateOrganizationWithOwner(ctx context.Context, org domain.Organization, ownerUserID string) (domain.Organization, error) {
	var created domain.Organization
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
INSERT INTO organizations (id, name, slug, description)
VALUES ($1, $2, $3, $4)
RETURNING id, name, slug, description, created_at`,
			org.ID, org.Name, org.Slug, org.Description,
		).Scan(&created.ID, &created.Name, &created.Slug, &created.Description, &created.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert organization: %w", mapErr(err))
		}
		_, err = tx.Exec(ctx, `
INSERT INTO organization_members (organization_id, user_id, role)
VALUES ($1, $2, 'owner')`, created.ID, ownerUserID)
		if err != nil {
			return fmt.Errorf("insert owner membership: %w", mapErr(err))
		}
		return nil
	})
	if err != nil {
		return domain.Organization{}, err
	}
	return created, nil
}

// GetOrganization fetches an organization by id.
func (s *Store) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	var org domain.Organization
	err := s.pool.QueryRow(ctx, `
SELECT id, name, slug, description, created_at FROM organizations WHERE id = $1`, id).Scan(
		&org.ID, &org.Name, &org.Slug, &org.Description, &org.CreatedAt,
	)
	if err != nil {
		return domain.Organization{}, fmt.Errorf("get organization: %w", mapErr(err))
	}
	return org, nil
}

// DeleteOrganization removes the organization; members, workspaces,
// environments, and invites cascade.
func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete organization: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetMemberRole returns the caller's role in the organization, or
// ErrNotFound when no membership exists.
func (s *Store) GetMemberRole(ctx context.Context, orgID, userID string) (domain.Role, error) {
	var role domain.Role
	err := s.pool.QueryRow(ctx, `
SELECT role FROM organization_members WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID).Scan(&role)
	if err != nil {
		return "", fmt.Errorf("get member role: %w", mapErr(err))
	}
	return role, nil
}

// MemberWithUser pairs a membership row with its user for listing.
type MemberWithUser struct {
	Member domain.OrganizationMember
	User   domain.User
}

// ListMembers returns all memberships of an organization with user details.
func (s *Store) ListMembers(ctx context.Context, orgID string) ([]MemberWithUser, error) {
	rows, err := s.pool.Query(ctx, `
SELECT m.organization_id, m.user_id, m.role, m.created_at,
       u.id, u.external_id, u.email, COALESCE(u.display_name, ''), u.created_at
FROM organization_members m
JOIN users u ON u.id = m.user_id
WHERE m.organization_id = $1
ORDER BY m.created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", mapErr(err))
	}
	defer rows.Close()
	var out []MemberWithUser
	for rows.Next() {
		var mw MemberWithUser
		if err := rows.Scan(
			&mw.Member.OrganizationID, &mw.Member.UserID, &mw.Member.Role, &mw.Member.CreatedAt,
			&mw.User.ID, &mw.User.ExternalID, &mw.User.Email, &mw.User.DisplayName, &mw.User.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, mw)
	}
	return out, rows.Err()
}

// CountOwners counts owner memberships in the organization.
func (s *Store) CountOwners(ctx context.Context, orgID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM organization_members WHERE organization_id = $1 AND role = 'owner'`,
		orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return n, nil
}

// UpdateMemberRole changes a member's role.
func (s *Store) UpdateMemberRole(ctx context.Context, orgID, userID string, role domain.Role) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE organization_members SET role = $3 WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RemoveMember deletes a membership.
func (s *Store) RemoveMember(ctx context.Context, orgID, userID string) error {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM organization_members WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddMember inserts a membership row.
func (s *Store) AddMember(ctx context.Context, orgID, userID string, role domain.Role) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO organization_members (organization_id, user_id, role) VALUES ($1, $2, $3)`,
		orgID, userID, role)
	if err != nil {
		return fmt.Errorf("add member: %w", mapErr(err))
	}
	return nil
}
