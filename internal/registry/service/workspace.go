package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/auth"
	"github.com/stardag/stardag/internal/registry/domain"
	"github.com/stardag/stardag/internal/registry/store"
)

// inviteTTL is how long an invite stays acceptable.
const inviteTTL = 14 * 24 * time.Hour

// AdminStore is the slice of the registry store the workspace service needs.
type AdminStore interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	CreateOrganizationWithOwner(ctx context.Context, org domain.Organization, ownerUserID string) (domain.Organization, error)
	GetOrganization(ctx context.Context, id string) (domain.Organization, error)
	GetMemberRole(ctx context.Context, orgID, userID string) (domain.Role, error)
	ListMembers(ctx context.Context, orgID string) ([]store.MemberWithUser, error)
	CountOwners(ctx context.Context, orgID string) (int, error)
	UpdateMemberRole(ctx context.Context, orgID, userID string, role domain.Role) error
	RemoveMember(ctx context.Context, orgID, userID string) error

	CreateInvite(ctx context.Context, inv domain.Invite) (domain.Invite, error)
	GetInvite(ctx context.Context, id string) (domain.Invite, error)
	ListInvitesByOrg(ctx context.Context, orgID string) ([]domain.Invite, error)
	ListPendingInvitesByEmail(ctx context.Context, email string, now time.Time) ([]domain.Invite, error)
	UpdateInviteStatus(ctx context.Context, id string, status domain.InviteStatus) error
	AcceptInvite(ctx context.Context, id, userID string) error

	CreateWorkspace(ctx context.Context, ws domain.Workspace, initialEnv domain.Environment) (domain.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (domain.Workspace, error)
	UpdateWorkspace(ctx context.Context, id, name, description string) (domain.Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error
	ListWorkspacesForUser(ctx context.Context, userID string) ([]store.WorkspaceWithRole, error)

	CreateEnvironment(ctx context.Context, env domain.Environment) (domain.Environment, error)
	GetEnvironment(ctx context.Context, id string) (domain.Environment, error)
	ListEnvironments(ctx context.Context, workspaceID string) ([]domain.Environment, error)
	CountEnvironments(ctx context.Context, workspaceID string) (int, error)
	DeleteEnvironment(ctx context.Context, id string) error

	InsertAPIKey(ctx context.Context, key domain.APIKey) (domain.APIKey, error)
	ListAPIKeys(ctx context.Context, environmentID string) ([]domain.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error

	CreateTargetRoot(ctx context.Context, tr domain.TargetRoot) (domain.TargetRoot, error)
	ListTargetRoots(ctx context.Context, environmentID string) ([]domain.TargetRoot, error)
	UpdateTargetRoot(ctx context.Context, id, uri string) (domain.TargetRoot, error)
	DeleteTargetRoot(ctx context.Context, id string) error
}

// WorkspaceService implements the UI surface: workspaces, environments,
// membership, invites, API keys, and target roots. Every mutating operation
// checks the caller's role in the owning organization.
type WorkspaceService struct {
	store  AdminStore
	logger logging.Logger
}

// NewWorkspaceService wires the workspace service.
func NewWorkspaceService(store AdminStore, logger logging.Logger) *WorkspaceService {
	return &WorkspaceService{store: store, logger: logging.OrNop(logger)}
}

// Me is the GET /ui/me response: the caller, their workspaces with roles,
// and any invites awaiting their answer.
type Me struct {
	User       domain.User           `json:"user"`
	Workspaces []WorkspaceMembership `json:"workspaces"`
	Invites    []InviteWithOrgName   `json:"pending_invites"`
}

// WorkspaceMembership is one workspace the caller can see, with their role.
type WorkspaceMembership struct {
	domain.Workspace
	Role domain.Role `json:"role"`
}

// InviteWithOrgName decorates an invite with its organization's name for
// display.
type InviteWithOrgName struct {
	domain.Invite
	OrganizationName string `json:"organization_name"`
}

// GetMe assembles the caller's profile view.
func (s *WorkspaceService) GetMe(ctx context.Context, userID string) (Me, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Me{}, err
	}
	workspaces, err := s.store.ListWorkspacesForUser(ctx, userID)
	if err != nil {
		return Me{}, err
	}
	invites, err := s.pendingInvitesFor(ctx, user)
	if err != nil {
		return Me{}, err
	}
	me := Me{User: user, Workspaces: make([]WorkspaceMembership, 0, len(workspaces)), Invites: invites}
	for _, wr := range workspaces {
		me.Workspaces = append(me.Workspaces, WorkspaceMembership{Workspace: wr.Workspace, Role: wr.Role})
	}
	return me, nil
}

// PendingInvites lists the invites awaiting the caller's answer, matched by
// the caller's email.
func (s *WorkspaceService) PendingInvites(ctx context.Context, userID string) ([]InviteWithOrgName, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.pendingInvitesFor(ctx, user)
}

func (s *WorkspaceService) pendingInvitesFor(ctx context.Context, user domain.User) ([]InviteWithOrgName, error) {
	invites, err := s.store.ListPendingInvitesByEmail(ctx, user.Email, time.Now())
	if err != nil {
		return nil, err
	}
	out := make([]InviteWithOrgName, 0, len(invites))
	for _, inv := range invites {
		org, err := s.store.GetOrganization(ctx, inv.OrganizationID)
		if err != nil {
			return nil, err
		}
		out = append(out, InviteWithOrgName{Invite: inv, OrganizationName: org.Name})
	}
	return out, nil
}

// CreateWorkspaceRequest is the POST /ui/workspaces body. An empty
// OrganizationID creates a fresh organization with the caller as owner.
type CreateWorkspaceRequest struct {
	OrganizationID string `json:"organization_id,omitempty"`
	Slug           string `json:"slug"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
}

// CreateWorkspace creates a workspace (and, when no organization is given,
// an organization around it) plus its default environment.
func (s *WorkspaceService) CreateWorkspace(ctx context.Context, userID string, req CreateWorkspaceRequest) (domain.Workspace, error) {
	if !domain.ValidSlug(req.Slug) {
		return domain.Workspace{}, fmt.Errorf("%w: invalid workspace slug %q", domain.ErrValidation, req.Slug)
	}
	if req.Name == "" {
		return domain.Workspace{}, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	orgID := req.OrganizationID
	if orgID == "" {
		org, err := s.store.CreateOrganizationWithOwner(ctx, domain.Organization{
			ID:   uuid.NewString(),
			Name: req.Name,
			Slug: req.Slug,
		}, userID)
		if err != nil {
			return domain.Workspace{}, err
		}
		orgID = org.ID
	} else {
		if err := s.requireRole(ctx, orgID, userID, domain.RoleAdmin); err != nil {
			return domain.Workspace{}, err
		}
	}
	return s.store.CreateWorkspace(ctx, domain.Workspace{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Slug:           req.Slug,
		Name:           req.Name,
		Description:    req.Description,
	}, domain.Environment{
		ID:   uuid.NewString(),
		Slug: "default",
		Name: "Default",
	})
}

// GetWorkspace returns a workspace the caller is a member of.
func (s *WorkspaceService) GetWorkspace(ctx context.Context, userID, workspaceID string) (domain.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return domain.Workspace{}, err
	}
	if err := s.requireRole(ctx, ws.OrganizationID, userID, domain.RoleMember); err != nil {
		return domain.Workspace{}, err
	}
	return ws, nil
}

// UpdateWorkspace changes name and description. Admin or above.
func (s *WorkspaceService) UpdateWorkspace(ctx context.Context, userID, workspaceID, name, description string) (domain.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return domain.Workspace{}, err
	}
	if err := s.requireRole(ctx, ws.OrganizationID, userID, domain.RoleAdmin); err != nil {
		return domain.Workspace{}, err
	}
	if name == "" {
		return domain.Workspace{}, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	return s.store.UpdateWorkspace(ctx, workspaceID, name, description)
}

// DeleteWorkspace removes the workspace and everything under it. Owner only.
func (s *WorkspaceService) DeleteWorkspace(ctx context.Context, userID, workspaceID string) error {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := s.requireRole(ctx, ws.OrganizationID, userID, domain.RoleOwner); err != nil {
		return err
	}
	return s.store.DeleteWorkspace(ctx, workspaceID)
}

// CreateEnvironmentRequest is the POST environments body.
type CreateEnvironmentRequest struct {
	Slug               string `json:"slug"`
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	Personal           bool   `json:"personal,omitempty"`
	MaxConcurrentLocks *int   `json:"max_concurrent_locks,omitempty"`
}

// CreateEnvironment adds an environment to a workspace. Admin or above;
// personal environments record the caller as owner.
func (s *WorkspaceService) CreateEnvironment(ctx context.Context, userID, workspaceID string, req CreateEnvironmentRequest) (domain.Environment, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return domain.Environment{}, err
	}
	minRole := domain.RoleAdmin
	if req.Personal {
		minRole = domain.RoleMember
	}
	if err := s.requireRole(ctx, ws.OrganizationID, userID, minRole); err != nil {
		return domain.Environment{}, err
	}
	if !domain.ValidSlug(req.Slug) {
		return domain.Environment{}, fmt.Errorf("%w: invalid environment slug %q", domain.ErrValidation, req.Slug)
	}
	if req.Name == "" {
		return domain.Environment{}, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if req.MaxConcurrentLocks != nil && *req.MaxConcurrentLocks < 1 {
		return domain.Environment{}, fmt.Errorf("%w: max_concurrent_locks must be positive", domain.ErrValidation)
	}
	env := domain.Environment{
		ID:                 uuid.NewString(),
		WorkspaceID:        workspaceID,
		Slug:               req.Slug,
		Name:               req.Name,
		Description:        req.Description,
		MaxConcurrentLocks: req.MaxConcurrentLocks,
	}
	if req.Personal {
		env.OwnerUserID = &userID
	}
	return s.store.CreateEnvironment(ctx, env)
}

// ListEnvironments returns a workspace's environments. Any member.
func (s *WorkspaceService) ListEnvironments(ctx context.Context, userID, workspaceID string) ([]domain.Environment, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, ws.OrganizationID, userID, domain.RoleMember); err != nil {
		return nil, err
	}
	return s.store.ListEnvironments(ctx, workspaceID)
}

// DeleteEnvironment removes an environment. Admin or above, or the personal
// owner. A workspace always keeps at least one environment.
func (s *WorkspaceService) DeleteEnvironment(ctx context.Context, userID, workspaceID, environmentID string) error {
	env, err := s.environmentIn(ctx, workspaceID, environmentID)
	if err != nil {
		return err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if env.OwnerUserID == nil || *env.OwnerUserID != userID {
		if err := s.requireRole(ctx, ws.OrganizationID, userID, domain.RoleAdmin); err != nil {
			return err
		}
	}
	n, err := s.store.CountEnvironments(ctx, workspaceID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return fmt.Errorf("workspace %s: %w", workspaceID, domain.ErrLastEnvironment)
	}
	return s.store.DeleteEnvironment(ctx, environmentID)
}

// ListMembers returns the members of the workspace's organization. Any
// member.
func (s *WorkspaceService) ListMembers(ctx context.Context, userID, workspaceID string) ([]store.MemberWithUser, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, ws.OrganizationID, userID, domain.RoleMember); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, ws.OrganizationID)
}

// UpdateMemberRole changes a member's role. Owner only; demoting the last
// owner is refused.
func (s *WorkspaceService) UpdateMemberRole(ctx context.Context, callerID, workspaceID, memberUserID string, role domain.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := s.requireRole(ctx, ws.OrganizationID, callerID, domain.RoleOwner); err != nil {
		return err
	}
	current, err := s.store.GetMemberRole(ctx, ws.OrganizationID, memberUserID)
	if err != nil {
		return err
	}
	if current == domain.RoleOwner && role != domain.RoleOwner {
		if err := s.guardLastOwner(ctx, ws.OrganizationID); err != nil {
			return err
		}
	}
	return s.store.UpdateMemberRole(ctx, ws.OrganizationID, memberUserID, role)
}

// RemoveMember removes a member from the organization. Admins can remove
// members; anyone can remove themselves. Removing the last owner is refused.
func (s *WorkspaceService) RemoveMember(ctx context.Context, callerID, workspaceID, memberUserID string) error {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if callerID != memberUserID {
		if err := s.requireRole(ctx, ws.OrganizationID, callerID, domain.RoleAdmin); err != nil {
			return err
		}
	}
	role, err := s.store.GetMemberRole(ctx, ws.OrganizationID, memberUserID)
	if err != nil {
		return err
	}
	if role == domain.RoleOwner {
		if err := s.guardLastOwner(ctx, ws.OrganizationID); err != nil {
			return err
		}
	}
	return s.store.RemoveMember(ctx, ws.OrganizationID, memberUserID)
}

// CreateInviteRequest is the POST invites body.
type CreateInviteRequest struct {
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// CreateInvite invites an email address into the workspace's organization.
// Admin or above; only owners may grant owner.
func (s *WorkspaceService) CreateInvite(ctx context.Context, callerID, workspaceID string, req CreateInviteRequest) (domain.Invite, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.Invite{}, fmt.Errorf("%w: invalid email %q", domain.ErrValidation, req.Email)
	}
	if !req.Role.Valid() {
		return domain.Invite{}, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, req.Role)
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return domain.Invite{}, err
	}
	minRole := domain.RoleAdmin
	if req.Role == domain.RoleOwner {
		minRole = domain.RoleOwner
	}
	if err := s.requireRole(ctx, ws.OrganizationID, callerID, minRole); err != nil {
		return domain.Invite{}, err
	}
	if user, err := s.store.GetUserByEmail(ctx, email); err == nil {
		if _, err := s.store.GetMemberRole(ctx, ws.OrganizationID, user.ID); err == nil {
			return domain.Invite{}, fmt.Errorf("%s is already a member: %w", email, domain.ErrConflict)
		}
	}
	return s.store.CreateInvite(ctx, domain.Invite{
		ID:             uuid.NewString(),
		OrganizationID: ws.OrganizationID,
		Email:          email,
		Role:           req.Role,
		InvitedBy:      callerID,
		ExpiresAt:      time.Now().Add(inviteTTL),
	})
}

// ListInvites returns the organization's invites. Admin or above.
func (s *WorkspaceService) ListInvites(ctx context.Context, callerID, workspaceID string) ([]domain.Invite, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, ws.OrganizationID, callerID, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.store.ListInvitesByOrg(ctx, ws.OrganizationID)
}

// CancelInvite withdraws a pending invite. Admin or above in the invite's
// organization.
func (s *WorkspaceService) CancelInvite(ctx context.Context, callerID, inviteID string) error {
	inv, err := s.store.GetInvite(ctx, inviteID)
	if err != nil {
		return err
	}
	if err := s.requireRole(ctx, inv.OrganizationID, callerID, domain.RoleAdmin); err != nil {
		return err
	}
	return s.store.UpdateInviteStatus(ctx, inviteID, domain.InviteCancelled)
}

// RespondToInvite accepts or declines an invite addressed to the caller's
// email.
func (s *WorkspaceService) RespondToInvite(ctx context.Context, callerID, inviteID string, accept bool) error {
	inv, err := s.store.GetInvite(ctx, inviteID)
	if err != nil {
		return err
	}
	user, err := s.store.GetUser(ctx, callerID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(inv.Email, user.Email) {
		return fmt.Errorf("invite %s is not addressed to the caller: %w", inviteID, domain.ErrForbidden)
	}
	if inv.Status != domain.InvitePending {
		return fmt.Errorf("invite %s is %s: %w", inviteID, inv.Status, domain.ErrConflict)
	}
	if !inv.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("invite %s has expired: %w", inviteID, domain.ErrConflict)
	}
	if !accept {
		return s.store.UpdateInviteStatus(ctx, inviteID, domain.InviteDeclined)
	}
	return s.store.AcceptInvite(ctx, inviteID, callerID)
}

// CreatedAPIKey pairs the stored key record with its one-time plaintext.
type CreatedAPIKey struct {
	domain.APIKey
	Key string `json:"key"`
}

// CreateAPIKey mints an environment-scoped key and returns the plaintext
// exactly once. Any member of the owning organization.
func (s *WorkspaceService) CreateAPIKey(ctx context.Context, callerID, workspaceID, environmentID, name string) (CreatedAPIKey, error) {
	if name == "" {
		return CreatedAPIKey{}, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if _, err := s.environmentIn(ctx, workspaceID, environmentID); err != nil {
		return CreatedAPIKey{}, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return CreatedAPIKey{}, err
	}
	if err := s.requireRole(ctx, ws.OrganizationID, callerID, domain.RoleMember); err != nil {
		return CreatedAPIKey{}, err
	}
	plain, prefix, hash, err := auth.GenerateAPIKey()
	if err != nil {
		return CreatedAPIKey{}, err
	}
	key, err := s.store.InsertAPIKey(ctx, domain.APIKey{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		Name:          name,
		KeyPrefix:     prefix,
		KeyHash:       hash,
		CreatedBy:     &callerID,
	})
	if err != nil {
		return CreatedAPIKey{}, err
	}
	return CreatedAPIKey{APIKey: key, Key: plain}, nil
}

// ListAPIKeys returns an environment's keys without hashes. Any member.
func (s *WorkspaceService) ListAPIKeys(ctx context.Context, callerID, workspaceID, environmentID string) ([]domain.APIKey, error) {
	if _, err := s.environmentIn(ctx, workspaceID, environmentID); err != nil {
		return nil, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, ws.OrganizationID, callerID, domain.RoleMember); err != nil {
		return nil, err
	}
	return s.store.ListAPIKeys(ctx, environmentID)
}

// RevokeAPIKey permanently disables a key. Admin or above, or the key's
// creator.
func (s *WorkspaceService) RevokeAPIKey(ctx context.Context, callerID, workspaceID, environmentID, keyID string) error {
	if _, err := s.environmentIn(ctx, workspaceID, environmentID); err != nil {
		return err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	keys, err := s.store.ListAPIKeys(ctx, environmentID)
	if err != nil {
		return err
	}
	var creator *string
	found := false
	for _, k := range keys {
		if k.ID == keyID {
			creator = k.CreatedBy
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("api key %s: %w", keyID, domain.ErrNotFound)
	}
	if creator == nil || *creator != callerID {
		if err := s.requireRole(ctx, ws.OrganizationID, callerID, domain.RoleAdmin); err != nil {
			return err
		}
	}
	return s.store.RevokeAPIKey(ctx, keyID, time.Now())
}

// CreateTargetRoot names a URI prefix in an environment. Admin or above.
func (s *WorkspaceService) CreateTargetRoot(ctx context.Context, callerID, workspaceID, environmentID, name, uri string) (domain.TargetRoot, error) {
	if name == "" || uri == "" {
		return domain.TargetRoot{}, fmt.Errorf("%w: name and uri are required", domain.ErrValidation)
	}
	if err := s.requireEnvAdmin(ctx, callerID, workspaceID, environmentID); err != nil {
		return domain.TargetRoot{}, err
	}
	return s.store.CreateTargetRoot(ctx, domain.TargetRoot{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		Name:          name,
		URI:           uri,
	})
}

// ListTargetRoots returns an environment's target roots. Any member.
func (s *WorkspaceService) ListTargetRoots(ctx context.Context, callerID, workspaceID, environmentID string) ([]domain.TargetRoot, error) {
	if _, err := s.environmentIn(ctx, workspaceID, environmentID); err != nil {
		return nil, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, ws.OrganizationID, callerID, domain.RoleMember); err != nil {
		return nil, err
	}
	return s.store.ListTargetRoots(ctx, environmentID)
}

// UpdateTargetRoot changes the URI of a named root. Admin or above.
func (s *WorkspaceService) UpdateTargetRoot(ctx context.Context, callerID, workspaceID, environmentID, rootID, uri string) (domain.TargetRoot, error) {
	if uri == "" {
		return domain.TargetRoot{}, fmt.Errorf("%w: uri is required", domain.ErrValidation)
	}
	if err := s.requireEnvAdmin(ctx, callerID, workspaceID, environmentID); err != nil {
		return domain.TargetRoot{}, err
	}
	return s.store.UpdateTargetRoot(ctx, rootID, uri)
}

// DeleteTargetRoot removes a target root. Admin or above.
func (s *WorkspaceService) DeleteTargetRoot(ctx context.Context, callerID, workspaceID, environmentID, rootID string) error {
	if err := s.requireEnvAdmin(ctx, callerID, workspaceID, environmentID); err != nil {
		return err
	}
	return s.store.DeleteTargetRoot(ctx, rootID)
}

func (s *WorkspaceService) requireEnvAdmin(ctx context.Context, callerID, workspaceID, environmentID string) error {
	if _, err := s.environmentIn(ctx, workspaceID, environmentID); err != nil {
		return err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	return s.requireRole(ctx, ws.OrganizationID, callerID, domain.RoleAdmin)
}

// environmentIn confirms the environment belongs to the workspace. A
// mismatch reads as not found, never as forbidden, so ids cannot be probed
// across workspaces.
func (s *WorkspaceService) environmentIn(ctx context.Context, workspaceID, environmentID string) (domain.Environment, error) {
	env, err := s.store.GetEnvironment(ctx, environmentID)
	if err != nil {
		return domain.Environment{}, err
	}
	if env.WorkspaceID != workspaceID {
		return domain.Environment{}, fmt.Errorf("environment %s: %w", environmentID, domain.ErrNotFound)
	}
	return env, nil
}

func (s *WorkspaceService) requireRole(ctx context.Context, orgID, userID string, min domain.Role) error {
	role, err := s.store.GetMemberRole(ctx, orgID, userID)
	if err != nil {
		return fmt.Errorf("membership: %w", domain.ErrForbidden)
	}
	if !role.AtLeast(min) {
		return fmt.Errorf("requires %s: %w", min, domain.ErrForbidden)
	}
	return nil
}

func (s *WorkspaceService) guardLastOwner(ctx context.Context, orgID string) error {
	n, err := s.store.CountOwners(ctx, orgID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return fmt.Errorf("organization %s: %w", orgID, domain.ErrLastOwner)
	}
	return nil
}
