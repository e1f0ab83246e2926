package domain

import (
	"encoding/json"
	"regexp"
	"time"
)

// Role is an organization membership level. Roles are ordered:
// member < admin < owner.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRank = map[Role]int{RoleMember: 1, RoleAdmin: 2, RoleOwner: 3}

// Valid reports whether the role is one of the three known levels.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants at least the privileges of other.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// InviteStatus is the lifecycle state of an invite.
type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteAccepted  InviteStatus = "accepted"
	InviteDeclined  InviteStatus = "declined"
	InviteCancelled InviteStatus = "cancelled"
	InviteExpired   InviteStatus = "expired"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidSlug reports whether s is an acceptable organization, workspace, or
// environment slug: lowercase alphanumerics and hyphens, no leading or
// trailing hyphen, length 2 to 64.
func ValidSlug(s string) bool {
	if len(s) < 2 || len(s) > 64 {
		return false
	}
	return slugPattern.MatchString(s)
}

// Organization is the top-level tenant boundary.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is an authenticated principal. Users are created on first successful
// OIDC authentication and never deleted.
type User struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrganizationMember maps (organization, user) to a role.
type OrganizationMember struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// Invite is a pending request for a user (by email) to join an organization.
type Invite struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	Email          string       `json:"email"`
	Role           Role         `json:"role"`
	Status         InviteStatus `json:"status"`
	InvitedBy      string       `json:"invited_by"`
	ExpiresAt      time.Time    `json:"expires_at"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Workspace is a grouping within an organization.
type Workspace struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Slug           string    `json:"slug"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Environment is a named execution scope within a workspace. Personal
// environments carry an owner; MaxConcurrentLocks nil means unlimited.
type Environment struct {
	ID                 string    `json:"id"`
	WorkspaceID        string    `json:"workspace_id"`
	Slug               string    `json:"slug"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	OwnerUserID        *string   `json:"owner_user_id,omitempty"`
	MaxConcurrentLocks *int      `json:"max_concurrent_locks,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// APIKey is an environment-scoped, non-expiring credential. Only the salted
// hash of the full key is stored.
type APIKey struct {
	ID            string     `json:"id"`
	EnvironmentID string     `json:"environment_id"`
	Name          string     `json:"name"`
	KeyPrefix     string     `json:"key_prefix"`
	KeyHash       string     `json:"-"`
	CreatedBy     *string    `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the key has not been revoked.
func (k APIKey) Active() bool {
	return k.RevokedAt == nil
}

// TargetRoot names a URI prefix for task outputs in an environment.
type TargetRoot struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environment_id"`
	Name          string    `json:"name"`
	URI           string    `json:"uri"`
	CreatedAt     time.Time `json:"created_at"`
}

// Build is a single SDK invocation. Builds are immutable after creation;
// their lifecycle lives entirely in the event stream.
type Build struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environment_id"`
	UserID        *string   `json:"user_id,omitempty"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	CommitHash    string    `json:"commit_hash,omitempty"`
	RootTaskIDs   []string  `json:"root_task_ids"`
	CreatedAt     time.Time `json:"created_at"`
}

// Task is a distinct logical unit of work. The integer PK is internal; the
// content-hash TaskID is the external identifier, unique per environment.
type Task struct {
	PK            int64           `json:"-"`
	TaskID        string          `json:"task_id"`
	EnvironmentID string          `json:"environment_id"`
	Namespace     string          `json:"namespace"`
	Name          string          `json:"name"`
	Params        json.RawMessage `json:"params,omitempty"`
	Version       *string         `json:"version,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TaskDependency is a directed upstream → downstream edge between two tasks
// in the same environment, deduplicated across builds.
type TaskDependency struct {
	UpstreamPK   int64 `json:"-"`
	DownstreamPK int64 `json:"-"`
}

// DistributedLock is a lease row. Absence of the row means "not held".
type DistributedLock struct {
	Name          string    `json:"name"`
	EnvironmentID string    `json:"environment_id"`
	OwnerID       string    `json:"owner_id"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Version       int64     `json:"version"`
}

// ActiveAt reports whether the lease is still live at the given instant.
// A lock whose expiry equals now is already expired.
func (l DistributedLock) ActiveAt(now time.Time) bool {
	return l.ExpiresAt.After(now)
}

// TaskRegistryAsset is an artifact attached to a completed task.
type TaskRegistryAsset struct {
	ID        string          `json:"id"`
	TaskPK    int64           `json:"-"`
	AssetType string          `json:"asset_type"`
	Name      string          `json:"name"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
}
