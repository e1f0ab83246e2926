package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/domain"
)

// fakeStore implements Store in memory for authorization tests.
type fakeStore struct {
	users        map[string]domain.User // keyed by external id
	workspaces   map[string]domain.Workspace
	environments map[string]domain.Environment
	roles        map[string]domain.Role // orgID + "/" + userID
	keys         []domain.APIKey
	touched      []string
}

func (f *fakeStore) UpsertUserByExternalID(_ context.Context, id, externalID, email, displayName string) (domain.User, error) {
	if existing, ok := f.users[externalID]; ok {
		existing.Email = email
		f.users[externalID] = existing
		return existing, nil
	}
	user := domain.User{ID: id, ExternalID: externalID, Email: email, DisplayName: displayName}
	if f.users == nil {
		f.users = map[string]domain.User{}
	}
	f.users[externalID] = user
	return user, nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (domain.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (f *fakeStore) GetWorkspace(_ context.Context, id string) (domain.Workspace, error) {
	ws, ok := f.workspaces[id]
	if !ok {
		return domain.Workspace{}, domain.ErrNotFound
	}
	return ws, nil
}

func (f *fakeStore) GetEnvironment(_ context.Context, id string) (domain.Environment, error) {
	env, ok := f.environments[id]
	if !ok {
		return domain.Environment{}, domain.ErrNotFound
	}
	return env, nil
}

func (f *fakeStore) GetMemberRole(_ context.Context, orgID, userID string) (domain.Role, error) {
	role, ok := f.roles[orgID+"/"+userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return role, nil
}

func (f *fakeStore) FindActiveAPIKeysByPrefix(_ context.Context, prefix string) ([]domain.APIKey, error) {
	var out []domain.APIKey
	for _, k := range f.keys {
		if k.KeyPrefix == prefix && k.RevokedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeStore) TouchAPIKey(_ context.Context, id string, _ time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

func newTestService(store *fakeStore) *Service {
	internal := NewInternalTokens("test-secret", "stardag-registry", 10*time.Minute)
	return NewService(store, nil, internal, logging.Nop())
}

func TestAuthorizeAPIKey(t *testing.T) {
	plain, prefix, hash, err := GenerateAPIKey()
	require.NoError(t, err)

	creator := "user-1"
	store := &fakeStore{
		environments: map[string]domain.Environment{
			"env-1": {ID: "env-1", WorkspaceID: "ws-1"},
		},
		keys: []domain.APIKey{{
			ID: "key-1", EnvironmentID: "env-1", KeyPrefix: prefix, KeyHash: hash, CreatedBy: &creator,
		}},
	}
	svc := newTestService(store)

	principal, err := svc.AuthorizeAPIKey(context.Background(), plain)
	require.NoError(t, err)
	require.Equal(t, "env-1", principal.EnvironmentID)
	require.Equal(t, "ws-1", principal.WorkspaceID)
	require.Equal(t, &creator, principal.UserID)
	require.Equal(t, []string{"key-1"}, store.touched, "successful auth must update last_used_at")
}

func TestAuthorizeAPIKeyRejectsWrongKey(t *testing.T) {
	_, prefix, hash, err := GenerateAPIKey()
	require.NoError(t, err)

	store := &fakeStore{keys: []domain.APIKey{{ID: "key-1", KeyPrefix: prefix, KeyHash: hash}}}
	svc := newTestService(store)

	// Same prefix length, different secret.
	_, err = svc.AuthorizeAPIKey(context.Background(), prefix+"not-the-rest")
	require.True(t, errors.Is(err, domain.ErrUnauthorized))
	require.Empty(t, store.touched)
}

func TestAuthorizeAPIKeyRejectsMalformed(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.AuthorizeAPIKey(context.Background(), "pk_wrong-shape")
	require.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestAuthorizeInternal(t *testing.T) {
	store := &fakeStore{
		environments: map[string]domain.Environment{
			"env-1": {ID: "env-1", WorkspaceID: "ws-1"},
			"env-2": {ID: "env-2", WorkspaceID: "ws-2"},
		},
	}
	svc := newTestService(store)
	token, _, err := svc.internal.Mint("user-1", "ws-1")
	require.NoError(t, err)

	principal, err := svc.AuthorizeInternal(context.Background(), token, "env-1")
	require.NoError(t, err)
	require.Equal(t, "env-1", principal.EnvironmentID)
	require.Equal(t, "user-1", *principal.UserID)

	_, err = svc.AuthorizeInternal(context.Background(), token, "env-2")
	require.True(t, errors.Is(err, domain.ErrForbidden), "cross-workspace environment must be forbidden")

	_, err = svc.AuthorizeInternal(context.Background(), token, "")
	require.True(t, errors.Is(err, domain.ErrValidation))
}

func TestRequireRole(t *testing.T) {
	store := &fakeStore{
		workspaces: map[string]domain.Workspace{"ws-1": {ID: "ws-1", OrganizationID: "org-1"}},
		roles:      map[string]domain.Role{"org-1/user-1": domain.RoleAdmin},
	}
	svc := newTestService(store)

	role, err := svc.RequireRole(context.Background(), "ws-1", "user-1", domain.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, role)

	_, err = svc.RequireRole(context.Background(), "ws-1", "user-1", domain.RoleOwner)
	require.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = svc.RequireRole(context.Background(), "ws-1", "stranger", domain.RoleMember)
	require.True(t, errors.Is(err, domain.ErrForbidden))
}
