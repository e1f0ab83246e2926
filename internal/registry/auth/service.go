// Package auth maps the three credential kinds the registry accepts — OIDC
// tokens, internal workspace-scoped tokens, and API keys — to a normalized
// (environment, principal) authorization tuple.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/domain"
)

// Store is the slice of the registry store the auth service needs.
type Store interface {
	UpsertUserByExternalID(ctx context.Context, id, externalID, email, displayName string) (domain.User, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetWorkspace(ctx context.Context, id string) (domain.Workspace, error)
	GetEnvironment(ctx context.Context, id string) (domain.Environment, error)
	GetMemberRole(ctx context.Context, orgID, userID string) (domain.Role, error)
	FindActiveAPIKeysByPrefix(ctx context.Context, prefix string) ([]domain.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
}

// Principal is the resolved caller of an authorized request. UserID is nil
// for API keys without a recorded creator.
type Principal struct {
	EnvironmentID string
	WorkspaceID   string
	UserID        *string
}

// Service implements credential verification and the exchange protocol.
type Service struct {
	store    Store
	oidc     *OIDCVerifier
	internal *InternalTokens
	logger   logging.Logger
}

// NewService wires the auth service.
func NewService(store Store, oidc *OIDCVerifier, internal *InternalTokens, logger logging.Logger) *Service {
	return &Service{store: store, oidc: oidc, internal: internal, logger: logging.OrNop(logger)}
}

// InternalTTL exposes the internal-token lifetime for the exchange response.
func (s *Service) InternalTTL() time.Duration {
	return s.internal.TTL()
}

// AuthenticateOIDC verifies an OIDC token and provisions the user on first
// sight of the subject, updating a changed email on later sightings.
func (s *Service) AuthenticateOIDC(ctx context.Context, rawToken string) (domain.User, error) {
	claims, err := s.oidc.Verify(ctx, rawToken)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.store.UpsertUserByExternalID(ctx, uuid.NewString(), claims.Subject, claims.Email, claims.Name)
	if err != nil {
		return domain.User{}, fmt.Errorf("provision user: %w", err)
	}
	return user, nil
}

// ExchangeResult is the minted token plus its lifetime in seconds.
type ExchangeResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Exchange implements POST /auth/exchange: verify the OIDC caller, check
// membership in the workspace's organization, and mint an internal token.
func (s *Service) Exchange(ctx context.Context, rawOIDCToken, workspaceID string) (ExchangeResult, error) {
	user, err := s.AuthenticateOIDC(ctx, rawOIDCToken)
	if err != nil {
		return ExchangeResult{}, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("workspace %s: %w", workspaceID, err)
	}
	if _, err := s.store.GetMemberRole(ctx, ws.OrganizationID, user.ID); err != nil {
		return ExchangeResult{}, fmt.Errorf("caller is not a member of workspace %s: %w", workspaceID, domain.ErrForbidden)
	}
	token, expiresAt, err := s.internal.Mint(user.ID, workspaceID)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("mint internal token: %w", err)
	}
	return ExchangeResult{
		AccessToken: token,
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
	}, nil
}

// AuthorizeAPIKey resolves an sk_ key to its environment and creator. The
// prefix narrows candidates; the argon2id comparison decides.
func (s *Service) AuthorizeAPIKey(ctx context.Context, presented string) (Principal, error) {
	if !strings.HasPrefix(presented, "sk_") {
		return Principal{}, fmt.Errorf("malformed api key: %w", domain.ErrUnauthorized)
	}
	candidates, err := s.store.FindActiveAPIKeysByPrefix(ctx, KeyPrefix(presented))
	if err != nil {
		return Principal{}, fmt.Errorf("api key lookup: %w", err)
	}
	for _, key := range candidates {
		ok, err := VerifyAPIKey(presented, key.KeyHash)
		if err != nil {
			s.logger.Warn("api key %s has unverifiable hash: %v", key.ID, err)
			continue
		}
		if !ok {
			continue
		}
		if err := s.store.TouchAPIKey(ctx, key.ID, time.Now()); err != nil {
			s.logger.Warn("failed to record api key usage: %v", err)
		}
		env, err := s.store.GetEnvironment(ctx, key.EnvironmentID)
		if err != nil {
			return Principal{}, fmt.Errorf("api key environment: %w", err)
		}
		return Principal{
			EnvironmentID: env.ID,
			WorkspaceID:   env.WorkspaceID,
			UserID:        key.CreatedBy,
		}, nil
	}
	return Principal{}, fmt.Errorf("api key rejected: %w", domain.ErrUnauthorized)
}

// AuthorizeInternal resolves an internal token plus an explicit environment.
// The environment must belong to the token's workspace.
func (s *Service) AuthorizeInternal(ctx context.Context, rawToken, environmentID string) (Principal, error) {
	claims, err := s.internal.Parse(rawToken)
	if err != nil {
		return Principal{}, err
	}
	if environmentID == "" {
		return Principal{}, fmt.Errorf("%w: environment_id is required with internal tokens", domain.ErrValidation)
	}
	env, err := s.store.GetEnvironment(ctx, environmentID)
	if err != nil {
		return Principal{}, fmt.Errorf("environment %s: %w", environmentID, err)
	}
	if env.WorkspaceID != claims.WorkspaceID {
		return Principal{}, fmt.Errorf("environment %s is outside the token's workspace: %w", environmentID, domain.ErrForbidden)
	}
	userID := claims.UserID
	return Principal{
		EnvironmentID: env.ID,
		WorkspaceID:   env.WorkspaceID,
		UserID:        &userID,
	}, nil
}

// ParseInternal exposes internal-token parsing for UI routes that carry a
// workspace scope but no environment.
func (s *Service) ParseInternal(rawToken string) (InternalClaims, error) {
	return s.internal.Parse(rawToken)
}

// RequireRole checks that the user holds at least the given role in the
// workspace's organization.
func (s *Service) RequireRole(ctx context.Context, workspaceID, userID string, min domain.Role) (domain.Role, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("workspace %s: %w", workspaceID, err)
	}
	role, err := s.store.GetMemberRole(ctx, ws.OrganizationID, userID)
	if err != nil {
		return "", fmt.Errorf("membership: %w", domain.ErrForbidden)
	}
	if !role.AtLeast(min) {
		return role, fmt.Errorf("requires %s: %w", min, domain.ErrForbidden)
	}
	return role, nil
}
