package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stardag/stardag/internal/registry/domain"
)

func TestInternalTokenRoundTrip(t *testing.T) {
	mgr := NewInternalTokens("test-secret", "stardag-registry", 10*time.Minute)

	token, expiresAt, err := mgr.Mint("user-1", "ws-1")
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "ws-1", claims.WorkspaceID)
}

func TestInternalTokenExpiredIsDistinct(t *testing.T) {
	mgr := NewInternalTokens("test-secret", "stardag-registry", -time.Minute)
	token, _, err := mgr.Mint("user-1", "ws-1")
	require.NoError(t, err)

	_, err = mgr.Parse(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrTokenExpired), "expired tokens must map to ErrTokenExpired, got %v", err)
}

func TestInternalTokenWrongSecret(t *testing.T) {
	token, _, err := NewInternalTokens("secret-a", "stardag-registry", time.Minute).Mint("u", "w")
	require.NoError(t, err)

	_, err = NewInternalTokens("secret-b", "stardag-registry", time.Minute).Parse(token)
	require.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestInternalTokenWrongIssuer(t *testing.T) {
	token, _, err := NewInternalTokens("secret", "other-issuer", time.Minute).Mint("u", "w")
	require.NoError(t, err)

	_, err = NewInternalTokens("secret", "stardag-registry", time.Minute).Parse(token)
	require.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestGenerateAPIKeyShape(t *testing.T) {
	plain, prefix, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	require.True(t, len(plain) > 20)
	require.Equal(t, "sk_", plain[:3])
	require.Equal(t, plain[:8], prefix)

	ok, err := VerifyAPIKey(plain, hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyAPIKey("sk_not-the-key", hash)
	require.NoError(t, err)
	require.False(t, ok)
}
