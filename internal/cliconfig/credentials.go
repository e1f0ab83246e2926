package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Credentials is the long-lived per-user secret for one registry: enough to
// refresh OIDC access tokens without another interactive login.
type Credentials struct {
	TokenEndpoint string `json:"token_endpoint"`
	ClientID      string `json:"client_id"`
	RefreshToken  string `json:"refresh_token"`
}

func (m *Manager) credentialsPath(registry, user string) string {
	name := fmt.Sprintf("%s__%s.json", registry, SafeUser(user))
	return filepath.Join(m.root, credentialsDir, name)
}

// SaveCredentials persists the refresh credentials with 0600 permissions.
func (m *Manager) SaveCredentials(registry, user string, creds Credentials) error {
	return m.writeJSON(m.credentialsPath(registry, user), creds)
}

// LoadCredentials returns the stored credentials, or ok=false when the user
// has never logged in to this registry.
func (m *Manager) LoadCredentials(registry, user string) (Credentials, bool, error) {
	var creds Credentials
	ok, err := m.readJSON(m.credentialsPath(registry, user), &creds)
	return creds, ok, err
}

// DeleteCredentials removes the stored credentials (logout). Missing files
// are not an error.
func (m *Manager) DeleteCredentials(registry, user string) error {
	err := os.Remove(m.credentialsPath(registry, user))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// CachedToken is one exchanged workspace access token.
type CachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// tokenSkew keeps us from using a token that expires mid-request.
const tokenSkew = 30 * time.Second

func (m *Manager) tokenCachePath(registry, user, workspaceID string) string {
	name := fmt.Sprintf("%s__%s__%s.json", registry, SafeUser(user), workspaceID)
	return filepath.Join(m.root, tokenCacheDir, name)
}

// SaveAccessToken caches an exchanged token per (registry, user, workspace).
func (m *Manager) SaveAccessToken(registry, user, workspaceID string, token CachedToken) error {
	return m.writeJSON(m.tokenCachePath(registry, user, workspaceID), token)
}

// LoadAccessToken returns a cached token that is still comfortably inside
// its lifetime, or ok=false.
func (m *Manager) LoadAccessToken(registry, user, workspaceID string, now time.Time) (CachedToken, bool, error) {
	var token CachedToken
	ok, err := m.readJSON(m.tokenCachePath(registry, user, workspaceID), &token)
	if err != nil || !ok {
		return CachedToken{}, false, err
	}
	if !token.ExpiresAt.After(now.Add(tokenSkew)) {
		return CachedToken{}, false, nil
	}
	return token, true, nil
}

// DeleteAccessToken drops one cached token, forcing the next use to
// exchange again.
func (m *Manager) DeleteAccessToken(registry, user, workspaceID string) error {
	err := os.Remove(m.tokenCachePath(registry, user, workspaceID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cached token: %w", err)
	}
	return nil
}
