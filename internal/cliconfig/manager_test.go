package cliconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T, env map[string]string) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Root: t.TempDir(),
		Env: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
		ListEnv: func() []string {
			var out []string
			for k, v := range env {
				out = append(out, k+"="+v)
			}
			return out
		},
	})
	require.NoError(t, err)
	return m
}

func TestSafeUser(t *testing.T) {
	assert.Equal(t, "alice_at_example.com", SafeUser("alice@example.com"))
	assert.Equal(t, "a_b_c_d", SafeUser("a/b\\c:d"))
}

func TestConfigRoundTrip(t *testing.T) {
	m := testManager(t, nil)

	cfg, err := m.LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Registries)

	cfg.Registries["prod"] = Registry{URL: "https://registry.example.com"}
	cfg.Profiles["default"] = Profile{
		Registry:      "prod",
		User:          "alice@example.com",
		WorkspaceID:   "ws-1",
		EnvironmentID: "env-1",
	}
	cfg.DefaultProfile = "default"
	require.NoError(t, m.SaveConfig(cfg))

	loaded, err := m.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, []string{"prod"}, loaded.RegistryNames())
}

func TestCredentialsLifecycleAndPermissions(t *testing.T) {
	m := testManager(t, nil)

	creds := Credentials{
		TokenEndpoint: "https://issuer/token",
		ClientID:      "cli",
		RefreshToken:  "secret",
	}
	require.NoError(t, m.SaveCredentials("prod", "alice@example.com", creds))

	path := filepath.Join(m.Root(), "credentials", "prod__alice_at_example.com.json")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, ok, err := m.LoadCredentials("prod", "alice@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, creds, loaded)

	require.NoError(t, m.DeleteCredentials("prod", "alice@example.com"))
	_, ok, err = m.LoadCredentials("prod", "alice@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is not an error.
	require.NoError(t, m.DeleteCredentials("prod", "alice@example.com"))
}

func TestAccessTokenCacheHonorsExpiry(t *testing.T) {
	m := testManager(t, nil)
	now := time.Now()

	token := CachedToken{AccessToken: "jwt", ExpiresAt: now.Add(10 * time.Minute)}
	require.NoError(t, m.SaveAccessToken("prod", "alice@example.com", "ws-1", token))

	got, ok, err := m.LoadAccessToken("prod", "alice@example.com", "ws-1", now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "jwt", got.AccessToken)

	// Within the skew window the token counts as expired.
	_, ok, err = m.LoadAccessToken("prod", "alice@example.com", "ws-1", token.ExpiresAt.Add(-10*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	// A different workspace has its own cache entry.
	_, ok, err = m.LoadAccessToken("prod", "alice@example.com", "ws-2", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIDCache(t *testing.T) {
	m := testManager(t, nil)

	cache, err := m.LoadIDCache()
	require.NoError(t, err)
	cache["my-workspace"] = "ws-uuid-1"
	require.NoError(t, m.SaveIDCache(cache))

	loaded, err := m.LoadIDCache()
	require.NoError(t, err)
	assert.Equal(t, "ws-uuid-1", loaded.Resolve("my-workspace"))
	assert.Equal(t, "ws-uuid-2", loaded.Resolve("ws-uuid-2"))
}

func TestTargetRootsWithEnvOverride(t *testing.T) {
	env := map[string]string{
		"STARDAG_TARGET_ROOTS__DEFAULT": "file:///override",
		"UNRELATED":                     "x",
	}
	m := testManager(t, env)

	require.NoError(t, m.SaveTargetRoots("prod", "ws-1", "env-1", map[string]string{
		"default": "s3://bucket/outputs",
		"reports": "s3://bucket/reports",
	}))

	roots, err := m.TargetRoots("prod", "ws-1", "env-1")
	require.NoError(t, err)
	assert.Equal(t, "file:///override", roots["default"])
	assert.Equal(t, "s3://bucket/reports", roots["reports"])

	// A scope that was never synced still gets the overrides.
	other, err := m.TargetRoots("prod", "ws-1", "env-2")
	require.NoError(t, err)
	assert.Equal(t, "file:///override", other["default"])
	assert.NotContains(t, other, "reports")
}

func TestResolvePrecedence(t *testing.T) {
	base := Config{
		DefaultProfile: "default",
		Registries:     map[string]Registry{"prod": {URL: "https://registry.example.com"}},
		Profiles: map[string]Profile{
			"default": {Registry: "prod", User: "alice@example.com", WorkspaceID: "ws-1", EnvironmentID: "env-1"},
			"staging": {Registry: "prod", User: "alice@example.com", WorkspaceID: "ws-2", EnvironmentID: "env-2"},
		},
	}

	t.Run("default profile", func(t *testing.T) {
		m := testManager(t, nil)
		require.NoError(t, m.SaveConfig(base))
		s, err := m.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "default", s.ProfileName)
		assert.Equal(t, "env-1", s.EnvironmentID)
	})

	t.Run("profile override", func(t *testing.T) {
		m := testManager(t, map[string]string{"STARDAG_PROFILE": "staging"})
		require.NoError(t, m.SaveConfig(base))
		s, err := m.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "staging", s.ProfileName)
		assert.Equal(t, "ws-2", s.WorkspaceID)
	})

	t.Run("direct overrides beat profile", func(t *testing.T) {
		m := testManager(t, map[string]string{
			"STARDAG_ENVIRONMENT_ID": "env-direct",
			"STARDAG_API_KEY":        "sk_direct",
		})
		require.NoError(t, m.SaveConfig(base))
		s, err := m.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "env-direct", s.EnvironmentID)
		assert.Equal(t, "sk_direct", s.APIKey)
		assert.Equal(t, "https://registry.example.com", s.RegistryURL)
	})

	t.Run("no profile needs registry url", func(t *testing.T) {
		m := testManager(t, nil)
		_, err := m.Resolve()
		require.Error(t, err)

		m = testManager(t, map[string]string{"STARDAG_REGISTRY_URL": "http://localhost:8420"})
		s, err := m.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8420", s.RegistryURL)
	})

	t.Run("unknown profile fails", func(t *testing.T) {
		m := testManager(t, map[string]string{"STARDAG_PROFILE": "nope"})
		require.NoError(t, m.SaveConfig(base))
		_, err := m.Resolve()
		require.Error(t, err)
	})
}
