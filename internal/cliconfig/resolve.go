package cliconfig

import (
	"fmt"
)

// Settings is the fully resolved SDK connection for one invocation:
// profile values with environment overrides applied on top.
type Settings struct {
	ProfileName   string
	RegistryName  string
	RegistryURL   string
	User          string
	WorkspaceID   string
	EnvironmentID string
	// APIKey, when set, replaces the profile's exchanged-token credential.
	APIKey string
}

// Resolve computes the effective settings. Precedence, highest first:
// STARDAG_REGISTRY_URL / STARDAG_WORKSPACE_ID / STARDAG_ENVIRONMENT_ID and
// STARDAG_API_KEY override everything; STARDAG_PROFILE picks the profile;
// otherwise the config's default profile applies.
func (m *Manager) Resolve() (Settings, error) {
	cfg, err := m.LoadConfig()
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	profileName, _ := m.env(envPrefix + "PROFILE")
	if profileName == "" {
		profileName = cfg.DefaultProfile
	}
	if profileName != "" {
		profile, ok := cfg.Profiles[profileName]
		if !ok {
			return Settings{}, fmt.Errorf("profile %q is not configured", profileName)
		}
		s.ProfileName = profileName
		s.RegistryName = profile.Registry
		s.User = profile.User
		s.WorkspaceID = profile.WorkspaceID
		s.EnvironmentID = profile.EnvironmentID
		registry, ok := cfg.Registries[profile.Registry]
		if !ok {
			return Settings{}, fmt.Errorf("profile %q references unknown registry %q", profileName, profile.Registry)
		}
		s.RegistryURL = registry.URL
	}

	if v, ok := m.env(envPrefix + "REGISTRY_URL"); ok && v != "" {
		s.RegistryURL = v
	}
	if v, ok := m.env(envPrefix + "WORKSPACE_ID"); ok && v != "" {
		s.WorkspaceID = v
	}
	if v, ok := m.env(envPrefix + "ENVIRONMENT_ID"); ok && v != "" {
		s.EnvironmentID = v
	}
	if v, ok := m.env(envPrefix + "API_KEY"); ok && v != "" {
		s.APIKey = v
	}

	if s.RegistryURL == "" {
		return Settings{}, fmt.Errorf("no registry configured: set STARDAG_REGISTRY_URL or add a profile")
	}
	return s, nil
}
