package cliconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// Registry is one named registry endpoint.
type Registry struct {
	URL string `toml:"url"`
}

// Profile binds a registry to a workspace, an environment, and a user.
type Profile struct {
	Registry      string `toml:"registry"`
	User          string `toml:"user"`
	WorkspaceID   string `toml:"workspace_id"`
	EnvironmentID string `toml:"environment_id"`
}

// Config is the round-tripped contents of config.toml.
type Config struct {
	DefaultProfile string              `toml:"default_profile,omitempty"`
	Registries     map[string]Registry `toml:"registries"`
	Profiles       map[string]Profile  `toml:"profiles"`
}

// LoadConfig reads config.toml; a missing file is an empty config.
func (m *Manager) LoadConfig() (Config, error) {
	cfg := Config{
		Registries: map[string]Registry{},
		Profiles:   map[string]Profile{},
	}
	path := filepath.Join(m.root, configFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Registries == nil {
		cfg.Registries = map[string]Registry{}
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return cfg, nil
}

// SaveConfig writes config.toml.
func (m *Manager) SaveConfig(cfg Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return m.writeFileAtomic(filepath.Join(m.root, configFile), buf.Bytes())
}

// RegistryNames returns the configured registry names, sorted.
func (c Config) RegistryNames() []string {
	names := make([]string, 0, len(c.Registries))
	for name := range c.Registries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProfileNames returns the configured profile names, sorted.
func (c Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
