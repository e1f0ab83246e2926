// Package cliconfig manages the persistent client state under ~/.stardag:
// the TOML config (registries and profiles), per-user credentials, the
// access-token cache, and the id and target-root caches.
package cliconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	configFile        = "config.toml"
	credentialsDir    = "credentials"
	tokenCacheDir     = "access-token-cache"
	idCacheFile       = "id-cache.json"
	rootCacheFile     = "target-root-cache.json"
	envPrefix         = "STARDAG_"
	targetRootsPrefix = "STARDAG_TARGET_ROOTS__"
)

// EnvLookup resolves an environment variable. Injected so tests control the
// environment without mutating the process.
type EnvLookup func(key string) (string, bool)

// Options configure a Manager. Zero values fall back to the real
// environment and ~/.stardag.
type Options struct {
	Root string
	Env  EnvLookup
	// ListEnv enumerates "KEY=VALUE" pairs for prefix scans (the target
	// root overrides). Defaults to os.Environ.
	ListEnv func() []string
}

// Manager is the handle to all persisted client state.
type Manager struct {
	root    string
	env     EnvLookup
	listEnv func() []string
}

// NewManager resolves the state directory and returns a manager. The
// directory is created lazily on first write.
func NewManager(opts Options) (*Manager, error) {
	env := opts.Env
	if env == nil {
		env = os.LookupEnv
	}
	listEnv := opts.ListEnv
	if listEnv == nil {
		listEnv = os.Environ
	}
	root := opts.Root
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		root = filepath.Join(home, ".stardag")
	}
	return &Manager{root: root, env: env, listEnv: listEnv}, nil
}

// Root returns the state directory path.
func (m *Manager) Root() string { return m.root }

// SafeUser makes a user identifier safe for filenames: "@" becomes "_at_"
// and path-hostile characters become underscores.
func SafeUser(user string) string {
	replacer := strings.NewReplacer("@", "_at_", "/", "_", "\\", "_", ":", "_")
	return replacer.Replace(user)
}

// writeFileAtomic writes state files with owner-only permissions via a
// temp file and rename.
func (m *Manager) writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

func (m *Manager) readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

func (m *Manager) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return m.writeFileAtomic(path, append(data, '\n'))
}
