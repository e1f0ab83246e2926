package cliconfig

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/stardag/stardag/pkg/target"
)

// IDCache maps human slugs to UUIDs so CLI commands accept either form.
type IDCache map[string]string

// LoadIDCache reads id-cache.json; a missing file is an empty cache.
func (m *Manager) LoadIDCache() (IDCache, error) {
	cache := IDCache{}
	if _, err := m.readJSON(filepath.Join(m.root, idCacheFile), &cache); err != nil {
		return nil, err
	}
	return cache, nil
}

// SaveIDCache writes id-cache.json.
func (m *Manager) SaveIDCache(cache IDCache) error {
	return m.writeJSON(filepath.Join(m.root, idCacheFile), cache)
}

// Resolve maps a slug through the cache, passing through anything it does
// not know (UUIDs resolve to themselves).
func (c IDCache) Resolve(slugOrID string) string {
	if id, ok := c[slugOrID]; ok {
		return id
	}
	return slugOrID
}

// rootCacheKey scopes target roots per (registry, workspace, environment).
func rootCacheKey(registry, workspaceID, environmentID string) string {
	return registry + "|" + workspaceID + "|" + environmentID
}

// RootCache is the persisted form of target-root-cache.json.
type RootCache map[string]map[string]string

// LoadRootCache reads target-root-cache.json.
func (m *Manager) LoadRootCache() (RootCache, error) {
	cache := RootCache{}
	if _, err := m.readJSON(filepath.Join(m.root, rootCacheFile), &cache); err != nil {
		return nil, err
	}
	return cache, nil
}

// SaveTargetRoots replaces the cached roots for one scope.
func (m *Manager) SaveTargetRoots(registry, workspaceID, environmentID string, roots map[string]string) error {
	cache, err := m.LoadRootCache()
	if err != nil {
		return err
	}
	cache[rootCacheKey(registry, workspaceID, environmentID)] = roots
	return m.writeJSON(filepath.Join(m.root, rootCacheFile), cache)
}

// TargetRoots returns the cached roots for one scope with any
// STARDAG_TARGET_ROOTS__<NAME> environment overrides applied. Override
// names are matched case-insensitively against lowercase root names.
func (m *Manager) TargetRoots(registry, workspaceID, environmentID string) (target.Roots, error) {
	cache, err := m.LoadRootCache()
	if err != nil {
		return nil, err
	}
	roots := target.Roots{}
	for name, uri := range cache[rootCacheKey(registry, workspaceID, environmentID)] {
		roots[name] = uri
	}
	return roots.Merge(m.envRootOverrides()), nil
}

func (m *Manager) envRootOverrides() target.Roots {
	overrides := target.Roots{}
	for _, entry := range m.listEnv() {
		key, value, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(key, targetRootsPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, targetRootsPrefix))
		if name == "" {
			continue
		}
		overrides[name] = value
	}
	return overrides
}

// String renders the cache scope for debugging output.
func (c RootCache) String() string {
	return fmt.Sprintf("target-root cache with %d scope(s)", len(c))
}
