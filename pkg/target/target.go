// Package target abstracts task outputs. A target answers one question,
// "does this output exist", and completion of a task is defined as its
// target existing. The registry never reads target contents.
package target

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Target is an addressable task output.
type Target interface {
	// Exists reports whether the output has been written.
	Exists(ctx context.Context) (bool, error)
	// URI is the target's stable address, used for logging and dedup.
	URI() string
}

// Roots maps target-root names to URI prefixes, as configured per
// environment in the registry (e.g. "default" -> "file:///data/outputs").
type Roots map[string]string

// Resolve joins a relative path onto a named root. The relative path must
// not escape the root.
func (r Roots) Resolve(root, relpath string) (string, error) {
	base, ok := r[root]
	if !ok {
		return "", fmt.Errorf("target root %q is not configured", root)
	}
	rel := strings.TrimPrefix(relpath, "/")
	if rel == "" {
		return "", fmt.Errorf("empty path under target root %q", root)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path %q escapes target root %q", relpath, root)
		}
	}
	return strings.TrimSuffix(base, "/") + "/" + rel, nil
}

// Names returns the configured root names, sorted.
func (r Roots) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge returns a copy of r with the overrides applied on top. Used for the
// per-root environment variable overrides.
func (r Roots) Merge(overrides Roots) Roots {
	out := make(Roots, len(r)+len(overrides))
	for name, uri := range r {
		out[name] = uri
	}
	for name, uri := range overrides {
		out[name] = uri
	}
	return out
}
