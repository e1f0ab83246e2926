package target

import (
	"context"
	"sync"
)

// MemoryStore holds in-memory targets. It exists for tests and examples:
// build-engine behavior can be exercised without touching the filesystem.
type MemoryStore struct {
	mu     sync.RWMutex
	bodies map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bodies: make(map[string][]byte)}
}

// Target returns a target addressing the given key in the store.
func (s *MemoryStore) Target(key string) *MemoryTarget {
	return &MemoryTarget{store: s, key: key}
}

// MemoryTarget is a target backed by a MemoryStore entry.
type MemoryTarget struct {
	store *MemoryStore
	key   string
}

func (t *MemoryTarget) URI() string { return "mem://" + t.key }

func (t *MemoryTarget) Exists(_ context.Context) (bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.bodies[t.key]
	return ok, nil
}

// Write stores the body, marking the target as existing.
func (t *MemoryTarget) Write(body []byte) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.bodies[t.key] = append([]byte(nil), body...)
}

// Read returns the stored body, or nil if the target does not exist.
func (t *MemoryTarget) Read() []byte {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	body, ok := t.store.bodies[t.key]
	if !ok {
		return nil
	}
	return append([]byte(nil), body...)
}
