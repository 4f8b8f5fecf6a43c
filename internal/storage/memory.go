package storage

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
)

// MemoryStore keeps resources in process memory. Resources can be registered at runtime with Put,
// which makes it the store used by tests and by applications that embed their assets.
type MemoryStore struct {
	mu      sync.RWMutex
	scopes  map[types.ScopeID]map[string][]byte
	fetches map[string]uint64
	total   uint64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scopes:  make(map[types.ScopeID]map[string][]byte),
		fetches: make(map[string]uint64),
	}
}

// Put registers data at p within scope, replacing anything already there.
func (m *MemoryStore) Put(scope types.ScopeID, p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.scopes[scope]
	if !ok {
		entries = make(map[string][]byte)
		m.scopes[scope] = entries
	}
	entries[cleanPath(p)] = append([]byte(nil), data...)
}

// Delete removes p from scope.
func (m *MemoryStore) Delete(scope types.ScopeID, p string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entries, ok := m.scopes[scope]; ok {
		delete(entries, cleanPath(p))
	}
}

// Fetch implements types.Store.
func (m *MemoryStore) Fetch(ctx context.Context, scope types.ScopeID, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "fetch canceled", err)
	}

	p = cleanPath(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.fetches[fetchKey(scope, p)]++

	entries, ok := m.scopes[scope]
	if !ok && scope != types.DefaultScope {
		return nil, scopeNotFound(scope)
	}
	data, ok := entries[p]
	if !ok {
		return nil, notFound(scope, p)
	}
	return append([]byte(nil), data...), nil
}

// List implements types.Store. It returns the direct children of dir, sorted.
func (m *MemoryStore) List(ctx context.Context, scope types.ScopeID, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "list canceled", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, ok := m.scopes[scope]
	if !ok && scope != types.DefaultScope {
		return nil, scopeNotFound(scope)
	}

	prefix := cleanPath(dir)
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]struct{})
	for p := range entries {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		child, _, _ := strings.Cut(strings.TrimPrefix(p, prefix), "/")
		seen[child] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, notFound(scope, dir)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Fetches returns how many times p was fetched in scope, found or not.
func (m *MemoryStore) Fetches(scope types.ScopeID, p string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches[fetchKey(scope, cleanPath(p))]
}

// TotalFetches returns the number of Fetch calls.
func (m *MemoryStore) TotalFetches() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

func fetchKey(scope types.ScopeID, p string) string {
	return string(scope) + "\x00" + p
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
