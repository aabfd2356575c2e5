package secretstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/raibid-labs/sigilforge/internal/secret"
)

// Memory is the in-process Store used by tests and by any caller that
// doesn't want a production keyring dependency. It is backed by a plain
// sync.RWMutex, which never poisons on panic the way a mutex in some other
// ecosystems can — Go's mutexes simply don't have that failure mode, so no
// recovery dance is needed here.
type Memory struct {
	mu   sync.RWMutex
	data map[string]secret.Secret
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]secret.Secret)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (secret.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return secret.Secret{}, NotFound(key)
	}
	return v, nil
}

// Set implements Store. The swap happens under the write lock so a
// concurrent reader never observes a half-written value.
func (m *Memory) Set(_ context.Context, key string, value secret.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete implements Store and is idempotent.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// List implements Store, returning an owned, sorted copy of the matching
// keys so callers can't observe (or corrupt) the store's internal map.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Exists implements Store with a direct map probe rather than delegating
// to Get, since the memory backend can do this more cheaply.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

var _ Store = (*Memory)(nil)
