package config

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when the requested key does not exist.
var ErrNotFound = errors.New("config: key not found")

// Store is the read/write interface for the dynamic configuration table.
// Implementations must be safe for concurrent use; concurrent writers to the
// same key resolve last-writer-wins.
type Store interface {
	// Get returns the value associated with key. Returns ErrNotFound when
	// the key has not been set.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, creating or overwriting the entry.
	Set(ctx context.Context, key string, value string) error

	// Delete removes key from the store. It is a no-op (no error) when the
	// key does not exist.
	Delete(ctx context.Context, key string) error

	// List returns a snapshot of all key/value pairs currently in the store.
	// An empty map (not nil) is returned when no entries are present.
	List(ctx context.Context) (map[string]string, error)
}

// MemoryStore is an in-process Store for tests and single-shot tooling.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}
