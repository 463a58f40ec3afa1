package calibration

import (
	"context"
	"sync"
)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{profiles: make(map[string]Profile)}
}

// Save implements [Store].
func (m *MemStore) Save(_ context.Context, userID string, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID] = p
	return nil
}

// Load implements [Store].
func (m *MemStore) Load(_ context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}
