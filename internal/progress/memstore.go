package progress

import (
	"context"
	"sync"
)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu      sync.Mutex
	players map[string]Player
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{players: make(map[string]Player)}
}

// Get implements [Store]. Unknown users read as a fresh player.
func (m *MemStore) Get(_ context.Context, userID string) (Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.players[userID]; ok {
		return p, nil
	}
	return NewPlayer(userID), nil
}

// Update implements [Store].
func (m *MemStore) Update(_ context.Context, userID string, fn func(*Player) error) (Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[userID]
	if !ok {
		p = NewPlayer(userID)
	}
	if err := fn(&p); err != nil {
		return Player{}, err
	}
	m.players[userID] = p
	return p, nil
}
