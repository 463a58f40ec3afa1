// Package mock provides a recording [progress.Sink] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lastecho/internal/progress"
)

// Grant is one recorded call.
type Grant struct {
	UserID string
	Exp    int
}

// Sink records grants and returns Err from every call.
type Sink struct {
	mu     sync.Mutex
	grants []Grant

	// Err is returned by Grant after recording the call.
	Err error
}

var _ progress.Sink = (*Sink)(nil)

// Grant implements [progress.Sink].
func (s *Sink) Grant(_ context.Context, userID string, exp int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = append(s.grants, Grant{UserID: userID, Exp: exp})
	return s.Err
}

// Grants returns a copy of all recorded grants.
func (s *Sink) Grants() []Grant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Grant(nil), s.grants...)
}
