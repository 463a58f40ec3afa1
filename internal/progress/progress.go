// Package progress tracks player experience, level and class, and is the
// reward sink combat and trials report victories to.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/lastecho/internal/combat"
	"github.com/MrWong99/lastecho/internal/resilience"
)

// expPerLevel is the experience needed to advance, multiplied by the
// current level.
const expPerLevel = 100

// ErrInvalidGain is returned for non-positive experience grants.
var ErrInvalidGain = errors.New("progress: experience gain must be positive")

// Player is one user's persistent progression.
type Player struct {
	UserID string       `json:"user_id"`
	Level  int          `json:"level"`
	Exp    int          `json:"exp"`
	Class  combat.Class `json:"class"`
}

// NewPlayer returns a fresh level 1 commoner.
func NewPlayer(userID string) Player {
	return Player{UserID: userID, Level: 1, Class: combat.ClassCommoner}
}

// AddExp applies gain to p. When the total reaches level*100 the player
// advances exactly one level and keeps the excess; a very large grant never
// skips levels.
func AddExp(p Player, gain int) (Player, bool) {
	p.Exp += gain
	threshold := p.Level * expPerLevel
	if p.Exp >= threshold {
		p.Level++
		p.Exp -= threshold
		return p, true
	}
	return p, false
}

// Store persists players. Update runs fn on the stored player (a fresh
// [NewPlayer] if none exists) and saves the result atomically.
type Store interface {
	Get(ctx context.Context, userID string) (Player, error)
	Update(ctx context.Context, userID string, fn func(*Player) error) (Player, error)
}

// Sink receives experience rewards.
type Sink interface {
	Grant(ctx context.Context, userID string, exp int) error
}

// Service applies progression rules on top of a [Store]. Writes pass through
// a circuit breaker so a failing database is skipped quickly instead of
// stalling every victory screen.
type Service struct {
	store   Store
	breaker *resilience.CircuitBreaker
}

var _ Sink = (*Service)(nil)

// Option configures a [Service].
type Option func(*Service)

// WithBreaker overrides the default breaker settings.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Service) {
		if cfg.Name == "" {
			cfg.Name = "progress"
		}
		s.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// NewService returns a service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "progress"}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the player, creating nothing.
func (s *Service) Get(ctx context.Context, userID string) (Player, error) {
	p, err := s.store.Get(ctx, userID)
	if err != nil {
		return Player{}, fmt.Errorf("progress: get %q: %w", userID, err)
	}
	return p, nil
}

// Grant implements [Sink].
func (s *Service) Grant(ctx context.Context, userID string, exp int) error {
	if exp <= 0 {
		return ErrInvalidGain
	}
	var (
		updated  Player
		levelled bool
	)
	err := s.breaker.Execute(func() error {
		var err error
		updated, err = s.store.Update(ctx, userID, func(p *Player) error {
			*p, levelled = AddExp(*p, exp)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("progress: grant %d exp to %q: %w", exp, userID, err)
	}
	slog.Info("experience granted",
		"user_id", userID,
		"exp", exp,
		"level", updated.Level,
		"level_up", levelled,
	)
	return nil
}

// SetClass changes the player's class. Only selectable classes are accepted.
func (s *Service) SetClass(ctx context.Context, userID, class string) (Player, error) {
	c, err := combat.ParseClass(class)
	if err != nil {
		return Player{}, err
	}
	var p Player
	err = s.breaker.Execute(func() error {
		var err error
		p, err = s.store.Update(ctx, userID, func(pl *Player) error {
			pl.Class = c
			return nil
		})
		return err
	})
	if err != nil {
		return Player{}, fmt.Errorf("progress: set class for %q: %w", userID, err)
	}
	return p, nil
}
