package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error when no member of a [FallbackGroup]
// could serve a call.
var ErrAllFailed = errors.New("resilience: all members failed")

// FallbackConfig is the breaker template applied to every member of a
// [FallbackGroup]. The Name field is replaced by the member name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds interchangeable values of one type, tried in
// registration order. Members whose breaker is open are skipped. Members must
// be registered before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose first member is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends a member tried after all earlier ones.
func (g *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// States returns each member's breaker state keyed by member name.
func (g *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Execute calls fn with each member in turn until one succeeds.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(g, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for _, m := range g.members {
		var out R
		err := m.breaker.Execute(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("fallback member skipped", "member", m.name)
			continue
		}
		slog.Warn("fallback member failed", "member", m.name, "err", err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
