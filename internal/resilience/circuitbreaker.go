// Package resilience keeps slow or failing dependencies from dragging down
// the combat loop.
//
// [CircuitBreaker] guards a single dependency (the progress store, a speech
// backend). [FallbackGroup] chains several interchangeable dependencies, each
// behind its own breaker, and [STTFallback] applies that to speech
// recognisers. All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the mode a [CircuitBreaker] is in.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the cool-down
	// has passed.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. One failed
	// probe re-opens the breaker; enough successful ones close it.
	StateHalfOpen
)

// String returns the state name used in logs and metric attributes.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values select defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the run of consecutive failures that opens the breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is the cool-down before an open breaker admits probes.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the probe budget and the number of successful
	// probes needed to close again. Default 3.
	HalfOpenMax int

	// IsSuccessful classifies the error returned by a guarded call. Errors it
	// accepts do not count as failures (for example a rejected request that
	// says nothing about the dependency's health). Default: err == nil.
	IsSuccessful func(err error) bool

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Default time.Now.
	Now func() time.Time
}

// CircuitBreaker is a closed/open/half-open breaker.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
	passed   int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = func(err error) bool { return err == nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker is open or out of probes, in which case
// it returns [ErrCircuitOpen] without calling fn. fn's error is returned
// unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, cb.cfg.IsSuccessful(err))
	return err
}

// admit decides whether a call may proceed and whether it counts as a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var change func()
	defer func() {
		cb.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	switch cb.state {
	case StateOpen:
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		change = cb.setLocked(StateHalfOpen)
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
	case StateClosed:
		return false, nil
	}
	cb.probes++
	return true, nil
}

func (cb *CircuitBreaker) record(probe, ok bool) {
	cb.mu.Lock()
	var change func()
	switch {
	case probe && !ok:
		change = cb.setLocked(StateOpen)
	case probe && ok:
		// A late probe after Reset or a re-open is ignored.
		if cb.state == StateHalfOpen {
			cb.passed++
			if cb.passed >= cb.cfg.HalfOpenMax {
				change = cb.setLocked(StateClosed)
			}
		}
	case !ok:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			change = cb.setLocked(StateOpen)
		}
	default:
		cb.failures = 0
	}
	cb.mu.Unlock()
	if change != nil {
		change()
	}
}

// setLocked moves to state to, resets the counters that belong to it and
// returns the notification to run after unlocking. Must hold cb.mu.
func (cb *CircuitBreaker) setLocked(to State) func() {
	from := cb.state
	cb.state = to
	cb.probes, cb.passed = 0, 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.cfg.Now()
	case StateClosed:
		cb.failures = 0
	}
	if from == to {
		return nil
	}
	name, notify := cb.cfg.Name, cb.cfg.OnStateChange
	return func() {
		level := slog.LevelInfo
		if to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state changed", "name", name, "from", from, "to", to)
		if notify != nil {
			notify(name, from, to)
		}
	}
}

// State reports the current state. An open breaker whose cool-down has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.setLocked(StateClosed)
	cb.mu.Unlock()
	if change != nil {
		change()
	}
}
