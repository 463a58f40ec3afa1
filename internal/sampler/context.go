package sampler

import (
	"context"
	"errors"
	"sync"
)

// ErrContextClosed is returned when resuming a closed processing context.
var ErrContextClosed = errors.New("sampler: processing context is closed")

// ContextState mirrors the lifecycle of a platform audio-processing context.
type ContextState string

const (
	StateSuspended ContextState = "suspended"
	StateRunning   ContextState = "running"
	StateClosed    ContextState = "closed"
)

// ProcessingContext gates whether audio reaches the analyser. Platforms
// create contexts suspended until a user gesture resumes them; a suspended
// context yields silence.
type ProcessingContext interface {
	State() ContextState
	Resume(ctx context.Context) error
	Close() error
}

// AudioContext is the in-process [ProcessingContext]. It starts suspended.
type AudioContext struct {
	mu    sync.Mutex
	state ContextState
}

var _ ProcessingContext = (*AudioContext)(nil)

// NewAudioContext returns a suspended context.
func NewAudioContext() *AudioContext {
	return &AudioContext{state: StateSuspended}
}

// State implements [ProcessingContext].
func (c *AudioContext) State() ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume implements [ProcessingContext].
func (c *AudioContext) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrContextClosed
	}
	c.state = StateRunning
	return nil
}

// Suspend pauses processing, as platforms do when a page is backgrounded.
func (c *AudioContext) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		c.state = StateSuspended
	}
}

// Close implements [ProcessingContext]. Closing twice is a no-op.
func (c *AudioContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	return nil
}
