package trial

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lastecho/internal/progress"
	"github.com/MrWong99/lastecho/internal/session"
)

// Default clock rates.
const (
	DefaultTick   = 100 * time.Millisecond
	DefaultSecond = time.Second
)

// Listener is the part of the listening session a trial reads.
// [*session.Listening] implements it.
type Listener interface {
	Snapshot() session.Snapshot
	ClearTranscript()
}

var _ Listener = (*session.Listening)(nil)

// Runner drives one attempt at a trial against a live listener and grants
// the reward on success.
type Runner struct {
	def      Definition
	userID   string
	listener Listener
	sink     progress.Sink
	tick     time.Duration
	second   time.Duration
	onUpdate func(Snapshot)

	mu      sync.Mutex
	state   *State
	granted bool
}

// Option configures a [Runner].
type Option func(*Runner)

// WithTick sets the evaluation interval. Defaults to [DefaultTick].
func WithTick(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithSecond sets the length of one countdown step. Defaults to
// [DefaultSecond]; tests shorten it.
func WithSecond(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.second = d
		}
	}
}

// WithUpdates registers fn to receive every changed snapshot.
func WithUpdates(fn func(Snapshot)) Option {
	return func(r *Runner) { r.onUpdate = fn }
}

// NewRunner prepares an attempt at def for userID. sink may be nil, in which
// case no reward is recorded.
func NewRunner(def Definition, userID string, l Listener, sink progress.Sink, opts ...Option) *Runner {
	r := &Runner{
		def:      def,
		userID:   userID,
		listener: l,
		sink:     sink,
		tick:     DefaultTick,
		second:   DefaultSecond,
		state:    NewState(def),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Snapshot returns the attempt's current state. Safe for concurrent use.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Snapshot()
}

// Run starts the attempt and blocks until it succeeds, fails or ctx is
// cancelled. On success the reward is granted at most once per Runner, even
// if Run is called again.
func (r *Runner) Run(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	r.state.Start()
	last := r.state.Snapshot()
	r.mu.Unlock()
	r.notify(last)

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	clock := time.NewTicker(r.second)
	defer clock.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.Snapshot(), ctx.Err()
		case <-ticker.C:
			snap := r.step(func(s *State) {
				ls := r.listener.Snapshot()
				if s.Tick(Reading{CurrentLevel: ls.CurrentLevel, PeakLevel: ls.PeakLevel, Transcript: ls.Transcript}) {
					r.listener.ClearTranscript()
				}
			})
			if snap != last {
				r.notify(snap)
				last = snap
			}
			if snap.Status != StatusPlaying {
				return r.finish(ctx, snap)
			}
		case <-clock.C:
			snap := r.step((*State).Second)
			if snap != last {
				r.notify(snap)
				last = snap
			}
			if snap.Status != StatusPlaying {
				return r.finish(ctx, snap)
			}
		}
	}
}

func (r *Runner) step(fn func(*State)) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.state)
	return r.state.Snapshot()
}

func (r *Runner) finish(ctx context.Context, snap Snapshot) (Snapshot, error) {
	slog.Info("trial finished", "trial", r.def.ID, "user", r.userID, "status", snap.Status)
	if snap.Status != StatusSuccess {
		return snap, nil
	}

	r.mu.Lock()
	if r.granted {
		r.mu.Unlock()
		return snap, nil
	}
	r.granted = true
	r.mu.Unlock()

	if r.sink == nil || r.def.RewardExp <= 0 {
		return snap, nil
	}
	if err := r.sink.Grant(ctx, r.userID, r.def.RewardExp); err != nil {
		return snap, fmt.Errorf("trial: grant reward: %w", err)
	}
	return snap, nil
}

func (r *Runner) notify(s Snapshot) {
	if r.onUpdate != nil {
		r.onUpdate(s)
	}
}
