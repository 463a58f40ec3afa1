// Package calibration measures and stores each player's ambient noise floor.
//
// The baseline is the rounded mean of the sampler levels observed during a
// short quiet window. Attacks only count loudness above it.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultWindow is the length of the measuring window.
	DefaultWindow = 5 * time.Second

	// DefaultBaseline is used for players who never calibrated.
	DefaultBaseline = 30.0
)

// ErrNotFound is returned by [Store.Load] when no profile exists for a user.
var ErrNotFound = errors.New("calibration: profile not found")

// Profile is a user's calibrated noise floor.
type Profile struct {
	BaselineDB float64   `json:"baseline_db"`
	MeasuredAt time.Time `json:"measured_at"`
	Samples    int       `json:"samples"`
}

// Validate checks that the baseline lies on the sampler scale.
func (p Profile) Validate() error {
	if math.IsNaN(p.BaselineDB) || p.BaselineDB < 0 || p.BaselineDB > 100 {
		return fmt.Errorf("calibration: baseline %.1f out of range [0, 100]", p.BaselineDB)
	}
	return nil
}

// Store persists calibration profiles. Implementations must be safe for
// concurrent use.
type Store interface {
	Save(ctx context.Context, userID string, p Profile) error
	Load(ctx context.Context, userID string) (Profile, error)
}

// BaselineFor loads the user's baseline, falling back to fallback when the
// user never calibrated. Other load errors are returned.
func BaselineFor(ctx context.Context, s Store, userID string, fallback float64) (float64, error) {
	p, err := s.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return fallback, err
	}
	return p.BaselineDB, nil
}

// Calibrator averages levels over a fixed window.
type Calibrator struct {
	window time.Duration
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
}

// Option configures a [Calibrator].
type Option func(*Calibrator)

// WithWindow overrides [DefaultWindow]. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(c *Calibrator) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithClock replaces the wall clock and timer, for tests.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(c *Calibrator) {
		c.now = now
		c.after = after
	}
}

// New returns a calibrator with a 5 second window.
func New(opts ...Option) *Calibrator {
	c := &Calibrator{window: DefaultWindow, now: time.Now, after: time.After}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Window returns the measuring window.
func (c *Calibrator) Window() time.Duration { return c.window }

// Measure collects levels until the window elapses or levels is closed and
// returns the rounded mean. An empty window yields a baseline of 0.
// Cancelling ctx aborts the measurement with ctx.Err().
func (c *Calibrator) Measure(ctx context.Context, levels <-chan float64) (Profile, error) {
	deadline := c.after(c.window)
	var (
		sum float64
		n   int
	)
loop:
	for {
		select {
		case <-ctx.Done():
			return Profile{}, fmt.Errorf("calibration: measure: %w", ctx.Err())
		case <-deadline:
			break loop
		case v, ok := <-levels:
			if !ok {
				break loop
			}
			sum += v
			n++
		}
	}

	p := Profile{MeasuredAt: c.now(), Samples: n}
	if n > 0 {
		p.BaselineDB = math.Floor(sum/float64(n) + 0.5)
	}
	return p, nil
}
