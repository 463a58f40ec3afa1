package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/lastecho/pkg/audio"
)

// LevelSink receives every level reading.
type LevelSink interface {
	Observe(Sample)
}

// SinkFunc adapts a function to [LevelSink].
type SinkFunc func(Sample)

// Observe implements [LevelSink].
func (f SinkFunc) Observe(s Sample) { f(s) }

// Sample is one level reading. At is the stream time of the last sample that
// went into it.
type Sample struct {
	Level float64
	At    time.Duration
}

// Sampler turns a capture stream into level readings, one per hop of new
// samples.
type Sampler struct {
	pctx     ProcessingContext
	analyser *Analyser
	hop      int
}

// Option configures a [Sampler].
type Option func(*Sampler)

// WithHop sets how many new samples trigger a reading. The default is the
// FFT size, so readings do not overlap.
func WithHop(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.hop = n
		}
	}
}

// WithAnalyser replaces the default analyser.
func WithAnalyser(a *Analyser) Option {
	return func(s *Sampler) { s.analyser = a }
}

// New returns a sampler gated by pctx.
func New(pctx ProcessingContext, opts ...Option) *Sampler {
	s := &Sampler{pctx: pctx}
	for _, o := range opts {
		o(s)
	}
	if s.analyser == nil {
		s.analyser = NewAnalyser()
	}
	if s.hop == 0 {
		s.hop = s.analyser.Size()
	}
	return s
}

// Start resumes a suspended processing context and clears analyser history.
// Without it every reading would be 0.
func (s *Sampler) Start(ctx context.Context) error {
	s.analyser.Reset()
	if s.pctx.State() == StateRunning {
		return nil
	}
	if err := s.pctx.Resume(ctx); err != nil {
		return fmt.Errorf("sampler: resume: %w", err)
	}
	return nil
}

// Run feeds frames to the analyser and reports a level to sink for every hop.
// It returns nil when frames is closed and ctx.Err() when ctx is cancelled.
// While the processing context is not running the analyser sees silence.
func (s *Sampler) Run(ctx context.Context, frames <-chan audio.AudioFrame, sink LevelSink) error {
	pending := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			samples := audio.MonoFloat(f.Data, f.Channels)
			if s.pctx.State() != StateRunning {
				clear(samples)
			}
			consumed := 0
			for consumed < len(samples) {
				n := min(s.hop-pending, len(samples)-consumed)
				s.analyser.Write(samples[consumed : consumed+n])
				consumed += n
				pending += n
				if pending == s.hop {
					pending = 0
					sink.Observe(Sample{
						Level: s.analyser.Level(),
						At:    f.Timestamp + offset(consumed, f.SampleRate),
					})
				}
			}
		}
	}
}

func offset(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
