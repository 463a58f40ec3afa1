package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lastecho/internal/lexicon"
	"github.com/MrWong99/lastecho/internal/mic"
	"github.com/MrWong99/lastecho/internal/sampler"
	"github.com/MrWong99/lastecho/internal/transcript"
	"github.com/MrWong99/lastecho/pkg/audio"
	"github.com/MrWong99/lastecho/pkg/provider/stt"
)

// ErrNotActive is returned by operations that need a running session.
var ErrNotActive = errors.New("session: not listening")

const (
	noviceBoost   = 2.0
	ultimateBoost = 3.0

	// DefaultDialTimeout bounds how long Start waits for the recogniser.
	DefaultDialTimeout = 5 * time.Second
)

// Controller starts and stops listening for one combat view. It holds at most
// one microphone stream and one processing context. All methods are safe for
// concurrent use.
type Controller struct {
	mic      *mic.Manager
	pctx     sampler.ProcessingContext
	sampler  *sampler.Sampler
	stt      stt.Provider
	catalog  lexicon.Source
	language string
	dial     time.Duration
	state    *Listening

	levelObservers []func(sampler.Sample)
	textOptions    []transcript.Option

	// lifecycle serialises Start, Stop and Finish. active is readable
	// without it so a slow Start never blocks Active.
	lifecycle sync.Mutex
	active    atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	handle    stt.SessionHandle
}

// Option configures a [Controller].
type Option func(*Controller)

// WithLanguage sets the recognition language. The default is "ko".
func WithLanguage(lang string) Option {
	return func(c *Controller) { c.language = lang }
}

// WithCatalog boosts the catalog's phrases in recognition.
func WithCatalog(src lexicon.Source) Option {
	return func(c *Controller) { c.catalog = src }
}

// WithLevelObserver registers fn to see every level reading after it was
// applied to the state.
func WithLevelObserver(fn func(sampler.Sample)) Option {
	return func(c *Controller) { c.levelObservers = append(c.levelObservers, fn) }
}

// WithTranscriptObserver registers fn to see every applied transcript result.
func WithTranscriptObserver(fn transcript.Observer) Option {
	return func(c *Controller) { c.textOptions = append(c.textOptions, transcript.WithObserver(fn)) }
}

// WithDialTimeout bounds how long Start waits for the recogniser to open a
// stream. When it expires listening continues without recognition.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Controller) { c.dial = d }
}

// WithSampler replaces the default sampler built on the processing context.
func WithSampler(s *sampler.Sampler) Option {
	return func(c *Controller) { c.sampler = s }
}

// NewController wires a controller. A nil provider means no recognition.
func NewController(m *mic.Manager, pctx sampler.ProcessingContext, provider stt.Provider, opts ...Option) *Controller {
	if provider == nil {
		provider = stt.None{}
	}
	c := &Controller{
		mic:      m,
		pctx:     pctx,
		stt:      provider,
		language: "ko",
		dial:     DefaultDialTimeout,
		state:    &Listening{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.sampler == nil {
		c.sampler = sampler.New(pctx)
	}
	return c
}

// State returns the shared listening state.
func (c *Controller) State() *Listening { return c.state }

// Snapshot is shorthand for State().Snapshot().
func (c *Controller) Snapshot() Snapshot { return c.state.Snapshot() }

// Active reports whether the controller is listening.
func (c *Controller) Active() bool { return c.active.Load() }

// Start acquires the microphone, resumes the processing context and starts
// the sampler and transcript producers. Calling Start while already active
// does nothing.
//
// Microphone failures are returned as *mic.AccessError. A recogniser that
// fails to start is logged and replaced by a silent one, so keyword attacks
// degrade to "no keyword" instead of failing.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.active.Load() {
		return nil
	}

	stream, err := c.mic.RequestAccess(ctx)
	if err != nil {
		return err
	}
	if err := c.sampler.Start(ctx); err != nil {
		c.mic.Release()
		return fmt.Errorf("session: start: %w", err)
	}

	format := stream.Format()
	dctx, cancelDial := context.WithTimeout(ctx, c.dial)
	handle, err := c.stt.StartStream(dctx, stt.StreamConfig{
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Language:   c.language,
		Keywords:   c.keywords(),
	})
	cancelDial()
	if err != nil {
		slog.Warn("speech recognition unavailable, continuing without it", "err", err)
		handle, _ = stt.None{}.StartStream(context.Background(), stt.StreamConfig{})
	}

	c.state.Begin()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	levels := make(chan audio.AudioFrame, 16)
	sink := c.levelSink()
	text := transcript.New(c.textOptions...)

	g.Go(func() error { return pump(gctx, stream, levels, handle) })
	g.Go(func() error { return c.sampler.Run(gctx, levels, sink) })
	g.Go(func() error { return text.Run(gctx, handle, c.state) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("listening pipeline stopped", "err", err)
		}
	}()

	c.active.Store(true)
	c.cancel = cancel
	c.done = done
	c.handle = handle
	slog.Debug("listening started", "format", format.String())
	return nil
}

// Stop halts both producers, waits for them, closes the recogniser and
// releases the microphone. The current level drops to 0; the peak and the
// transcript stay readable until the next Start. Stop is idempotent.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopLocked()
}

// Finish ends the listening session for an attack: it stops listening,
// returns the final snapshot and resets the state so the same shout cannot be
// resolved twice. It returns ErrNotActive when nothing is listening.
func (c *Controller) Finish() (Snapshot, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if !c.active.Load() {
		return Snapshot{}, ErrNotActive
	}
	c.stopLocked()
	snap := c.state.Snapshot()
	c.state.Reset()
	return snap, nil
}

func (c *Controller) stopLocked() {
	if !c.active.Load() {
		return
	}
	c.cancel()
	if err := c.handle.Close(); err != nil {
		slog.Debug("closing recogniser", "err", err)
	}
	c.mic.Release()
	<-c.done

	c.state.End()
	c.active.Store(false)
	c.cancel = nil
	c.done = nil
	c.handle = nil
	slog.Debug("listening stopped")
}

// Close stops listening and closes the processing context.
func (c *Controller) Close() error {
	c.Stop()
	return c.pctx.Close()
}

func (c *Controller) levelSink() sampler.LevelSink {
	if len(c.levelObservers) == 0 {
		return c.state
	}
	return sampler.SinkFunc(func(s sampler.Sample) {
		c.state.Observe(s)
		for _, fn := range c.levelObservers {
			fn(s)
		}
	})
}

func (c *Controller) keywords() []stt.KeywordBoost {
	if c.catalog == nil {
		return nil
	}
	cat := c.catalog.Current()
	if cat == nil {
		return nil
	}
	var out []stt.KeywordBoost
	for _, k := range cat.All() {
		boost := noviceBoost
		if k.Tier == lexicon.TierUltimate {
			boost = ultimateBoost
		}
		out = append(out, stt.KeywordBoost{Keyword: k.Phrase, Boost: boost})
	}
	return out
}

// pump fans the capture stream out to the sampler and the recogniser. It
// closes levels when the stream ends.
func pump(ctx context.Context, stream audio.Stream, levels chan<- audio.AudioFrame, handle stt.SessionHandle) error {
	defer close(levels)
	frames := stream.Frames()
	sendFailed := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			select {
			case levels <- f:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := handle.SendAudio(f.Data); err != nil && !sendFailed {
				sendFailed = true
				slog.Debug("recogniser rejected audio", "err", err)
			}
		}
	}
}
