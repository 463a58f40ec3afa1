// Package server exposes combat and trials to browser clients.
//
// Each fight or trial attempt is one WebSocket. The browser streams captured
// microphone audio as binary frames and its own speech recognition results as
// transcript frames; the server owns the listening session, resolves attacks
// and reports levels, results and rewards back. A small REST surface serves
// the static game data, calibration profiles and class selection.
package server

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/lastecho/internal/calibration"
	"github.com/MrWong99/lastecho/internal/combat"
	"github.com/MrWong99/lastecho/internal/config"
	"github.com/MrWong99/lastecho/internal/health"
	"github.com/MrWong99/lastecho/internal/lexicon"
	"github.com/MrWong99/lastecho/internal/observe"
	"github.com/MrWong99/lastecho/internal/progress"
	"github.com/MrWong99/lastecho/internal/trial"
	"github.com/MrWong99/lastecho/pkg/provider/stt"
	"github.com/MrWong99/lastecho/pkg/provider/stt/relay"
)

// STTFactory builds the recogniser for one connection. rl is that
// connection's relay, which carries the transcripts the browser recognised
// itself.
type STTFactory func(rl *relay.Provider) (stt.Provider, error)

// Deps are the collaborators every server needs.
type Deps struct {
	Catalog     lexicon.Source
	Resolver    *combat.Resolver
	Roster      *combat.Roster
	Trials      *trial.Catalog
	Calibration calibration.Store
	Progress    *progress.Service
}

func (d Deps) validate() error {
	var errs []error
	if d.Catalog == nil {
		errs = append(errs, errors.New("server: catalog is required"))
	}
	if d.Resolver == nil {
		errs = append(errs, errors.New("server: resolver is required"))
	}
	if d.Roster == nil {
		errs = append(errs, errors.New("server: roster is required"))
	}
	if d.Trials == nil {
		errs = append(errs, errors.New("server: trial catalog is required"))
	}
	if d.Calibration == nil {
		errs = append(errs, errors.New("server: calibration store is required"))
	}
	if d.Progress == nil {
		errs = append(errs, errors.New("server: progress service is required"))
	}
	return errors.Join(errs...)
}

// Server handles HTTP and WebSocket traffic. It is safe for concurrent use.
type Server struct {
	cfg      config.ServerConfig
	deps     Deps
	trials   atomic.Pointer[trial.Catalog]
	baseline float64
	language string
	newSTT   STTFactory
	metrics  *observe.Metrics
	checks   []health.Checker
	scrape   http.Handler

	trialTick   time.Duration
	trialSecond time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithSTT sets the per-connection recogniser factory. Without it every
// connection recognises through its relay only.
func WithSTT(f STTFactory) Option {
	return func(s *Server) { s.newSTT = f }
}

// WithDefaultBaseline sets the baseline used for players who never
// calibrated. Defaults to [calibration.DefaultBaseline].
func WithDefaultBaseline(db float64) Option {
	return func(s *Server) { s.baseline = db }
}

// WithLanguage sets the recognition language passed to recognisers.
func WithLanguage(lang string) Option {
	return func(s *Server) {
		if lang != "" {
			s.language = lang
		}
	}
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthChecks registers readiness checks served on /readyz.
func WithHealthChecks(checks ...health.Checker) Option {
	return func(s *Server) { s.checks = append(s.checks, checks...) }
}

// WithMetricsHandler serves h on /metrics. Defaults to promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.scrape = h }
}

// WithTrialClock overrides the trial evaluation tick and countdown step.
func WithTrialClock(tick, second time.Duration) Option {
	return func(s *Server) {
		s.trialTick = tick
		s.trialSecond = second
	}
}

// New returns a server. deps must be complete.
func New(cfg config.ServerConfig, deps Deps, opts ...Option) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:         cfg,
		deps:        deps,
		baseline:    calibration.DefaultBaseline,
		language:    "ko",
		trialTick:   trial.DefaultTick,
		trialSecond: trial.DefaultSecond,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.scrape == nil {
		s.scrape = promhttp.Handler()
	}
	if s.cfg.LevelInterval <= 0 {
		s.cfg.LevelInterval = config.DefaultLevelInterval
	}
	s.trials.Store(deps.Trials)
	return s, nil
}

// SetTrials replaces the trial catalog for connections opened afterwards.
func (s *Server) SetTrials(c *trial.Catalog) {
	if c != nil {
		s.trials.Store(c)
	}
}

// Handler returns the root handler with tracing and request metrics applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/catalog", s.handleCatalog)
	mux.HandleFunc("GET /v1/monsters", s.handleMonsters)
	mux.HandleFunc("GET /v1/trials", s.handleTrials)
	mux.HandleFunc("GET /v1/users/{userID}", s.handleGetPlayer)
	mux.HandleFunc("GET /v1/users/{userID}/calibration", s.handleGetCalibration)
	mux.HandleFunc("PUT /v1/users/{userID}/calibration", s.handlePutCalibration)
	mux.HandleFunc("POST /v1/users/{userID}/class", s.handleSetClass)
	mux.HandleFunc("POST /v1/resolve", s.handleResolve)

	mux.HandleFunc("GET /v1/combat/{monsterID}/ws", s.handleCombatSocket)
	mux.HandleFunc("GET /v1/trial/{trialID}/ws", s.handleTrialSocket)

	health.New(s.checks...).Register(mux)
	mux.Handle("GET /metrics", s.scrape)

	return observe.Middleware(s.metrics)(mux)
}
