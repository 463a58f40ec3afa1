// Package app wires all lastecho subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens storage, loads the game
// data and builds the HTTP server, Run serves until its context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject replacements via functional options (WithStores,
// WithRegistry, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/lastecho/internal/calibration"
	"github.com/MrWong99/lastecho/internal/combat"
	"github.com/MrWong99/lastecho/internal/config"
	"github.com/MrWong99/lastecho/internal/health"
	"github.com/MrWong99/lastecho/internal/lexicon"
	"github.com/MrWong99/lastecho/internal/observe"
	"github.com/MrWong99/lastecho/internal/progress"
	"github.com/MrWong99/lastecho/internal/resilience"
	"github.com/MrWong99/lastecho/internal/server"
	"github.com/MrWong99/lastecho/internal/storage/postgres"
	"github.com/MrWong99/lastecho/internal/storage/sqlite"
	"github.com/MrWong99/lastecho/internal/trial"
	"github.com/MrWong99/lastecho/pkg/provider/stt"
	"github.com/MrWong99/lastecho/pkg/provider/stt/relay"
)

const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	scrape   http.Handler
	level    *slog.LevelVar

	configPath    string
	watchInterval time.Duration

	// Subsystems, initialised in New and torn down in Shutdown.
	calib    calibration.Store
	players  progress.Store
	checks   []health.Checker
	catalog  *lexicon.Holder
	roster   *combat.Roster
	trials   *trial.Catalog
	progress *progress.Service
	srv      *server.Server
	httpSrv  *http.Server
	watcher  *config.Watcher

	// base is the parent of every request context. Cancelling it ends
	// WebSocket sessions, which http.Server.Shutdown does not track.
	base       context.Context
	cancelBase context.CancelFunc

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithStores injects the calibration and progress stores instead of opening
// the configured backend.
func WithStores(c calibration.Store, p progress.Store) Option {
	return func(a *App) {
		a.calib = c
		a.players = p
	}
}

// WithRegistry replaces the built-in recogniser registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics instead of promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithLogLevel lets configuration reloads adjust lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath watches path and applies catalog, trial and log level
// changes without a restart.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithWatchInterval sets how often the config file is polled.
func WithWatchInterval(d time.Duration) Option {
	return func(a *App) { a.watchInterval = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. On error everything
// opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterSTT(a.registry, a.metrics)
	}
	a.base, a.cancelBase = context.WithCancel(context.WithoutCancel(ctx))

	if err := a.init(ctx); err != nil {
		a.cancelBase()
		a.runClosers()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Game data ─────────────────────────────────────────────────────
	if err := a.initGameData(); err != nil {
		return fmt.Errorf("app: init game data: %w", err)
	}

	// ── 3. Progress ──────────────────────────────────────────────────────
	a.progress = progress.NewService(a.players, progress.WithBreaker(resilience.CircuitBreakerConfig{
		Name:         "progress",
		MaxFailures:  a.cfg.Reward.MaxFailures,
		ResetTimeout: a.cfg.Reward.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("reward store breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}))

	// ── 4. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return fmt.Errorf("app: init server: %w", err)
	}

	// ── 5. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.reload, config.WithInterval(a.watchInterval))
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage opens the configured backend unless stores were injected.
func (a *App) initStorage(ctx context.Context) error {
	if a.calib != nil && a.players != nil {
		return nil
	}

	switch a.cfg.Storage.Backend {
	case config.StoragePostgres:
		store, err := postgres.NewStore(ctx, a.cfg.Storage.DSN)
		if err != nil {
			return err
		}
		a.calib, a.players = store.Calibration(), store.Progress()
		a.checks = append(a.checks, health.Ping("postgres", store))
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	case config.StorageSQLite:
		store, err := sqlite.Open(a.cfg.Storage.Path)
		if err != nil {
			return err
		}
		a.calib, a.players = store, store.Players()
		a.checks = append(a.checks, health.Ping("sqlite", store))
		a.closers = append(a.closers, store.Close)
	default:
		a.calib, a.players = calibration.NewMemStore(), progress.NewMemStore()
	}
	slog.Info("storage ready", "backend", a.cfg.Storage.Backend)
	return nil
}

// initGameData loads the keyword catalog, monster roster and trials.
func (a *App) initGameData() error {
	cat, err := LoadCatalog(a.cfg.Combat)
	if err != nil {
		return err
	}
	a.catalog = lexicon.NewHolder(cat)

	a.roster = combat.DefaultRoster()
	if path := a.cfg.Combat.MonstersFile; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read monsters %q: %w", path, err)
		}
		if a.roster, err = combat.LoadRoster(data); err != nil {
			return fmt.Errorf("monsters %q: %w", path, err)
		}
	}

	if a.trials, err = loadTrials(a.cfg.Trials); err != nil {
		return err
	}

	slog.Info("game data loaded",
		"catalog", cat.Version(),
		"keywords", len(cat.All()),
		"monsters", len(a.roster.All()),
		"trials", len(a.trials.All()),
	)
	return nil
}

func (a *App) initServer() error {
	opts := []server.Option{
		server.WithDefaultBaseline(a.cfg.Combat.DefaultBaselineDB),
		server.WithLanguage(a.cfg.STT.Language),
		server.WithMetrics(a.metrics),
		server.WithHealthChecks(a.checks...),
		server.WithSTT(func(rl *relay.Provider) (stt.Provider, error) {
			return a.registry.CreateSTT(a.cfg.STT, rl)
		}),
	}
	if a.scrape != nil {
		opts = append(opts, server.WithMetricsHandler(a.scrape))
	}

	srv, err := server.New(a.cfg.Server, server.Deps{
		Catalog:     a.catalog,
		Resolver:    combat.NewResolver(a.catalog, combat.WithHints(a.cfg.Combat.HintThreshold)),
		Roster:      a.roster,
		Trials:      a.trials,
		Calibration: a.calib,
		Progress:    a.progress,
	}, opts...)
	if err != nil {
		return err
	}
	a.srv = srv
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return a.base },
	}
	return nil
}

// LoadCatalog returns the keyword catalog cfg selects.
func LoadCatalog(cfg config.CombatConfig) (*lexicon.Catalog, error) {
	if cfg.CatalogFile != "" {
		return lexicon.LoadCatalogFile(cfg.CatalogFile)
	}
	return lexicon.Builtin(cfg.CatalogVersion)
}

func loadTrials(cfg config.TrialsConfig) (*trial.Catalog, error) {
	if cfg.File != "" {
		return trial.LoadCatalogFile(cfg.File)
	}
	return trial.DefaultCatalog(), nil
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// reload applies a changed configuration. Catalog and trial files are
// re-read on every change since the watcher also fires when only their
// contents changed.
func (a *App) reload(old, cur *config.Config) {
	d := config.Diff(old, cur)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", string(d.NewLogLevel))
	}

	if d.CatalogChanged || cur.Combat.CatalogFile != "" {
		cat, err := LoadCatalog(cur.Combat)
		if err != nil {
			slog.Warn("keyword catalog reload failed, keeping current", "err", err)
		} else {
			prev := a.catalog.Swap(cat)
			slog.Info("keyword catalog reloaded", "from", prev.Version(), "to", cat.Version())
		}
	}

	if d.TrialsChanged || cur.Trials.File != "" {
		trials, err := loadTrials(cur.Trials)
		if err != nil {
			slog.Warn("trial catalog reload failed, keeping current", "err", err)
		} else {
			a.srv.SetTrials(trials)
			slog.Info("trial catalog reloaded", "trials", len(trials.All()))
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes need a restart", "settings", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Calibration returns the calibration store in use.
func (a *App) Calibration() calibration.Store { return a.calib }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Run listens on the configured address and serves until ctx is cancelled,
// then returns ctx.Err(). A listener failure is returned immediately.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		errc <- err
	}()
	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting requests, ends open sessions and closes every
// subsystem. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.cancelBase()
		if err := a.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}
