// Package app wires the scoring service subsystems into a running HTTP
// server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP (and polls the config file when watching is
// enabled), and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithLearnerStore,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sayso/internal/config"
	"github.com/MrWong99/sayso/internal/health"
	"github.com/MrWong99/sayso/internal/learner"
	"github.com/MrWong99/sayso/internal/observe"
	"github.com/MrWong99/sayso/internal/resilience"
	"github.com/MrWong99/sayso/internal/scoring"
	"github.com/MrWong99/sayso/pkg/provider/stt"
)

// shutdownTimeout bounds the graceful HTTP drain started when Run's context
// ends.
const shutdownTimeout = 15 * time.Second

// breakerStats is implemented by STT providers guarded by circuit breakers.
type breakerStats interface {
	Stats() []resilience.Stats
}

// App owns all subsystem lifetimes of the scoring service.
type App struct {
	cfg *config.Config
	stt stt.Provider

	// Subsystems, initialised in New and torn down in Shutdown.
	learners       learner.Store
	allowlist      *learner.MemStore
	metrics        *observe.Metrics
	level          *slog.LevelVar
	handler        *scoring.Handler
	metricsHandler http.Handler
	mux            *http.ServeMux
	server         *http.Server
	listener       net.Listener
	watchPath      string
	watchInterval  time.Duration
	watcher        *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLearnerStore injects a learner store instead of creating one from
// config. It is only consulted when learners.verify is enabled.
func WithLearnerStore(s learner.Store) Option {
	return func(a *App) { a.learners = s }
}

// WithMetrics injects the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar hands the process log level to the app so config reloads can
// change it.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetricsHandler overrides the /metrics handler. Default:
// promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithListener makes Run serve on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithConfigWatch polls the config file at path and applies hot-reloadable
// changes while Run is active. A zero interval keeps the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// WithCloser registers fn to run during Shutdown, after the HTTP server has
// stopped. Providers holding connections register their Close here.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App by wiring all subsystems together. provider is the STT
// backend, usually built with [BuildSTT].
func New(ctx context.Context, cfg *config.Config, provider stt.Provider, opts ...Option) (*App, error) {
	if provider == nil {
		return nil, errors.New("app: no stt provider")
	}
	a := &App{
		cfg: cfg,
		stt: provider,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.SlogLevel())
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	if err := a.initLearners(ctx); err != nil {
		return nil, fmt.Errorf("app: init learners: %w", err)
	}
	a.initHTTP()

	if a.watchPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.watchPath, a.ApplyChange, wopts...)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}
	return a, nil
}

// initLearners selects the learner store. A DSN wins over the static id
// list.
func (a *App) initLearners(ctx context.Context) error {
	lc := a.cfg.Learners
	if !lc.Verify {
		a.learners = nil
		return nil
	}
	if a.learners != nil {
		if ms, ok := a.learners.(*learner.MemStore); ok {
			a.allowlist = ms
		}
		return nil
	}

	if lc.PostgresDSN == "" {
		a.allowlist = learner.NewMemStore(lc.IDs...)
		a.learners = a.allowlist
		slog.Info("learner verification enabled", "store", "static", "ids", a.allowlist.Len())
		return nil
	}

	pool, err := pgxpool.New(ctx, lc.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	store := learner.NewPostgresStore(pool, learner.WithTable(lc.Table))
	if lc.Migrate {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
	}
	if err := store.Ping(ctx); err != nil {
		slog.Warn("learner store not reachable yet", "err", err)
	}
	a.learners = store
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("learner verification enabled", "store", "postgres", "table", lc.Table)
	return nil
}

func (a *App) initHTTP() {
	svcOpts := []scoring.Option{scoring.WithMetrics(a.metrics)}
	if a.learners != nil {
		svcOpts = append(svcOpts, scoring.WithLearnerStore(a.learners))
	}
	svc := scoring.NewService(a.stt, svcOpts...)

	a.handler = scoring.NewHandler(svc,
		scoring.WithLimits(limitsFrom(a.cfg)),
		scoring.WithMaxBodyBytes(a.cfg.Server.MaxBodyBytes),
		scoring.WithHandlerMetrics(a.metrics),
	)

	a.mux = http.NewServeMux()
	a.handler.Register(a.mux, a.cfg.Scoring.Routes...)

	var checks []health.Checker
	if a.learners != nil {
		checks = append(checks, health.PingCheck("learners", a.learners.Ping))
	}
	if bs, ok := a.stt.(breakerStats); ok {
		checks = append(checks, health.CircuitCheck("stt", bs.Stats))
	}
	health.New(checks).Register(a.mux)

	if a.cfg.Observe.MetricsEnabled() {
		a.mux.Handle("GET /metrics", a.metricsHandler)
	}

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(a.mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}
}

// Handler returns the fully wrapped HTTP handler served by Run.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
// When config watching is enabled the file is polled alongside.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if a.listener != nil {
			slog.Info("listening", "addr", a.listener.Addr().String())
			err = a.server.Serve(a.listener)
		} else {
			slog.Info("listening", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	return g.Wait()
}

// ApplyChange applies the hot-reloadable parts of a config change: log
// level, scoring limits and the static learner allowlist.
func (a *App) ApplyChange(_, newCfg *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged {
		a.level.Set(diff.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.ScoringChanged {
		l := limitsFrom(newCfg)
		a.handler.SetLimits(l)
		slog.Info("scoring limits changed",
			"default_mime_type", l.DefaultMimeType,
			"default_language", l.DefaultLanguage,
			"max_text_runes", l.MaxTextRunes)
	}
	if diff.LearnersChanged() {
		if a.allowlist == nil {
			slog.Warn("learner ids changed but the static allowlist is not in use")
		} else {
			for _, id := range diff.LearnersAdded {
				a.allowlist.Add(id)
			}
			for _, id := range diff.LearnersRemoved {
				a.allowlist.Remove(id)
			}
			slog.Info("learner allowlist updated",
				"added", len(diff.LearnersAdded),
				"removed", len(diff.LearnersRemoved))
		}
	}
}

// Shutdown stops the HTTP server and tears down all subsystems in init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
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

// limitsFrom extracts the request limits from cfg.
func limitsFrom(cfg *config.Config) scoring.Limits {
	return scoring.Limits{
		DefaultMimeType: cfg.Scoring.DefaultMimeType,
		DefaultLanguage: cfg.Scoring.DefaultLanguage,
		MaxTextRunes:    cfg.Scoring.MaxTextRunes,
	}
}
