// Package app wires all paath subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds every subsystem from
// the config, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order. ApplyConfig takes hot-reloaded settings from a
// [config.Watcher].
//
// For testing, inject a listener or registry via functional options
// (WithListener, WithRegistry, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/paath/internal/align"
	"github.com/MrWong99/paath/internal/bus"
	"github.com/MrWong99/paath/internal/config"
	"github.com/MrWong99/paath/internal/health"
	"github.com/MrWong99/paath/internal/history"
	"github.com/MrWong99/paath/internal/mcptool"
	"github.com/MrWong99/paath/internal/observe"
	"github.com/MrWong99/paath/internal/recitation"
	"github.com/MrWong99/paath/internal/reference"
	"github.com/MrWong99/paath/internal/resilience"
	"github.com/MrWong99/paath/internal/server"
	"github.com/MrWong99/paath/pkg/provider/compare"
	"github.com/MrWong99/paath/pkg/provider/compare/local"
)

// DefaultShutdownTimeout bounds the graceful shutdown started by Run when
// its context ends.
const DefaultShutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	version  string
	log      *slog.Logger
	levelVar *slog.LevelVar

	registry  *config.Registry
	telemetry *observe.Providers
	metrics   *observe.Metrics

	refs     *reference.Store
	local    *local.Comparer
	fallback *resilience.CompareFallback

	health  *health.Handler
	history history.Recorder
	mcp     *mcptool.Server
	server  *server.Server
	httpSrv *http.Server

	listener net.Listener

	embedded *bus.EmbeddedServer
	client   *bus.Client
	bridge   *bus.Bridge

	// closers run in reverse registration order during Shutdown.
	closers []func() error

	// mu guards cfg against concurrent ApplyConfig calls.
	mu sync.Mutex

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRegistry injects a comparer registry instead of the built-in one.
// Factories for "local" and "remote" are added only when absent.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithTelemetry uses the meter provider and /metrics handler of p.
func WithTelemetry(p *observe.Providers) Option {
	return func(a *App) { a.telemetry = p }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithLevelVar lets ApplyConfig change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated. The HTTP listener is bound here so that address conflicts
// surface before Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		version: "dev",
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}

	// ── 1. Reference text ────────────────────────────────────────────────
	a.initReference()

	// ── 2. Aligner + comparer chain ──────────────────────────────────────
	aligner := align.New(cfg.Aligner.AlignerOptions()...)
	a.local = local.New(aligner)
	if err := a.initComparers(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init comparers: %w", err)
	}

	// ── 3. Health probes ─────────────────────────────────────────────────
	a.health = health.New(health.Checker{
		Name:  "reference",
		Check: func(context.Context) error { return a.refs.Check() },
	})

	if cfg.History.Path != "" {
		a.history = history.NewFileStore(cfg.History.Path)
		a.log.Info("recitation history enabled", "path", cfg.History.Path)
	}

	// ── 4. NATS bus ──────────────────────────────────────────────────────
	if cfg.Bus.Enabled {
		if err := a.initBus(ctx); err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init bus: %w", err)
		}
	}

	// ── 5. MCP tools ─────────────────────────────────────────────────────
	if cfg.MCP.Enabled {
		a.mcp = mcptool.New(a.refs, a.version,
			mcptool.WithAligner(aligner),
			mcptool.WithMetrics(a.metrics),
		)
	}

	// ── 6. HTTP server ───────────────────────────────────────────────────
	if err := a.initHTTP(aligner); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initMetrics() error {
	if a.telemetry == nil {
		a.metrics = observe.DefaultMetrics()
		return nil
	}
	m, err := observe.NewMetrics(a.telemetry.MeterProvider)
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initReference loads the reference text. A missing or unreadable file is
// not fatal: the built-in text is served instead.
func (a *App) initReference() {
	text, err := reference.Load(a.cfg.Reference.Path)
	if err != nil {
		a.log.Warn("reference text unavailable, using built-in text",
			"path", a.cfg.Reference.Path, "err", err)
	}
	a.refs = reference.NewStore(text)
	a.log.Info("reference text loaded", "source", text.Source)
}

// initComparers builds the fallback chain primary → fallbacks → local. The
// in-process comparer is always the last resort, so the chain only fails
// when the caller's context does.
func (a *App) initComparers() error {
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}
	RegisterBuiltinComparers(a.registry, a.local)

	cb := a.cfg.Comparer.CircuitBreaker
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				a.log.Warn("comparer circuit breaker changed state",
					"comparer", name, "from", from.String(), "to", to.String())
			},
		},
	}

	hasLocal := false
	for i, entry := range a.cfg.Comparer.Chain() {
		c, err := a.registry.CreateComparer(entry)
		if errors.Is(err, config.ErrComparerNotRegistered) && i > 0 {
			a.log.Warn("comparer not registered, skipping fallback", "name", entry.Name)
			continue
		}
		if err != nil {
			return err
		}
		if entry.Name == LocalComparer {
			hasLocal = true
		}
		if a.fallback == nil {
			a.fallback = resilience.NewCompareFallback(c, entry.Name, fbCfg, a.metrics)
		} else {
			a.fallback.AddFallback(entry.Name, c)
		}
	}
	if a.fallback == nil {
		a.fallback = resilience.NewCompareFallback(a.local, LocalComparer, fbCfg, a.metrics)
		hasLocal = true
	}
	if !hasLocal {
		a.fallback.AddFallback(LocalComparer, a.local)
	}

	a.log.Info("comparer chain ready", "chain", a.fallback.Names())
	return nil
}

func (a *App) initBus(ctx context.Context) error {
	cfg := a.cfg.Bus
	url := cfg.Servers
	if cfg.Embedded {
		es, err := bus.StartEmbedded(cfg, a.log)
		if err != nil {
			return err
		}
		a.embedded = es
		a.addCloser(func() error {
			es.Shutdown()
			return nil
		})
		url = es.ClientURL()
	}

	client, err := bus.Connect(url, cfg, a.log)
	if err != nil {
		return err
	}
	a.client = client
	a.addCloser(func() error {
		client.Close()
		return nil
	})
	a.health.Add(health.Checker{Name: "bus", Check: client.Check})

	ref := a.refs.Get()
	tracker := recitation.NewTracker(ref.Body,
		recitation.WithComparer(a.fallback),
		recitation.WithNormalizerFunc(func() recitation.Normalizer { return a.local.Aligner() }),
		recitation.WithSessionID(cfg.SessionID),
		recitation.WithMetrics(a.metrics, "bus"),
	)
	bridgeOpts := []bus.BridgeOption{
		bus.WithBridgeMetrics(a.metrics),
		bus.WithBridgeLogger(a.log),
		bus.WithBridgeReferenceSource(ref.Source),
	}
	if a.history != nil {
		bridgeOpts = append(bridgeOpts, bus.WithBridgeHistory(a.history))
	}
	a.bridge = bus.NewBridge(client.Conn(), tracker, cfg, a.cfg.Recitation.Realtime(), bridgeOpts...)
	if err := a.bridge.Start(); err != nil {
		return err
	}
	a.addCloser(func() error {
		a.bridge.Stop()
		return nil
	})

	observe.Logger(ctx).Debug("bus bridge ready", "session_id", cfg.SessionID)
	return nil
}

func (a *App) initHTTP(aligner *align.Aligner) error {
	opts := []server.Option{
		server.WithAligner(aligner),
		server.WithComparer(a.fallback),
		server.WithMetrics(a.metrics),
		server.WithRealtime(a.cfg.Recitation.Realtime()),
		server.WithHealth(a.health),
	}
	if a.telemetry != nil && a.telemetry.MetricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.telemetry.MetricsHandler))
	}
	if a.history != nil {
		opts = append(opts, server.WithHistory(a.history))
	}
	if a.mcp != nil {
		opts = append(opts, server.WithMCPHandler(a.cfg.MCP.Path, a.mcp.Handler()))
	}
	a.server = server.New(a.refs, opts...)

	a.httpSrv = &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}

	if a.listener == nil {
		l, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %q: %w", a.cfg.Server.ListenAddr, err)
		}
		a.listener = l
	}
	return nil
}

func (a *App) addCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// closeAll releases whatever New managed to build before failing.
func (a *App) closeAll() {
	for _, fn := range slices.Backward(a.closers) {
		_ = fn()
	}
	a.closers = nil
	if a.listener != nil {
		_ = a.listener.Close()
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Addr returns the address the HTTP server listens on.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Comparer returns the comparer chain used by live sessions.
func (a *App) Comparer() compare.Comparer { return a.fallback }

// Fallback returns the comparer chain with its per-backend breakers.
func (a *App) Fallback() *resilience.CompareFallback { return a.fallback }

// References returns the reference text store.
func (a *App) References() *reference.Store { return a.refs }

// Bridge returns the bus bridge, or nil when the bus is disabled.
func (a *App) Bridge() *bus.Bridge { return a.bridge }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// When ctx ends, Run shuts the App down within [DefaultShutdownTimeout] and
// returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			a.log.Info("serving HTTPS", "addr", a.Addr().String())
			err = a.httpSrv.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			a.log.Info("serving HTTP", "addr", a.Addr().String())
			err = a.httpSrv.Serve(a.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable settings of next. It has the shape
// of a [config.Watcher] callback. Settings that need a restart are logged
// and ignored.
func (a *App) ApplyConfig(prev, next *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(prev, next)
	if !d.Changed() {
		a.log.Info("config changed, but nothing can be hot-reloaded; restart to apply")
		return
	}

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.AlignerChanged {
		aligner := align.New(next.Aligner.AlignerOptions()...)
		a.local.SetAligner(aligner)
		a.server.SetAligner(aligner)
		if a.mcp != nil {
			a.mcp.SetAligner(aligner)
		}
		if a.bridge != nil {
			a.bridge.Refresh()
		}
		a.log.Info("aligner settings changed", "strictness", aligner.Strictness())
	}

	if d.RealtimeChanged {
		a.server.SetRealtime(d.NewRealtime)
		if a.bridge != nil {
			a.bridge.SetRealtime(d.NewRealtime)
		}
		a.log.Info("realtime feedback changed", "enabled", d.NewRealtime)
	}

	if d.ReferenceChanged {
		if err := a.refs.Reload(next.Reference.Path); err != nil {
			a.log.Warn("reference reload failed, using built-in text",
				"path", next.Reference.Path, "err", err)
		}
		if a.bridge != nil {
			ref := a.refs.Get()
			a.bridge.SetReference(ref.Body, ref.Source)
		}
		a.log.Info("reference text changed", "source", a.refs.Get().Source)
	}

	a.cfg = next
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the service as draining, closes live sessions, stops the
// HTTP server and runs the remaining closers. It is safe to call more than
// once; only the first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		a.health.SetDraining(true)
		a.server.CloseSessions(ctx)
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}
		// Serve closes the listener itself; this covers an App that never ran.
		_ = a.listener.Close()

		for i, closer := range slices.Backward(a.closers) {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// SlogLevel converts a config log level to its slog equivalent. Unknown
// levels map to info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
