// Package app wires the tutor subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens storage and builds the
// session driver, the [SessionManager] runs at most one conversation at a
// time, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/chinesetutor/internal/config"
	"github.com/MrWong99/chinesetutor/internal/observe"
	"github.com/MrWong99/chinesetutor/internal/resilience"
	"github.com/MrWong99/chinesetutor/internal/session"
	"github.com/MrWong99/chinesetutor/pkg/audio"
	"github.com/MrWong99/chinesetutor/pkg/memory"
	"github.com/MrWong99/chinesetutor/pkg/memory/postgres"
	"github.com/MrWong99/chinesetutor/pkg/memory/sqlite"
	"github.com/MrWong99/chinesetutor/pkg/provider/convai"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured; sessions then fail with [session.ErrConfig].
// Populated by [BuildProviders] from the config registry.
type Providers struct {
	Agent convai.Provider
	Audio audio.Platform
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store    memory.Store
	archiver *Archiver
	sessions *SessionManager

	// agent is the hot-reloadable part of cfg.Agent.
	agentMu sync.RWMutex
	agent   config.AgentConfig

	// guard wraps providers.Agent; nil without an agent provider.
	guard *resilience.GuardedAgent

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of opening one from config. The caller
// keeps ownership; Shutdown does not close it.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metrics instruments instead of using
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers may be nil
// for commands that only touch storage.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		agent:     cfg.Agent,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Result handoff ────────────────────────────────────────────────
	a.archiver = NewArchiver(a.store)

	// ── 3. Session driver + manager ──────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Runner:  a.newRunner(),
		Metrics: a.metrics,
	})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens PostgreSQL when a DSN is configured and SQLite otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
		slog.Info("storage ready", "backend", "postgres")
		return nil
	}

	path, err := config.DBPath(a.cfg.Storage.Path)
	if err != nil {
		return err
	}
	store, err := sqlite.Open(ctx, path)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	slog.Info("storage ready", "backend", "sqlite", "path", path)
	return nil
}

// newRunner builds the session driver from the configured providers.
func (a *App) newRunner() Runner {
	if a.providers.Agent == nil || a.providers.Audio == nil {
		return unavailableRunner{}
	}

	format := audio.DefaultFormat
	if a.cfg.Audio.SampleRate > 0 {
		format.SampleRate = a.cfg.Audio.SampleRate
	}
	// Repeated dial failures open the breaker; chats then fail fast until it
	// cools down or the agent settings change.
	a.guard = resilience.GuardAgent(a.providers.Agent, resilience.CircuitBreakerConfig{
		Name: "agent:" + a.cfg.Agent.Provider,
	})
	metrics := a.metrics
	return session.NewDriver(a.providers.Audio, a.guard,
		session.WithHandoff(a.archiver),
		session.WithEndTimeout(a.cfg.Session.EndTimeout),
		session.WithFormat(format),
		session.WithFrameDropHook(func() { metrics.RecordGatedFrame(context.Background()) }),
	)
}

// unavailableRunner is used when no agent or audio provider is configured.
type unavailableRunner struct{}

func (unavailableRunner) Run(context.Context, session.Request, session.Sink) (session.Result, error) {
	return session.Result{}, fmt.Errorf("%w: no agent or audio provider configured", session.ErrConfig)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the configuration the App was built with.
func (a *App) Config() *config.Config { return a.cfg }

// Store returns the session and vocabulary store.
func (a *App) Store() memory.Store { return a.store }

// Sessions returns the manager of the active session.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Metrics returns the metrics instruments used by the App.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Agent returns the current agent settings.
func (a *App) Agent() config.AgentConfig {
	a.agentMu.RLock()
	defer a.agentMu.RUnlock()
	return a.agent
}

// SetAgent replaces the agent settings used by future sessions. A running
// session is not affected.
func (a *App) SetAgent(agent config.AgentConfig) {
	a.agentMu.Lock()
	a.agent = agent
	a.agentMu.Unlock()
	if a.guard != nil {
		a.guard.Breaker().Reset()
	}
	slog.Info("agent settings updated", "agent_id", config.MaskAgentID(agent.AgentID))
}

// Request builds a session request from the current agent settings.
func (a *App) Request() session.Request {
	agent := a.Agent()
	return session.Request{AgentID: agent.AgentID, APIKey: agent.APIKey}
}

// ─── Providers ───────────────────────────────────────────────────────────────

// BuildProviders instantiates the configured agent and audio providers from
// reg. A provider whose name is not registered is left nil and logged, so
// storage-only commands keep working.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	p := &Providers{}

	agent, err := reg.CreateAgent(cfg.Agent)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Debug("provider not registered, skipping", "kind", "agent", "name", cfg.Agent.Provider)
	case err != nil:
		return nil, fmt.Errorf("app: create agent provider %q: %w", cfg.Agent.Provider, err)
	default:
		p.Agent = agent
		slog.Debug("provider created", "kind", "agent", "name", cfg.Agent.Provider)
	}

	platform, err := reg.CreateAudio(cfg.Audio)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Debug("provider not registered, skipping", "kind", "audio", "name", cfg.Audio.Provider)
	case err != nil:
		return nil, fmt.Errorf("app: create audio provider %q: %w", cfg.Audio.Provider, err)
	default:
		p.Audio = platform
		slog.Debug("provider created", "kind", "audio", "name", cfg.Audio.Provider)
	}

	return p, nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown cancels the active session, waits for it to finish within the
// context deadline and then closes all subsystems. If ctx expires first,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if h := a.sessions.Handle(); h != nil {
			h.Cancel()
			select {
			case <-h.Done():
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded while ending session")
				shutdownErr = ctx.Err()
				return
			}
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
