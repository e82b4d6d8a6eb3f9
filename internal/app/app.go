package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spellforge/server/internal/ability"
	"spellforge/server/internal/ability/catalog"
	"spellforge/server/internal/ability/script"
	"spellforge/server/internal/cast"
	"spellforge/server/internal/config"
	"spellforge/server/internal/content"
	"spellforge/server/internal/cooldown"
	"spellforge/server/internal/diagnostics"
	"spellforge/server/internal/lifecycle"
	"spellforge/server/internal/metrics"
	"spellforge/server/internal/permission"
	"spellforge/server/internal/persist"
	"spellforge/server/internal/runtime"
	"spellforge/server/internal/scheduler"
	"spellforge/server/internal/telemetry"
	"spellforge/server/internal/toggle"
	"spellforge/server/internal/tracing"
	"spellforge/server/logging"
)

type Config struct {
	Settings *config.Config
	// Logger defaults to a logger built from Settings.Logging.
	Logger *zap.Logger
	// Permissions defaults to allow-all.
	Permissions cast.Permissions
	// Register adds host abilities after the bundled content.
	Register func(registry *ability.Registry) error
	// ExtraSinks receive router events alongside the configured sinks.
	ExtraSinks []logging.NamedSink
}

// App owns every runtime component and their shutdown order.
type App struct {
	settings *config.Config
	logger   *zap.Logger
	diag     telemetry.Logger

	router    *logging.Router
	registry  *logging.Metrics
	debug     *metrics.DebugMetrics
	sched     *scheduler.TickScheduler
	cooldowns *cooldown.Registry
	abilities *ability.Registry
	catalog   *catalog.Resolver
	toggles   *toggle.Set
	presence  *lifecycle.Presence
	pipeline  *cast.Pipeline
	runtime   *runtime.Runtime
	hooks     *lifecycle.Hooks
	content   *content.Pack
	store     *persist.Store
	writer    *persist.Writer
	server    *diagnostics.Server

	closeSinks func() error
	shutdown   []func(context.Context) error
}

// New wires the runtime without starting the tick loop or listeners.
func New(ctx context.Context, cfg Config) (*App, error) {
	settings := cfg.Settings
	if settings == nil {
		return nil, errors.New("app: settings are required")
	}
	logger := cfg.Logger
	if logger == nil {
		built, err := NewLogger(settings.Logging)
		if err != nil {
			return nil, err
		}
		logger = built
	}

	a := &App{
		settings: settings,
		logger:   logger,
		diag:     telemetry.WrapZap(logger, "runtime"),
		registry: logging.NewMetrics(),
		debug:    metrics.NewDebugMetrics(settings.Metrics.MaxSamples),
		presence: lifecycle.NewPresence(),
	}
	if err := a.build(ctx, cfg); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg Config) error {
	settings := a.settings
	telemetryMetrics := telemetry.WrapMetrics(a.registry)

	logCfg := routerConfig(settings.Logging)
	named, closeSinks, err := buildSinks(logCfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to build log sinks: %w", err)
	}
	a.closeSinks = closeSinks
	named = append(named, cfg.ExtraSinks...)
	router, err := logging.NewRouter(logging.SystemClock{}, logCfg, telemetry.WrapZap(a.logger, "logging"), named)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	a.router = router

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     settings.Tracing.Enabled,
		Endpoint:    settings.Tracing.Endpoint,
		ServiceName: settings.Tracing.ServiceName,
		SampleRatio: settings.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.shutdown = append(a.shutdown, shutdownTracing)

	a.sched = scheduler.New(scheduler.Config{Logger: telemetry.WrapZap(a.logger, "scheduler"), Metrics: telemetryMetrics})
	a.cooldowns = cooldown.NewRegistry()

	pack, err := content.NewPack(content.Config{
		Scheduler: a.sched,
		Pools:     content.NewPools(100),
		Logger:    telemetry.WrapZap(a.logger, "content"),
	})
	if err != nil {
		return err
	}
	a.content = pack
	a.abilities = ability.NewRegistry()
	if err := pack.Register(a.abilities); err != nil {
		return err
	}
	if cfg.Register != nil {
		if err := cfg.Register(a.abilities); err != nil {
			return fmt.Errorf("register host abilities: %w", err)
		}
	}

	resolver, err := catalog.Load(a.abilities.Keys(), settings.Catalog.Paths...)
	if err != nil {
		return fmt.Errorf("failed to load ability catalog: %w", err)
	}
	a.catalog = resolver
	a.abilities.UseCatalog(resolver, script.NewLua(script.Config{
		Logger:  telemetry.WrapZap(a.logger, "script"),
		Metrics: telemetryMetrics,
	}))

	a.toggles = toggle.NewSet()
	for _, d := range a.abilities.Toggles() {
		interval := d.Toggle.IntervalTicks
		if interval <= 0 {
			interval = settings.Toggles.DefaultIntervalTicks
		}
		maxDuration := d.Toggle.MaxDurationTicks
		if maxDuration <= 0 {
			maxDuration = settings.Toggles.DefaultMaxDurationTicks
		}
		manager, err := toggle.NewManager(toggle.Config{
			Ability:          d.Key,
			IntervalTicks:    interval,
			MaxDurationTicks: maxDuration,
			Behavior:         d.Toggle.Behavior,
			Scheduler:        a.sched,
			ActorValid:       a.presence.IsPresent,
			Publisher:        router,
			Logger:           telemetry.WrapZap(a.logger, "toggle"),
			Metrics:          telemetryMetrics,
		})
		if err != nil {
			return fmt.Errorf("toggle %s: %w", d.Key, err)
		}
		if err := a.toggles.Register(manager); err != nil {
			return fmt.Errorf("toggle %s: %w", d.Key, err)
		}
	}

	if settings.Persistence.Enabled {
		if err := os.MkdirAll(filepath.Dir(settings.Persistence.Path), 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
		store, err := persist.Open(ctx, settings.Persistence.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		a.store = store
		a.writer = persist.NewWriter(store, persist.WriterConfig{
			BatchSize:     settings.Persistence.BatchSize,
			FlushInterval: settings.Persistence.FlushInterval,
			Poster:        a.sched,
			Logger:        telemetry.WrapZap(a.logger, "persist"),
			Metrics:       telemetryMetrics,
		})
	}

	permissions := cfg.Permissions
	if permissions == nil {
		permissions = permission.AllowAll()
	}
	pipelineCfg := cast.Config{
		Abilities:   defaultCooldowns{resolver: a.abilities, ticks: settings.Cooldowns.DefaultTicks},
		Permissions: permissions,
		Cooldowns:   a.cooldowns,
		Toggles:     a.toggles,
		Debug:       a.debug,
		Publisher:   router,
		Logger:      telemetry.WrapZap(a.logger, "cast"),
		Metrics:     telemetryMetrics,
	}
	if a.writer != nil {
		pipelineCfg.Journal = a.writer
	}
	pipeline, err := cast.NewPipeline(pipelineCfg)
	if err != nil {
		return err
	}
	a.pipeline = pipeline

	rt, err := runtime.New(runtime.Config{
		TickRate:        settings.Runtime.TickRate,
		CatchupMaxTicks: settings.Runtime.CatchupMaxTicks,
		IntentCapacity:  settings.Runtime.IntentCapacity,
		PerActorLimit:   settings.Runtime.PerActorLimit,
		SweepEveryTicks: settings.Cooldowns.SweepIntervalTicks,
		Caster:          pipeline,
		Scheduler:       a.sched,
		Cooldowns:       a.cooldowns,
		Debug:           a.debug,
		Publisher:       router,
		Logger:          telemetry.WrapZap(a.logger, "runtime"),
		Metrics:         telemetryMetrics,
	})
	if err != nil {
		return err
	}
	a.runtime = rt

	hooksCfg := lifecycle.Config{
		Presence:            a.presence,
		Cooldowns:           a.cooldowns,
		Toggles:             a.toggles,
		Intents:             rt,
		RestoreOnJoin:       settings.Persistence.Enabled && settings.Persistence.RestoreCooldowns,
		PersistOnDisconnect: settings.Persistence.Enabled,
		Now:                 a.sched.Now,
		Publisher:           router,
		Logger:              telemetry.WrapZap(a.logger, "lifecycle"),
		Metrics:             telemetryMetrics,
	}
	if a.writer != nil {
		hooksCfg.Snapshots = a.writer
	}
	hooks, err := lifecycle.NewHooks(hooksCfg)
	if err != nil {
		return err
	}
	a.hooks = hooks

	diagCfg := diagnostics.Config{
		Debug:        a.debug,
		Toggles:      a.toggles,
		Router:       router,
		Telemetry:    a.registry,
		Presence:     a.presence,
		Intake:       rt,
		Actors:       a,
		TickRate:     settings.Runtime.TickRate,
		PushInterval: settings.Diagnostics.PushInterval,
		EnablePprof:  settings.Diagnostics.EnablePprof,
		Logger:       telemetry.WrapZap(a.logger, "diagnostics"),
	}
	if a.store != nil {
		diagCfg.Journal = a.store
	}
	a.server = diagnostics.NewServer(diagCfg)
	return nil
}

// Run drives the tick loop and, when enabled, the diagnostics listener
// until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	var srv *http.Server
	if a.settings.Diagnostics.Enabled {
		srv = &http.Server{Addr: a.settings.Diagnostics.BindAddress, Handler: a.server.Handler()}
		go func() {
			a.diag.Printf("diagnostics listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("diagnostics server failed: %w", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		a.runtime.Run(ctx)
		close(done)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}
	<-done

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.diag.Printf("diagnostics shutdown: %v", err)
		}
	}
	return runErr
}

// Join marks actor present on the next tick.
func (a *App) Join(actor uuid.UUID) {
	a.runtime.Post(func() { a.hooks.Join(context.Background(), actor) })
}

// Disconnect releases actor's state on the next tick.
func (a *App) Disconnect(actor uuid.UUID) {
	a.runtime.Post(func() {
		a.hooks.Disconnect(context.Background(), actor)
		a.content.Pools().Forget(actor)
	})
}

// Death releases actor's toggles and cooldowns on the next tick.
func (a *App) Death(actor uuid.UUID) {
	a.runtime.Post(func() { a.hooks.Death(context.Background(), actor) })
}

// ZoneChange releases actor's toggles and cooldowns on the next tick.
func (a *App) ZoneChange(actor uuid.UUID) {
	a.runtime.Post(func() { a.hooks.ZoneChange(context.Background(), actor) })
}

// ReloadCatalog re-reads the catalog files; on error the previous catalog
// stays active.
func (a *App) ReloadCatalog() error {
	return a.catalog.Reload()
}

func (a *App) Runtime() *runtime.Runtime        { return a.runtime }
func (a *App) Pipeline() *cast.Pipeline         { return a.pipeline }
func (a *App) Cooldowns() *cooldown.Registry    { return a.cooldowns }
func (a *App) Toggles() *toggle.Set             { return a.toggles }
func (a *App) Abilities() *ability.Registry     { return a.abilities }
func (a *App) Content() *content.Pack           { return a.content }
func (a *App) Debug() *metrics.DebugMetrics     { return a.debug }
func (a *App) Presence() *lifecycle.Presence    { return a.presence }
func (a *App) Diagnostics() *diagnostics.Server { return a.server }
func (a *App) Telemetry() *logging.Metrics      { return a.registry }
func (a *App) Writer() *persist.Writer          { return a.writer }
func (a *App) Store() *persist.Store            { return a.store }

// Close stops toggles, flushes persistence and closes the router, in that
// order. It is safe to call on a partially built App.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.runtime != nil {
		a.runtime.Stop()
	}
	a.toggles.Shutdown()
	a.sched.Shutdown()
	if a.writer != nil {
		if err := a.writer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close writer: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	for _, fn := range a.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
	}
	a.shutdown = nil
	if a.router != nil {
		if err := a.router.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close router: %w", err))
		}
	}
	if a.closeSinks != nil {
		if err := a.closeSinks(); err != nil {
			errs = append(errs, fmt.Errorf("close sinks: %w", err))
		}
		a.closeSinks = nil
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// defaultCooldowns applies the configured default to abilities registered
// without a cooldown.
type defaultCooldowns struct {
	resolver cast.Resolver
	ticks    int64
}

func (d defaultCooldowns) Resolve(key string) (ability.Descriptor, bool) {
	desc, ok := d.resolver.Resolve(key)
	if ok && desc.CooldownTicks == 0 && d.ticks > 0 {
		desc.CooldownTicks = d.ticks
	}
	return desc, ok
}
