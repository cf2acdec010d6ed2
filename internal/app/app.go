package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"arius/internal/config"
	"arius/internal/eventbus"
	"arius/internal/plugin"
	"arius/internal/plugin/samples"
	"arius/internal/runtime/supervisor"
	"arius/internal/storage"
	"arius/internal/task"
	"arius/internal/task/engine"
	"arius/internal/task/scheduler"
	"arius/internal/tasks"
	logx "arius/pkg/logx"
	"arius/pkg/speedtest"
)

// EventStarted is fired to EVENT plugins once the app is up.
const EventStarted = "arius.started"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	table  *task.Table
	engine *engine.Service
	disp   *task.Dispatcher
	sched  *scheduler.Store
	maint  *tasks.Tasks

	reg    *plugin.Registry
	fanout *plugin.Fanout

	// background is false in testing/maintenance mode.
	background atomic.Bool
	notify     tasks.Notifier

	// probeSpawn routes netprobe pings through the app supervisor once started.
	probeMu    sync.Mutex
	probeSpawn *supervisor.Supervisor
}

type Option func(*appOptions)

type appOptions struct {
	environ map[string]string
	notify  tasks.Notifier
}

// WithEnviron replaces the process environment for config overrides.
func WithEnviron(env map[string]string) Option { return func(o *appOptions) { o.environ = env } }

// WithNotifier replaces the systemd notifier.
func WithNotifier(n tasks.Notifier) Option { return func(o *appOptions) { o.notify = n } }

func New(cfgPath string, opts ...Option) (*App, error) {
	o := appOptions{notify: daemon.SdNotify}
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	if o.environ != nil {
		cfgm.SetEnviron(o.environ)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	logSvc.SetErrorSink(errorSink{store: store})
	log.Info("storage opened", logx.String("driver", sc.Driver))

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	retention, err := config.ParseDurationOrDefault("tasks.retention", cfg.Tasks.Retention, tasks.DefaultRetention)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    eventbus.New(),
		store:  store,
		table:  task.NewTable(),
		notify: o.notify,
	}
	a.background.Store(cfg.Tasks.BackgroundAllowed())

	a.maint = tasks.New(tasks.Config{Retention: retention, UpdateURL: cfg.Tasks.UpdateURL}, store,
		tasks.WithLogger(log.With(logx.String("comp", "tasks"))),
		tasks.WithNotifier(o.notify),
	)
	a.maint.Register(a.table)

	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus, store)
	a.disp = task.NewDispatcher(a.table,
		task.WithPool(a.engine),
		task.WithLogger(log.With(logx.String("comp", "dispatch"))),
		task.WithBus(a.bus),
		task.WithBackgroundGate(a.background.Load),
	)
	a.sched = scheduler.New(scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}, a.disp,
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(a.bus),
		scheduler.WithPersister(store),
	)

	a.reg = plugin.NewRegistry(
		plugin.WithRegistryLogger(log.With(logx.String("comp", "plugins"))),
		plugin.WithRegistryBus(a.bus),
	)
	a.configurePlugins(cfg)
	a.fanout = plugin.NewFanout(a.reg, a.disp, log.With(logx.String("comp", "events")), a.bus)

	return a, nil
}

func (a *App) Config() *config.Config       { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger          { return a.log }
func (a *App) Bus() eventbus.Bus            { return a.bus }
func (a *App) Store() storage.Store         { return a.store }
func (a *App) Tasks() *task.Table           { return a.table }
func (a *App) Engine() *engine.Service      { return a.engine }
func (a *App) Dispatcher() *task.Dispatcher { return a.disp }
func (a *App) Schedules() *scheduler.Store  { return a.sched }
func (a *App) Plugins() *plugin.Registry    { return a.reg }
func (a *App) Events() *plugin.Fanout       { return a.fanout }

// configurePlugins sets the registry sources and policy from cfg. It takes
// effect on the next reload.
func (a *App) configurePlugins(cfg *config.Config) {
	deps := samples.Deps{Log: a.log.With(logx.String("comp", "plugin")), Settings: a.store}
	sampled := config.SamplesEnabled(cfg)
	sources := []plugin.Source{plugin.Gated(samples.Source(deps), func() bool { return sampled })}

	if np := cfg.Plugins.NetProbe; np.Enabled {
		deps.Prober = speedtest.NewProber(
			speedtest.Config{ServerCount: np.ServerCount, PingConcurrency: np.PingConcurrency},
			speedtest.WithSpawner(speedtest.SpawnerFunc(a.spawnProbe)),
		)
		sources = append(sources, plugin.Static("netprobe", samples.NetProbeFactory(deps)))
	}
	a.reg.Configure(cfg.Plugins.StrictDiscovery, cfg.Plugins.Disabled, sources...)
}

// spawnProbe runs fn under the app supervisor when one exists.
func (a *App) spawnProbe(name string, fn func()) {
	a.probeMu.Lock()
	sup := a.probeSpawn
	a.probeMu.Unlock()
	if sup == nil {
		go fn()
		return
	}
	sup.Go0(name, func(context.Context) { fn() })
}

// Prepare loads plugins and schedules without starting any workers. CLI
// commands that only inspect or run a single task use it directly.
func (a *App) Prepare(ctx context.Context) error {
	if err := a.reloadPlugins(ctx); err != nil {
		return err
	}
	n, err := a.sched.Load(ctx)
	if err != nil {
		a.log.Warn("schedule restore failed", logx.Err(err))
	} else if n > 0 {
		a.log.Debug("schedules restored", logx.Int("count", n))
	}
	cfg := a.cfgm.Get()
	if err := tasks.ScheduleDefaults(ctx, a.sched, cfg.Tasks.HeartbeatMinutes, cfg.Tasks.Schedules); err != nil {
		a.log.Warn("default schedules rejected", logx.Err(err))
	}
	return nil
}

func (a *App) reloadPlugins(ctx context.Context) error {
	if _, err := a.reg.Reload(ctx); err != nil {
		return fmt.Errorf("plugin discovery: %w", err)
	}
	for _, d := range a.reg.Failed() {
		a.log.Warn("plugin failed to load", logx.String("plugin", d.Slug), logx.Strings("errors", d.Errors))
	}
	if err := plugin.RegisterSchedules(ctx, a.reg, a.table, a.sched, a.log.With(logx.String("comp", "plugins"))); err != nil {
		a.log.Warn("plugin schedules rejected", logx.Err(err))
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.probeMu.Lock()
	a.probeSpawn = a.sup
	a.probeMu.Unlock()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapTaskEngineConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if err := a.Prepare(ctx); err != nil {
		a.sup.Cancel()
		a.engine.Stop(context.Background())
		return err
	}
	a.sched.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug level: schedules fire often.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.fanout.Fire(a.sup.Context(), EventStarted, tasks.Version)
	if ok, err := a.notify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started",
		logx.Int("plugins", len(a.reg.Plugins())),
		logx.Int("schedules", len(a.sched.List())),
		logx.Bool("background", a.background.Load()),
	)
	return nil
}

// applyConfig hot-applies a validated config.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLogConfig(next))

	if allowed := next.Tasks.BackgroundAllowed(); allowed != a.background.Swap(allowed) {
		a.log.Info("background dispatch toggled", logx.Bool("allowed", allowed))
	}

	if ec, err := mapTaskEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, ec)
	}
	a.sched.Apply(scheduler.Config{Enabled: next.Scheduler.Enabled, Timezone: next.Scheduler.Timezone})

	if config.PluginsChanged(prev, next) {
		a.configurePlugins(next)
		if err := a.reloadPlugins(ctx); err != nil {
			a.log.Warn("plugin reload failed; keeping previous plugins", logx.Err(err))
		}
	}
	if prev == nil || prev.Tasks.HeartbeatMinutes != next.Tasks.HeartbeatMinutes || !maps.Equal(prev.Tasks.Schedules, next.Tasks.Schedules) {
		if err := tasks.ScheduleDefaults(ctx, a.sched, next.Tasks.HeartbeatMinutes, next.Tasks.Schedules); err != nil {
			a.log.Warn("default schedules rejected", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.logs.Close()
		return a.store.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.notify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", a.Stats().fields()...)
	a.logs.Close()
	return errors.Join(errs...)
}
