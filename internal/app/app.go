package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskcore/internal/benchmark"
	"taskcore/internal/config"
	"taskcore/internal/eventbus"
	"taskcore/internal/mp"
	rtsup "taskcore/internal/runtime/supervisor"
	"taskcore/internal/sched"
	"taskcore/internal/storage"
	"taskcore/internal/task"
	"taskcore/internal/timer"
	"taskcore/internal/tracing"
	logx "taskcore/pkg/logx"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

const defaultFlushSchedule = "@every 30s"

// App is one node: the task manager, its scheduler and the optional
// multiprocessing, storage and benchmark services around it.
type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	sup *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched  *sched.Service
	tasks  *task.Manager
	proxy  *mp.Proxy
	server *mp.Server
	jobs   *Jobs
	bench  *benchmark.Suite
	init   []task.Attributes

	traceShutdown tracing.Shutdown
}

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return build(cfgm, cfg, o)
}

func build(cfgm *config.Manager, cfg *config.Config, o *options) (_ *App, err error) {
	logSvc, log := logx.NewService(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"), logx.Int("node", cfg.Node.ID))

	a := &App{cfgm: cfgm, cfg: cfg, log: log, logs: logSvc, bus: eventbus.New()}
	defer func() {
		if err != nil {
			a.closeEarly()
		}
	}()

	if a.traceShutdown, err = tracing.Setup(mapTracingConfig(cfg, Version)); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	tr, err := mapTranslator(cfg)
	if err != nil {
		return nil, err
	}
	if a.init, err = resolveInitTasks(cfg.Tasks.Init, o.entries); err != nil {
		return nil, err
	}

	a.sched = sched.New(mapSchedConfig(cfg), log, a.bus)

	var (
		loc task.Locator = task.LocalOnly{}
		ms  mpSettings
	)
	if cfg.MP.Enabled {
		if ms, err = mapMPConfig(cfg); err != nil {
			return nil, err
		}
		transport := mp.NewHTTPTransport(ms.peers, ms.token, ms.timeout)
		a.proxy = mp.NewProxy(ms.proxy, transport, log)
		loc = a.proxy
	} else if cfg.Node.ID != 0 {
		log.Warn("node.id is ignored while mp is disabled")
	}

	a.tasks, err = task.New(mapTaskConfig(cfg), tr, a.sched,
		task.WithLocator(loc),
		task.WithLogger(log),
		task.WithBus(a.bus),
	)
	if err != nil {
		return nil, err
	}
	if a.proxy != nil {
		a.server = mp.NewServer(ms.server, ms.proxy.Node, a.tasks, log)
	}
	a.sched.OnExit(a.tasks.Exited)

	opts := []benchmark.Option{benchmark.WithLogger(log)}
	if a.store != nil {
		opts = append(opts, benchmark.WithStore(a.store))
	}
	tm := timer.New(timer.NewMonotonic(), mapTimerConfig(cfg))
	a.bench = benchmark.New(mapBenchmarkConfig(cfg), tm, tr, opts...)

	a.jobs = NewJobs(log)
	if spec := strings.TrimSpace(cfg.Benchmark.Schedule); spec != "" {
		if err := a.jobs.Add("benchmark", spec, 0, func(ctx context.Context) error {
			_, err := a.bench.Run(ctx)
			return err
		}); err != nil {
			return nil, fmt.Errorf("benchmark.schedule: %w", err)
		}
	}
	if cfg.MP.Enabled {
		spec := strings.TrimSpace(cfg.MP.FlushSchedule)
		if spec == "" {
			spec = defaultFlushSchedule
		}
		if err := a.jobs.Add("mp.flush", spec, 10*time.Second, a.tasks.FlushNotices); err != nil {
			return nil, fmt.Errorf("mp.flush_schedule: %w", err)
		}
	}
	return a, nil
}

func (a *App) closeEarly() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.traceShutdown != nil {
		_ = a.traceShutdown(context.Background())
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) Tasks() *task.Manager      { return a.tasks }
func (a *App) Bus() eventbus.Bus         { return a.bus }
func (a *App) Logger() logx.Logger       { return a.log }
func (a *App) Server() *mp.Server        { return a.server }
func (a *App) Config() *config.Config    { return a.cfgm.Get() }
func (a *App) Jobs() []JobInfo           { return a.jobs.Snapshot() }
func (a *App) Scheduler() *sched.Service { return a.sched }

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

// RunBenchmark runs the directive timing suite once.
func (a *App) RunBenchmark(ctx context.Context) (benchmark.Report, error) {
	return a.bench.Run(ctx)
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if a.store != nil {
		rec := storage.NewRecorder(a.store, a.bus, a.cfg.Node.ID, a.log)
		a.sup.Go("storage.recorder", rec.Run)
	}

	a.sched.Start(runCtx)

	if a.server != nil {
		a.sup.GoRestart("mp.server", a.server.Run, rtsup.WithMaxRestarts(5))
	}
	a.jobs.Start(runCtx)

	if err := a.startInitTasks(runCtx); err != nil {
		return err
	}

	// Lifecycle events at debug level; the recorder persists them.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("kind", string(e.Kind)), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("max_tasks", mapTaskConfig(a.cfg).MaxTasks),
		logx.Int("init_tasks", len(a.init)),
		logx.Bool("mp", a.proxy != nil),
		logx.Bool("storage", a.store != nil),
		logx.String("version", Version),
	)
	return nil
}

// applyConfig applies the logging section live; everything else needs a
// restart and is only reported.
func (a *App) applyConfig(prev, next *config.Config) {
	if next == nil {
		return
	}
	changed, restart, attrs := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(next))
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Snapshot is a point-in-time view of the node for diagnostics.
type Snapshot struct {
	Tasks      task.Snapshot   `json:"tasks"`
	Sched      sched.Snapshot  `json:"sched"`
	Jobs       []JobInfo       `json:"jobs"`
	MP         *mp.ProxyStats  `json:"mp,omitempty"`
	Supervisor *rtsup.Snapshot `json:"supervisor,omitempty"`
	Dropped    uint64          `json:"events_dropped"`
}

func (a *App) Snapshot() Snapshot {
	s := Snapshot{
		Tasks:   a.tasks.Snapshot(),
		Sched:   a.sched.Snapshot(),
		Jobs:    a.jobs.Snapshot(),
		Dropped: a.bus.Dropped(),
	}
	if a.proxy != nil {
		st := a.proxy.Stats()
		s.MP = &st
	}
	if a.sup != nil {
		ss := a.sup.Snapshot()
		s.Supervisor = &ss
	}
	return s
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeEarly()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("jobs", 2*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("scheduler", 2*time.Second, a.sched.Stop)
	// Settle deletes and exits that raced the shutdown.
	step("reaper", time.Second, func(context.Context) error { a.tasks.Reap(); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("tracing", time.Second, func(c context.Context) error {
		if a.traceShutdown != nil {
			return a.traceShutdown(c)
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
