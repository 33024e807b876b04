package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"wsched/internal/config"
	"wsched/internal/eventbus"
	"wsched/internal/journal"
	"wsched/internal/metrics"
	"wsched/internal/observability/debugsrv"
	rtsup "wsched/internal/runtime/supervisor"
	"wsched/internal/sched"
	logx "wsched/pkg/logx"
)

// Stop step budgets. The scheduler drain gets the largest share since every
// queued task runs before it returns.
const (
	stopSchedulerMax  = 30 * time.Second
	stopStatsMax      = 1 * time.Second
	stopDebugMax      = 1 * time.Second
	stopJournalMax    = 2 * time.Second
	stopSupervisorMax = 2 * time.Second
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	runID string

	reg     *prometheus.Registry
	metrics *metrics.Metrics
	pool    *sched.Pool

	store      journal.Store
	sink       *journal.Sink
	sinkCancel context.CancelFunc

	debug       *debugsrv.Service
	debugCtx    context.Context
	debugCancel context.CancelFunc
	stats       *statsReporter
}

// New loads cfgPath and builds every component without starting any.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg.Logging))
	runID := journal.NewRunID()
	log = log.With(logx.String("run_id", runID))

	a, err := build(cfgm, cfg, logSvc, log, runID)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func build(cfgm *config.Manager, cfg *config.Config, logSvc *logx.Service, log logx.Logger, runID string) (*App, error) {
	schedCfg, err := mapScheduler(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	traceEvery, err := mapTraceEvery(cfg.Logging)
	if err != nil {
		return nil, err
	}
	debugCfg, err := mapDebugServer(cfg.DebugServer)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	pool, err := sched.New(schedCfg,
		sched.WithLogger(log.With(logx.String("comp", "sched"))),
		sched.WithObserver(sched.MultiObserver{sched.BusObserver(bus), m}),
		sched.WithTraceSampling(traceEvery, traceBurst),
	)
	if err != nil {
		return nil, err
	}
	if err := m.TrackPending(pool.Pending); err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		runID:   runID,
		reg:     reg,
		metrics: m,
		pool:    pool,
	}

	// Journal (optional)
	jc, buffer, enabled, err := mapJournal(cfg.Journal)
	if err != nil {
		return nil, err
	}
	if enabled {
		store, err := journal.Open(jc, log.With(logx.String("comp", "journal")))
		if err != nil {
			return nil, err
		}
		a.store = store
		a.sink = journal.NewSink(store, bus, runID, buffer, log.With(logx.String("comp", "journal")))
		a.log.Info("journal enabled", logx.String("driver", jc.Driver))
	}

	a.debug = debugsrv.New(debugCfg, debugsrv.Deps{Gatherer: reg, Status: a.status},
		log.With(logx.String("comp", "debugsrv")))

	a.stats = newStatsReporter(pool, log.With(logx.String("comp", "stats")))
	if err := a.stats.Apply(cfg.Stats.Schedule); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		return nil, fmt.Errorf("stats.schedule: %w", err)
	}
	return a, nil
}

func (a *App) Pool() *sched.Pool { return a.pool }
func (a *App) RunID() string     { return a.runID }

// DebugAddr is the bound debug server address, or "" when it is not serving.
func (a *App) DebugAddr() string { return a.debug.Addr() }

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

type status struct {
	RunID      string            `json:"run_id"`
	Pool       sched.Snapshot    `json:"pool"`
	Workers    rtsup.Snapshot    `json:"worker_supervisor"`
	App        rtsup.Snapshot    `json:"app_supervisor"`
	BusDropped uint64            `json:"bus_dropped"`
	Journal    *journalStatus    `json:"journal,omitempty"`
	Config     map[string]string `json:"config"`
}

type journalStatus struct {
	Written  uint64 `json:"written"`
	Failures uint64 `json:"failures"`
}

func (a *App) status() any {
	st := status{
		RunID:      a.runID,
		Pool:       a.pool.Snapshot(),
		Workers:    a.pool.Supervisor().Snapshot(),
		App:        a.sup.Snapshot(),
		BusDropped: a.bus.Dropped(),
	}
	if a.sink != nil {
		st.Journal = &journalStatus{Written: a.sink.Written(), Failures: a.sink.Failures()}
	}
	cfg := a.pool.Config()
	st.Config = map[string]string{
		"spawn_threshold": fmt.Sprint(cfg.SpawnThreshold),
		"max_workers":     fmt.Sprint(cfg.MaxWorkers),
		"routing":         string(cfg.Routing),
		"park_timeout":    cfg.ParkTimeout.String(),
	}
	return st
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapScheduler(cfg.Scheduler); err != nil {
			return err
		}
		if _, err := mapDebugServer(cfg.DebugServer); err != nil {
			return err
		}
		_, _, _, err := mapJournal(cfg.Journal)
		return err
	})

	// The pool outlives the app context: Stop drains it explicitly so
	// queued tasks still run after a signal.
	if err := a.pool.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	if a.sink != nil {
		sinkCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.sinkCancel = cancel
		a.sup.Go("journal.sink", func(context.Context) error { return a.sink.Run(sinkCtx) })
	}

	// The debug server stays up through the scheduler drain and is stopped
	// by its own step.
	a.debugCtx, a.debugCancel = context.WithCancel(context.WithoutCancel(ctx))
	a.debug.Start(a.debugCtx)
	a.stats.Start()

	if a.log.Enabled(logx.LevelDebug) {
		events, unsub := a.bus.Subscribe(128, string(sched.EventWorkerSpawned), string(sched.EventWorkerSpawnFailed))
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
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("workers", a.pool.Workers()))
	return nil
}

// Stop drains the scheduler and shuts every component down in order. Each
// step is bounded so one component can't stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Background loops (reload, watch) unwind while the pool drains.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.runStep(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("stats", stopStatsMax, func(c context.Context) error { a.stats.Stop(c); return nil })
	step("scheduler", stopSchedulerMax, a.pool.Stop)
	step("journal", stopJournalMax, func(context.Context) error {
		// The sink drains what the pool published while stopping.
		if a.sinkCancel != nil {
			a.sinkCancel()
		}
		return nil
	})
	step("debug_server", stopDebugMax, func(c context.Context) error {
		a.debug.Stop(c)
		if a.debugCancel != nil {
			a.debugCancel()
		}
		return nil
	})
	step("supervisor", stopSupervisorMax, a.sup.Wait)
	step("journal.close", stopJournalMax, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) runStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
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
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			return err
		}
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
		return stepCtx.Err()
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if err := a.logs.Apply(mapLogging(next.Logging)); err != nil {
		a.log.Warn("logging config partially applied", logx.Err(err))
	}
	if prev != nil && strings.TrimSpace(prev.Logging.TraceEvery) != strings.TrimSpace(next.Logging.TraceEvery) {
		a.log.Warn("logging.trace_every changed; restart required for changes to take effect")
	}

	if sc, err := mapScheduler(next.Scheduler); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else if err := a.pool.Apply(sc); err != nil {
		a.log.Warn("scheduler config rejected; keeping previous", logx.Err(err))
	}

	if dc, err := mapDebugServer(next.DebugServer); err != nil {
		a.log.Warn("invalid debug_server config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(a.debugCtx, dc)
	}

	if err := a.stats.Apply(next.Stats.Schedule); err != nil {
		a.log.Warn("invalid stats schedule; keeping previous", logx.Err(err))
	}

	for _, s := range sections {
		if s == "journal" {
			a.log.Warn("journal config changed; restart required for changes to take effect")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
