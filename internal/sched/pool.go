package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	rtsup "wsched/internal/runtime/supervisor"
	logx "wsched/pkg/logx"
)

const waitPollInterval = 2 * time.Millisecond

// Launcher creates the execution context for a worker loop. The loop must be
// running (or scheduled to run) when Launch returns nil; on error nothing was
// started.
type Launcher interface {
	Launch(name string, loop func(ctx context.Context) error) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(name string, loop func(ctx context.Context) error) error

func (f LauncherFunc) Launch(name string, loop func(ctx context.Context) error) error {
	return f(name, loop)
}

type Option func(*Pool)

func WithLogger(log logx.Logger) Option {
	return func(p *Pool) { p.log = log }
}

// WithObserver sets the status event sink. Use MultiObserver for several.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.obs = o }
}

// WithLauncher wraps the pool's default launcher (its supervisor). The wrapper
// sees every worker launch, including the initial ones.
func WithLauncher(wrap func(base Launcher) Launcher) Option {
	return func(p *Pool) { p.wrapLauncher = wrap }
}

// WithTraceSampling limits per-iteration trace logs to about one per every.
// every <= 0 disables them.
func WithTraceSampling(every time.Duration, burst int) Option {
	return func(p *Pool) { p.traceSampler = logx.NewSampler(every, burst) }
}

type poolState int

const (
	poolNew poolState = iota
	poolRunning
	poolStopping
	poolStopped
)

func (s poolState) String() string {
	switch s {
	case poolNew:
		return "new"
	case poolRunning:
		return "running"
	case poolStopping:
		return "stopping"
	case poolStopped:
		return "stopped"
	}
	return "unknown"
}

// Pool is a work-stealing scheduler instance.
type Pool struct {
	cfg          atomic.Pointer[Config]
	log          logx.Logger
	obs          Observer
	wrapLauncher func(Launcher) Launcher
	traceSampler *logx.Sampler

	// lifeMu guards state transitions. Submit holds the read side for its
	// whole duration so Stop never races a push.
	lifeMu   sync.RWMutex
	state    poolState
	sup      *rtsup.Supervisor
	launcher Launcher
	stopDone chan struct{}

	reg     registry
	spawnMu sync.Mutex
	parked  parking

	seq     atomic.Uint64
	rr      atomic.Uint64
	pending atomic.Int64

	submitted     atomic.Uint64
	completed     atomic.Uint64
	panics        atomic.Uint64
	steals        atomic.Uint64
	spawned       atomic.Uint64
	spawnFailures atomic.Uint64

	// observerPanics counts events whose Observe call panicked and was dropped.
	observerPanics atomic.Uint64
}

// New validates cfg and returns a pool that is not yet running.
func New(cfg Config, opts ...Option) (*Pool, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{}
	p.cfg.Store(&cfg)
	p.traceSampler = logx.NewSampler(time.Second, 5)
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	return p, nil
}

func (p *Pool) config() Config { return *p.cfg.Load() }

// Config returns the active configuration.
func (p *Pool) Config() Config { return p.config() }

// Start launches the initial workers under a supervisor bound to ctx.
// Start is idempotent while running; a stopped pool cannot be restarted.
func (p *Pool) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	switch p.state {
	case poolRunning:
		return nil
	case poolStopping, poolStopped:
		return ErrStopped
	}

	cfg := p.config()
	p.sup = rtsup.New(ctx,
		rtsup.WithLogger(p.log.With(logx.String("comp", "sched"))),
		// A misbehaving worker loop is restarted, never allowed to cancel its peers.
		rtsup.WithCancelOnError(false),
	)
	p.launcher = p.sup
	if p.wrapLauncher != nil {
		p.launcher = p.wrapLauncher(p.sup)
	}

	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()
	for i := 0; i < cfg.InitialWorkers; i++ {
		if err := p.spawnLocked(0); err != nil {
			p.sup.Cancel()
			p.state = poolStopped
			return err
		}
	}
	p.state = poolRunning
	p.log.Info("scheduler started",
		logx.Int("workers", cfg.InitialWorkers),
		logx.Int("max_workers", cfg.MaxWorkers),
		logx.Int("spawn_threshold", cfg.SpawnThreshold),
		logx.String("routing", string(cfg.Routing)),
	)
	return nil
}

// Submit enqueues payload and returns its TaskID.
//
// If the target queue's backlog (before this push) exceeds SpawnThreshold and
// the worker cap allows it, a new worker is spawned. A failed spawn is
// reported as an error wrapping ErrSpawnFailed together with the valid
// TaskID: the task was accepted and will still run.
func (p *Pool) Submit(payload Runnable) (TaskID, error) {
	if payload == nil {
		return 0, ErrNilPayload
	}
	p.lifeMu.RLock()
	defer p.lifeMu.RUnlock()
	switch p.state {
	case poolNew:
		return 0, ErrNotStarted
	case poolStopping:
		return 0, ErrStopping
	case poolStopped:
		return 0, ErrStopped
	}

	cfg := p.config()
	target := p.route(cfg.Routing, p.reg.snapshot())
	t := &Task{ID: TaskID(p.seq.Add(1)), Payload: payload, SubmittedAt: time.Now()}

	backlog := target.q.len()
	p.pending.Add(1)
	p.submitted.Add(1)
	target.q.push(t)
	p.emit(Event{Type: EventTaskSubmitted, Worker: target.index, Task: t.ID, Victim: NoWorker, QueueLen: backlog + 1})
	target.signal()

	var err error
	if backlog > cfg.SpawnThreshold {
		err = p.maybeSpawn(cfg, backlog)
	}
	if backlog > 0 {
		// The owner is busy or about to be; let a parked peer steal.
		p.parked.wakeOne(target.index)
	}
	return t.ID, err
}

// SubmitFunc is Submit for a plain function.
func (p *Pool) SubmitFunc(fn func()) (TaskID, error) {
	if fn == nil {
		return 0, ErrNilPayload
	}
	return p.Submit(Func(fn))
}

func (p *Pool) route(r Routing, peers []*worker) *worker {
	switch r {
	case RouteRoundRobin:
		return peers[(p.rr.Add(1)-1)%uint64(len(peers))]
	case RouteLeastLoaded:
		best := peers[0]
		bestLen := best.q.len()
		for _, w := range peers[1:] {
			if n := w.q.len(); n < bestLen {
				best, bestLen = w, n
			}
		}
		return best
	default:
		return peers[0]
	}
}

func (p *Pool) maybeSpawn(cfg Config, backlog int) error {
	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()
	if p.reg.len() >= cfg.MaxWorkers {
		if p.traceSampler.Allow() {
			p.log.Debug("spawn skipped: worker cap reached", logx.Int("max_workers", cfg.MaxWorkers), logx.Int("backlog", backlog))
		}
		return nil
	}
	return p.spawnLocked(backlog)
}

// spawnLocked builds, launches and then publishes one worker. spawnMu must be
// held. A worker is visible in the registry only once its loop is launched.
func (p *Pool) spawnLocked(backlog int) error {
	idx := p.reg.len()
	w := newWorker(p, idx, p.config().QueueCapacity)

	if err := p.launcher.Launch(w.name, w.loop); err != nil {
		p.spawnFailures.Add(1)
		err = fmt.Errorf("%w: worker %d: %v", ErrSpawnFailed, idx, err)
		p.emit(Event{Type: EventWorkerSpawnFailed, Worker: idx, Victim: NoWorker, QueueLen: backlog, Err: err})
		p.log.Warn("failed to spawn worker", logx.Int("worker", idx), logx.Int("backlog", backlog), logx.Err(err))
		return err
	}

	n := p.reg.add(w)
	p.spawned.Add(1)
	p.emit(Event{Type: EventWorkerSpawned, Worker: idx, Victim: NoWorker, QueueLen: backlog})
	if backlog > 0 {
		p.log.Info("too many queued tasks, spawned worker", logx.Int("worker", idx), logx.Int("backlog", backlog), logx.Int("workers", n))
	} else {
		p.log.Debug("spawned worker", logx.Int("worker", idx))
	}
	return nil
}

func (p *Pool) taskDone() {
	p.completed.Add(1)
	p.pending.Add(-1)
}

func (p *Pool) workAvailable() bool {
	for _, w := range p.reg.snapshot() {
		if w.q.len() > 0 {
			return true
		}
	}
	return false
}

func (p *Pool) emit(e Event) {
	if p.obs == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			p.observerPanics.Add(1)
			p.log.Error("observer panicked",
				logx.String("event", string(e.Type)),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	p.obs.Observe(e)
}

// Workers is the number of registered workers.
func (p *Pool) Workers() int { return p.reg.len() }

// Pending is the number of submitted tasks that have not finished running.
func (p *Pool) Pending() int64 { return p.pending.Load() }

// WaitIdle blocks until every submitted task has finished or ctx is done.
func (p *Pool) WaitIdle(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.pending.Load() == 0 {
		return nil
	}
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if p.pending.Load() == 0 {
				return nil
			}
		}
	}
}

// Stop rejects new submissions, lets queued tasks drain, then stops every
// worker. It is idempotent; concurrent callers wait for the same shutdown.
// If ctx expires first Stop returns ctx.Err() and shutdown continues in the
// background.
func (p *Pool) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.lifeMu.Lock()
	switch p.state {
	case poolNew:
		p.state = poolStopped
		p.lifeMu.Unlock()
		return nil
	case poolStopped:
		p.lifeMu.Unlock()
		return nil
	case poolStopping:
		done := p.stopDone
		p.lifeMu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.state = poolStopping
	done := make(chan struct{})
	p.stopDone = done
	sup := p.sup
	p.lifeMu.Unlock()

	p.log.Info("scheduler stopping", logx.Int64("pending", p.pending.Load()))
	go p.shutdown(sup, done)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()), logx.Int64("pending", p.pending.Load()))
		return ctx.Err()
	}
}

func (p *Pool) shutdown(sup *rtsup.Supervisor, done chan struct{}) {
	// Drain. If the parent context was canceled the workers are already gone
	// and nothing will drain.
	for p.pending.Load() > 0 && sup.Context().Err() == nil {
		time.Sleep(waitPollInterval)
	}

	sup.Cancel()
	p.parked.wakeAll()
	_ = sup.Wait(context.Background())

	p.lifeMu.Lock()
	p.state = poolStopped
	p.lifeMu.Unlock()

	p.emit(Event{Type: EventPoolStopped, Worker: NoWorker, Victim: NoWorker})
	p.log.Info("scheduler stopped",
		logx.Int("workers", p.reg.len()),
		logx.Uint64("completed", p.completed.Load()),
		logx.Int64("abandoned", p.pending.Load()),
	)
	close(done)
}

// Apply swaps in a new runtime configuration. InitialWorkers is only read at
// start and is kept from the current config. Workers are never retired, so a
// lower MaxWorkers only stops further spawns.
func (p *Pool) Apply(cfg Config) error {
	cur := p.config()
	cfg.InitialWorkers = cur.InitialWorkers
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if n := p.reg.len(); cfg.MaxWorkers < n {
		p.log.Warn("max_workers is below the current worker count; existing workers are kept",
			logx.Int("max_workers", cfg.MaxWorkers), logx.Int("workers", n))
	}
	p.cfg.Store(&cfg)
	p.log.Info("scheduler config applied",
		logx.Int("spawn_threshold", cfg.SpawnThreshold),
		logx.Int("max_workers", cfg.MaxWorkers),
		logx.String("routing", string(cfg.Routing)),
	)
	return nil
}

// Supervisor returns the supervisor hosting the worker loops (nil before Start).
func (p *Pool) Supervisor() *rtsup.Supervisor {
	p.lifeMu.RLock()
	defer p.lifeMu.RUnlock()
	return p.sup
}
