package sched

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	logx "wsched/pkg/logx"
)

// WorkerState is what a worker is doing right now.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateRunning
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type worker struct {
	index int
	name  string
	pool  *Pool
	q     *workQueue
	log   logx.Logger

	// wake holds at most one pending signal so a wakeup sent before the worker
	// parks is not lost.
	wake chan struct{}
	// rng picks the first steal victim; only the worker loop touches it.
	rng *rand.Rand

	state    atomic.Int32
	executed atomic.Uint64
	stolen   atomic.Uint64
}

func newWorker(p *Pool, index int, queueCap int) *worker {
	return &worker{
		index: index,
		name:  fmt.Sprintf("worker.%d", index),
		pool:  p,
		q:     newWorkQueue(index, queueCap),
		log:   p.log.With(logx.Int("worker", index)),
		wake:  make(chan struct{}, 1),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano() + int64(index)*7919)),
	}
}

func (w *worker) State() WorkerState { return WorkerState(w.state.Load()) }

func (w *worker) setState(s WorkerState) {
	if WorkerState(w.state.Swap(int32(s))) == s {
		return
	}
	typ := EventWorkerIdle
	if s == StateRunning {
		typ = EventWorkerRunning
	}
	w.pool.emit(Event{Type: typ, Worker: w.index, Victim: NoWorker})
}

// signal wakes the worker if it is parked, or makes its next park return
// immediately.
func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// loop is the worker's run loop. It returns nil only once ctx is done.
func (w *worker) loop(ctx context.Context) error {
	defer func() {
		w.setState(StateIdle)
		if ctx.Err() != nil {
			w.pool.emit(Event{Type: EventWorkerStopped, Worker: w.index, Victim: NoWorker})
			w.log.Info("stopped worker")
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		w.observe()

		if t, ok := w.q.pop(); ok {
			w.pool.emit(Event{Type: EventTaskFound, Worker: w.index, Task: t.ID, Victim: NoWorker})
			w.execute(t, NoWorker)
			continue
		}
		if t, victim, ok := w.trySteal(); ok {
			w.pool.emit(Event{Type: EventTaskFound, Worker: w.index, Task: t.ID, Victim: victim, Stolen: true})
			w.execute(t, victim)
			continue
		}
		if !w.idle(ctx) {
			return nil
		}
	}
}

func (w *worker) observe() {
	n := w.q.len()
	w.pool.emit(Event{Type: EventQueueObserved, Worker: w.index, Victim: NoWorker, QueueLen: n})
	if w.pool.traceSampler.Allow() {
		w.log.Trace("queue observed", logx.Int("len", n))
	}
}

func (w *worker) trySteal() (*Task, int, bool) {
	peers := w.pool.reg.snapshot()
	if len(peers) < 2 {
		return nil, NoWorker, false
	}
	w.pool.emit(Event{Type: EventStealAttempt, Worker: w.index, Victim: NoWorker})

	t, victim, attempts := stealFrom(w.index, w.rng.Intn(len(peers)), peers)
	w.pool.emit(Event{
		Type:     EventStealResult,
		Worker:   w.index,
		Victim:   victim,
		Attempts: attempts,
		Stolen:   t != nil,
		Task:     taskID(t),
	})
	if t == nil {
		return nil, NoWorker, false
	}
	w.stolen.Add(1)
	w.pool.steals.Add(1)
	w.log.Debug("stole task", logx.Uint64("task", uint64(t.ID)), logx.Int("victim", victim), logx.Int("attempts", attempts))
	return t, victim, true
}

func (w *worker) execute(t *Task, victim int) {
	w.setState(StateRunning)
	start := time.Now()
	perr := t.run()
	d := time.Since(start)
	w.executed.Add(1)

	if perr != nil {
		w.pool.panics.Add(1)
		w.log.Error("task panicked",
			logx.Uint64("task", uint64(t.ID)),
			logx.Any("panic", perr.Value),
			logx.Stack(string(perr.Stack)),
		)
		w.pool.emit(Event{Type: EventTaskPanic, Worker: w.index, Task: t.ID, Victim: victim, Stolen: victim != NoWorker, Duration: d, Err: perr})
	}
	w.pool.taskDone()
	w.pool.emit(Event{Type: EventTaskCompleted, Worker: w.index, Task: t.ID, Victim: victim, Stolen: victim != NoWorker, Duration: d})
}

// idle spins, then parks. It reports false when ctx is done.
func (w *worker) idle(ctx context.Context) bool {
	w.setState(StateIdle)
	cfg := w.pool.config()

	for i := 0; i < cfg.SpinRounds; i++ {
		if w.pool.workAvailable() {
			return true
		}
		runtime.Gosched()
	}

	w.pool.parked.park(w)
	defer w.pool.parked.unpark(w)
	// Re-check after registering: a submit that ran before park() saw no
	// parked worker to wake.
	if w.pool.workAvailable() {
		return true
	}

	timer := time.NewTimer(cfg.ParkTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.wake:
	case <-timer.C:
	}
	return true
}

func taskID(t *Task) TaskID {
	if t == nil {
		return 0
	}
	return t.ID
}

// parking tracks workers blocked in idle so submitters can wake one.
type parking struct {
	mu sync.Mutex
	ws map[int]*worker
}

func (p *parking) park(w *worker) {
	p.mu.Lock()
	if p.ws == nil {
		p.ws = make(map[int]*worker)
	}
	p.ws[w.index] = w
	p.mu.Unlock()
}

func (p *parking) unpark(w *worker) {
	p.mu.Lock()
	delete(p.ws, w.index)
	p.mu.Unlock()
}

// wakeOne signals one parked worker other than except.
func (p *parking) wakeOne(except int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for idx, w := range p.ws {
		if idx == except {
			continue
		}
		delete(p.ws, idx)
		w.signal()
		return true
	}
	return false
}

func (p *parking) wakeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for idx, w := range p.ws {
		delete(p.ws, idx)
		w.signal()
	}
}

func (p *parking) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ws)
}
