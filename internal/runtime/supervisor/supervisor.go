package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "wsched/pkg/logx"
)

// ErrClosed is returned by Launch once the supervisor context is done.
var ErrClosed = errors.New("supervisor: closed")

// A run that lasted this long resets the restart backoff.
const stableRun = 30 * time.Second

// Supervisor owns a group of named goroutines sharing one context.
//
// Every goroutine gets panic capture and per-name stats. With
// WithCancelOnError the first failure cancels the group; GoRestart loops
// are brought back with backoff instead.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	started  atomic.Uint64
	active   atomic.Int64
	firstErr atomic.Pointer[error]

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	stats statsTable
}

type Option func(*Supervisor)

// Counters are operational signals only, not a synchronization primitive.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// GoroutineStats aggregates runs of goroutines sharing a name.
type GoroutineStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Panics      uint64    `json:"panics"`
	Restarts    uint64    `json:"restarts"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastPanic   string    `json:"last_panic,omitempty"`
}

type Snapshot struct {
	Counters   Counters         `json:"counters"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first non-nil error (or panic) from a Go
// goroutine cancel the shared context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, doneCh: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first failure recorded, if any.
func (s *Supervisor) Err() error {
	if p := s.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load()}
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Counters: s.Counters(), Goroutines: s.stats.list()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	return snap
}

// spawn runs body on a tracked goroutine.
func (s *Supervisor) spawn(body func()) {
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		body()
	}()
}

// outcome of one guarded call.
type outcome struct {
	err   error
	panic any
	stack string
}

func (o outcome) failed() bool {
	if o.panic != nil {
		return true
	}
	return o.err != nil && !errors.Is(o.err, context.Canceled)
}

func (o outcome) asError(name string) error {
	if o.panic != nil {
		return fmt.Errorf("panic in %s: %v", name, o.panic)
	}
	return fmt.Errorf("%s: %w", name, o.err)
}

func guarded(ctx context.Context, fn func(context.Context) error) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out.panic = r
			out.stack = string(debug.Stack())
		}
	}()
	out.err = fn(ctx)
	return out
}

func (s *Supervisor) logPanic(msg, name string, o outcome) {
	s.stats.panicked(name, o.panic)
	s.log.Error(msg, logx.String("name", name), logx.Any("panic", o.panic), logx.Stack(o.stack))
}

// Go runs fn in a named goroutine. An error other than context.Canceled, or
// a panic, is recorded as the supervisor's error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(func() {
		s.stats.started(name, false)
		o := guarded(s.ctx, fn)
		if o.panic != nil {
			s.logPanic("goroutine panicked", name, o)
		}
		if !o.failed() {
			s.stats.stopped(name, nil)
			return
		}
		err := o.asError(name)
		s.stats.stopped(name, err)
		s.fail(err)
	})
}

// Go0 is Go for functions that don't return an error.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// RestartOption configures GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max    time.Duration
	maxRestarts int // <=0 means unlimited

	cur time.Duration
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts limits the number of restarts before giving up.
// The initial run is not counted.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = n } }

func newRestartPolicy(opts []RestartOption) *restartPolicy {
	p := &restartPolicy{min: 50 * time.Millisecond, max: 5 * time.Second}
	for _, o := range opts {
		o(p)
	}
	p.max = max(p.max, p.min)
	p.cur = p.min
	return p
}

// delay returns the wait before the next run; a long healthy run starts the
// backoff over.
func (p *restartPolicy) delay(ran time.Duration) time.Duration {
	if ran >= stableRun {
		p.cur = p.min
	}
	d := p.cur
	p.cur = min(p.cur*2, p.max)
	return d
}

// GoRestart runs fn and restarts it after an error or panic, with
// exponential backoff, until the context is canceled. A nil return is a
// clean stop. Giving up (WithMaxRestarts) counts as a failure.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	policy := newRestartPolicy(opts)

	// The host goroutine uses a distinct name so stats for the logical name count runs only.
	s.Go0(name+".restart", func(ctx context.Context) {
		for restarts := 0; ctx.Err() == nil; restarts++ {
			startedAt := s.stats.started(name, restarts > 0)
			o := guarded(ctx, fn)
			if o.panic != nil {
				s.logPanic("goroutine panicked (restart)", name, o)
			}
			if ctx.Err() != nil || !o.failed() {
				s.stats.stopped(name, nil)
				return
			}
			err := o.asError(name)
			s.stats.stopped(name, err)

			if policy.maxRestarts > 0 && restarts >= policy.maxRestarts {
				s.log.Error("goroutine gave up after restarts", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				s.fail(err)
				return
			}
			wait := policy.delay(time.Since(startedAt))
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			if !sleep(ctx, wait) {
				return
			}
		}
	})
}

// Launch starts a restartable loop, or returns ErrClosed when the supervisor
// is already shutting down. Nothing is started on error.
func (s *Supervisor) Launch(name string, loop func(ctx context.Context) error) error {
	if s == nil {
		return ErrClosed
	}
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	s.GoRestart(name, loop)
	return nil
}

// Stop cancels and waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned (reporting Err) or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	if err == nil {
		return
	}
	s.firstErr.CompareAndSwap(nil, &err)
	if s.cancelOnErr {
		s.cancel()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// statsTable holds per-name stats.
type statsTable struct {
	mu sync.Mutex
	m  map[string]*GoroutineStats
}

func (t *statsTable) entry(name string) *GoroutineStats {
	if t.m == nil {
		t.m = make(map[string]*GoroutineStats)
	}
	st := t.m[name]
	if st == nil {
		st = &GoroutineStats{Name: name}
		t.m[name] = st
	}
	return st
}

func (t *statsTable) started(name string, restart bool) time.Time {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(name)
	st.Started++
	st.Active++
	st.LastStartAt = now
	if restart {
		st.Restarts++
	}
	return now
}

func (t *statsTable) stopped(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(name)
	st.Active = max(st.Active-1, 0)
	if err != nil {
		st.LastErr = err.Error()
	}
}

func (t *statsTable) panicked(name string, p any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(name)
	st.Panics++
	st.LastPanic = fmt.Sprint(p)
}

func (t *statsTable) list() []GoroutineStats {
	t.mu.Lock()
	out := make([]GoroutineStats, 0, len(t.m))
	for _, st := range t.m {
		out = append(out, *st)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
