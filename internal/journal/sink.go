package journal

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"wsched/internal/eventbus"
	"wsched/internal/sched"
	logx "wsched/pkg/logx"
)

const appendTimeout = 2 * time.Second

// Journaled event types. Per-iteration events (queue observations, steal
// scans) are left to metrics.
var Prefixes = []string{
	string(sched.EventWorkerSpawned),
	string(sched.EventWorkerSpawnFailed),
	string(sched.EventWorkerStopped),
	string(sched.EventTaskPanic),
	string(sched.EventPoolStopped),
}

// Sink copies scheduler events from a bus subscription into a Store.
type Sink struct {
	store  Store
	runID  string
	log    logx.Logger
	warn   *logx.Sampler
	seq    atomic.Uint64
	failed atomic.Uint64

	events      <-chan eventbus.Event
	unsubscribe func()
}

// NewSink subscribes to bus immediately so no event published after it
// returns is missed, even before Run starts.
func NewSink(store Store, bus eventbus.Bus, runID string, buffer int, log logx.Logger) *Sink {
	ch, unsub := bus.Subscribe(buffer, Prefixes...)
	return &Sink{
		store:       store,
		runID:       runID,
		log:         log,
		warn:        logx.NewSampler(10*time.Second, 1),
		events:      ch,
		unsubscribe: unsub,
	}
}

func (s *Sink) RunID() string    { return s.runID }
func (s *Sink) Written() uint64  { return s.seq.Load() }
func (s *Sink) Failures() uint64 { return s.failed.Load() }

// Run drains the subscription until ctx is done or the bus subscription is
// closed. Events still buffered at cancellation are written before returning.
func (s *Sink) Run(ctx context.Context) error {
	defer s.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case ev, ok := <-s.events:
			if !ok {
				return nil
			}
			s.write(ev)
		}
	}
}

func (s *Sink) drain() {
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.write(ev)
		default:
			return
		}
	}
}

func (s *Sink) write(ev eventbus.Event) {
	e, ok := ev.Data.(sched.Event)
	if !ok {
		return
	}
	r := Record{
		RunID:      s.runID,
		Seq:        s.seq.Add(1),
		At:         e.Time,
		Type:       string(e.Type),
		Worker:     e.Worker,
		Task:       uint64(e.Task),
		QueueLen:   e.QueueLen,
		DurationMS: e.Duration.Milliseconds(),
	}
	if e.Err != nil {
		r.Error = e.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	err := s.store.Append(ctx, r)
	cancel()
	if err == nil {
		return
	}
	s.failed.Add(1)
	if errors.Is(err, ErrClosed) || s.warn.Allow() {
		s.log.Warn("journal append failed", logx.String("type", r.Type), logx.Err(err), logx.Uint64("failures", s.failed.Load()))
	}
}
