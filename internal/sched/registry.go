package sched

import (
	"sync"
	"sync/atomic"
)

// workQueue is a worker's deque plus the lock serializing its owner end.
//
// The owning worker and external submitters both push to the bottom, so they
// share ownerMu. Thieves use Steal and never take it.
type workQueue struct {
	owner   int
	ownerMu sync.Mutex
	dq      *Deque
}

func newWorkQueue(owner, capacity int) *workQueue {
	return &workQueue{owner: owner, dq: NewDeque(capacity)}
}

func (q *workQueue) push(t *Task) {
	q.ownerMu.Lock()
	q.dq.PushBottom(t)
	q.ownerMu.Unlock()
}

func (q *workQueue) pop() (*Task, bool) {
	q.ownerMu.Lock()
	t, ok := q.dq.PopBottom()
	q.ownerMu.Unlock()
	return t, ok
}

func (q *workQueue) steal() (*Task, bool) { return q.dq.Steal() }

func (q *workQueue) len() int { return q.dq.Len() }

// registry is the append-only list of workers. Readers get an immutable
// snapshot without locking; add publishes a fresh copy.
type registry struct {
	mu      sync.Mutex
	workers atomic.Pointer[[]*worker]
}

func (r *registry) snapshot() []*worker {
	p := r.workers.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (r *registry) len() int { return len(r.snapshot()) }

// add appends w and returns the new count. w must be fully built.
func (r *registry) add(w *worker) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snapshot()
	next := make([]*worker, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, w)
	r.workers.Store(&next)
	return len(next)
}
