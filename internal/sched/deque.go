package sched

import "sync/atomic"

const defaultDequeCapacity = 32

// ring is a power-of-two circular buffer indexed by absolute positions.
type ring struct {
	mask  int64
	slots []atomic.Pointer[Task]
}

func newRing(capacity int64) *ring {
	n := int64(1)
	for n < capacity {
		n <<= 1
	}
	return &ring{mask: n - 1, slots: make([]atomic.Pointer[Task], n)}
}

func (r *ring) size() int64          { return r.mask + 1 }
func (r *ring) get(i int64) *Task    { return r.slots[i&r.mask].Load() }
func (r *ring) put(i int64, t *Task) { r.slots[i&r.mask].Store(t) }

// grow copies the live range [top, bottom) into a ring twice as large.
// The old ring is left intact for thieves that still hold it.
func (r *ring) grow(top, bottom int64) *ring {
	nr := newRing(r.size() * 2)
	for i := top; i < bottom; i++ {
		nr.put(i, r.get(i))
	}
	return nr
}

// Deque is an unbounded Chase-Lev work-stealing deque.
//
// PushBottom and PopBottom must only be called by one goroutine at a time (the
// owner side). Steal may be called concurrently from any number of goroutines.
// Every pushed task is returned by exactly one PopBottom or Steal.
//
// Thieves never write slots: a stolen task's slot keeps its pointer until the
// owner overwrites it.
type Deque struct {
	top    atomic.Int64
	bottom atomic.Int64
	buf    atomic.Pointer[ring]
}

// NewDeque returns an empty deque. capacity is only the initial ring size.
func NewDeque(capacity int) *Deque {
	if capacity <= 0 {
		capacity = defaultDequeCapacity
	}
	d := &Deque{}
	d.buf.Store(newRing(int64(capacity)))
	return d
}

// PushBottom appends t at the owner end. It never fails; the ring grows as needed.
func (d *Deque) PushBottom(t *Task) {
	if t == nil {
		return
	}
	b := d.bottom.Load()
	top := d.top.Load()
	r := d.buf.Load()
	if b-top >= r.size() {
		r = r.grow(top, b)
		d.buf.Store(r)
	}
	r.put(b, t)
	d.bottom.Store(b + 1)
}

// PopBottom removes the most recently pushed task. It reports false when the
// deque is empty, including when a thief won the race for the last task.
func (d *Deque) PopBottom() (*Task, bool) {
	b := d.bottom.Load() - 1
	r := d.buf.Load()
	d.bottom.Store(b)
	top := d.top.Load()

	if top > b {
		d.bottom.Store(b + 1)
		return nil, false
	}

	t := r.get(b)
	if top < b {
		r.put(b, nil)
		return t, true
	}

	// Single task left: race thieves for it through top.
	won := d.top.CompareAndSwap(top, top+1)
	d.bottom.Store(b + 1)
	if !won {
		return nil, false
	}
	r.put(b, nil)
	return t, true
}

// Steal removes the oldest task. It reports false when nothing is available;
// a thief that loses the race for the last task observes an empty deque.
func (d *Deque) Steal() (*Task, bool) {
	for {
		top := d.top.Load()
		b := d.bottom.Load()
		if top >= b {
			return nil, false
		}
		r := d.buf.Load()
		t := r.get(top)
		if d.top.CompareAndSwap(top, top+1) {
			return t, true
		}
		// Someone else advanced top; re-check what is left.
	}
}

// Len is the number of queued tasks. It is approximate while the deque is
// being modified concurrently.
func (d *Deque) Len() int {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

func (d *Deque) Empty() bool { return d.Len() == 0 }
