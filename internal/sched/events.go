package sched

import (
	"time"

	"wsched/internal/eventbus"
)

// EventType names a scheduler status event. The dotted prefix groups related
// events so bus subscribers can filter on it.
type EventType string

const (
	EventQueueObserved     EventType = "queue.observed"
	EventTaskSubmitted     EventType = "task.submitted"
	EventTaskFound         EventType = "task.found"
	EventTaskCompleted     EventType = "task.completed"
	EventTaskPanic         EventType = "task.panic"
	EventStealAttempt      EventType = "steal.attempt"
	EventStealResult       EventType = "steal.result"
	EventWorkerSpawned     EventType = "worker.spawned"
	EventWorkerSpawnFailed EventType = "worker.spawn_failed"
	EventWorkerIdle        EventType = "worker.idle"
	EventWorkerRunning     EventType = "worker.running"
	EventWorkerStopped     EventType = "worker.stopped"
	EventPoolStopped       EventType = "pool.stopped"
)

// NoWorker marks Worker or Victim as not applicable.
const NoWorker = -1

// Event is one status report. Fields that do not apply to a Type are left at
// their zero value; Worker is NoWorker only for pool-wide events.
type Event struct {
	Type   EventType
	Time   time.Time
	Worker int
	Task   TaskID
	// Victim is the queue a task was stolen from (steal.result, task.found,
	// task.completed with Stolen set), NoWorker on a failed scan.
	Victim int
	// QueueLen is the length observed by Worker (queue.observed), or the
	// target backlog after the push (task.submitted).
	QueueLen int
	// Attempts counts victims probed during a steal scan.
	Attempts int
	// Stolen reports whether a found/completed task came from a peer, and
	// for steal.result whether the scan succeeded.
	Stolen   bool
	Duration time.Duration
	Err      error
}

// Observer receives status events. Observe is called synchronously on
// scheduler goroutines and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// MultiObserver fans an event out to every non-nil observer in order.
type MultiObserver []Observer

func (m MultiObserver) Observe(e Event) {
	for _, o := range m {
		if o != nil {
			o.Observe(e)
		}
	}
}

// BusObserver republishes events on an eventbus. Publish never blocks, so slow
// subscribers lose events instead of stalling workers.
func BusObserver(bus eventbus.Bus) Observer {
	if bus == nil {
		return nil
	}
	return ObserverFunc(func(e Event) {
		bus.Publish(eventbus.Event{Type: string(e.Type), Time: e.Time, Data: e})
	})
}
