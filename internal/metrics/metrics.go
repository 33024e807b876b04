// Package metrics exports scheduler events as Prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"wsched/internal/sched"
)

const namespace = "wsched"

// Metrics is a sched.Observer that keeps Prometheus collectors up to date.
type Metrics struct {
	TasksSubmitted prometheus.Counter
	TasksCompleted *prometheus.CounterVec
	TaskPanics     prometheus.Counter
	TaskDuration   prometheus.Histogram
	StealAttempts  prometheus.Counter
	StealResults   *prometheus.CounterVec
	Workers        prometheus.Gauge
	WorkersRunning prometheus.Gauge
	SpawnFailures  prometheus.Counter
	QueueLength    *prometheus.GaugeVec

	reg prometheus.Registerer
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reg: reg,
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted by Submit.",
		}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Tasks executed, by whether the executing worker stole them.",
		}, []string{"stolen"}),
		TaskPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_panics_total",
			Help:      "Task payloads that panicked.",
		}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Payload execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		StealAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steal_attempts_total",
			Help:      "Steal scans started by idle workers.",
		}),
		StealResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steal_results_total",
			Help:      "Steal scan outcomes.",
		}, []string{"result"}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Registered workers.",
		}),
		WorkersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_running",
			Help:      "Workers currently executing a task.",
		}),
		SpawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_spawn_failures_total",
			Help:      "Worker spawns that failed to launch.",
		}),
		QueueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Last queue length observed by each worker.",
		}, []string{"worker"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.TasksSubmitted, m.TasksCompleted, m.TaskPanics, m.TaskDuration,
		m.StealAttempts, m.StealResults, m.Workers, m.WorkersRunning,
		m.SpawnFailures, m.QueueLength,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// TrackPending exports fn as the wsched_pending_tasks gauge.
func (m *Metrics) TrackPending(fn func() int64) error {
	if m.reg == nil || fn == nil {
		return nil
	}
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_tasks",
		Help:      "Submitted tasks that have not finished.",
	}, func() float64 { return float64(fn()) }))
}

// Observe implements sched.Observer.
func (m *Metrics) Observe(e sched.Event) {
	switch e.Type {
	case sched.EventTaskSubmitted:
		m.TasksSubmitted.Inc()
	case sched.EventTaskCompleted:
		m.TasksCompleted.WithLabelValues(strconv.FormatBool(e.Stolen)).Inc()
		m.TaskDuration.Observe(e.Duration.Seconds())
	case sched.EventTaskPanic:
		m.TaskPanics.Inc()
	case sched.EventStealAttempt:
		m.StealAttempts.Inc()
	case sched.EventStealResult:
		result := "miss"
		if e.Stolen {
			result = "hit"
		}
		m.StealResults.WithLabelValues(result).Inc()
	case sched.EventWorkerSpawned:
		m.Workers.Inc()
	case sched.EventWorkerSpawnFailed:
		m.SpawnFailures.Inc()
	case sched.EventWorkerRunning:
		m.WorkersRunning.Inc()
	case sched.EventWorkerIdle:
		m.WorkersRunning.Dec()
	case sched.EventQueueObserved:
		m.QueueLength.WithLabelValues(strconv.Itoa(e.Worker)).Set(float64(e.QueueLen))
	}
}
