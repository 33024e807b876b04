package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"wsched/internal/sched"
)

func TestObserveUpdatesCollectors(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	for _, e := range []sched.Event{
		{Type: sched.EventWorkerSpawned, Worker: 0},
		{Type: sched.EventWorkerSpawned, Worker: 1},
		{Type: sched.EventTaskSubmitted, Worker: 0, Task: 1},
		{Type: sched.EventTaskSubmitted, Worker: 0, Task: 2},
		{Type: sched.EventQueueObserved, Worker: 0, QueueLen: 2},
		{Type: sched.EventWorkerRunning, Worker: 0},
		{Type: sched.EventTaskCompleted, Worker: 0, Task: 2, Duration: time.Millisecond},
		{Type: sched.EventStealAttempt, Worker: 1},
		{Type: sched.EventStealResult, Worker: 1, Victim: 0, Stolen: true, Task: 1},
		{Type: sched.EventStealAttempt, Worker: 1},
		{Type: sched.EventStealResult, Worker: 1, Victim: sched.NoWorker},
		{Type: sched.EventTaskPanic, Worker: 1, Task: 1},
		{Type: sched.EventTaskCompleted, Worker: 1, Task: 1, Stolen: true, Victim: 0},
		{Type: sched.EventWorkerIdle, Worker: 0},
		{Type: sched.EventWorkerSpawnFailed, Worker: 2},
	} {
		m.Observe(e)
	}

	require.Equal(t, 2.0, testutil.ToFloat64(m.Workers))
	require.Equal(t, 2.0, testutil.ToFloat64(m.TasksSubmitted))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TasksCompleted.WithLabelValues("true")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TasksCompleted.WithLabelValues("false")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TaskPanics))
	require.Equal(t, 2.0, testutil.ToFloat64(m.StealAttempts))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StealResults.WithLabelValues("hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StealResults.WithLabelValues("miss")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.WorkersRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SpawnFailures))
	require.Equal(t, 2.0, testutil.ToFloat64(m.QueueLength.WithLabelValues("0")))

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP wsched_workers Registered workers.
# TYPE wsched_workers gauge
wsched_workers 2
`), "wsched_workers"))
}

func TestTrackPending(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	require.NoError(t, m.TrackPending(func() int64 { return 7 }))

	n, err := testutil.GatherAndCount(reg, "wsched_pending_tasks")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}
