package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wsched/internal/eventbus"
	"wsched/internal/sched"
	logx "wsched/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	require.Nil(t, st)

	_, err = Open(Config{Driver: "redis"}, logx.Nop())
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestFileStoreAppendAndRecent(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j", "wsched.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	runA, runB := NewRunID(), NewRunID()
	require.NotEqual(t, runA, runB)
	for i := 1; i <= 5; i++ {
		require.NoError(t, st.Append(ctx, Record{RunID: runA, Seq: uint64(i), At: time.Now(), Type: "worker.spawned", Worker: i - 1}))
	}
	require.NoError(t, st.Append(ctx, Record{RunID: runB, Seq: 1, At: time.Now(), Type: "pool.stopped", Worker: -1}))

	recs, err := st.Recent(ctx, runA, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.EqualValues(t, 3, recs[0].Seq)
	require.EqualValues(t, 5, recs[2].Seq)

	all, err := st.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 6)

	require.NoError(t, st.Close())
	require.ErrorIs(t, st.Append(ctx, Record{}), ErrClosed)
}

type memStore struct {
	recs chan Record
	err  error
}

func (m *memStore) Append(_ context.Context, r Record) error {
	if m.err != nil {
		return m.err
	}
	m.recs <- r
	return nil
}

func (m *memStore) Recent(context.Context, string, int) ([]Record, error) { return nil, nil }

func (m *memStore) Close() error { return nil }

func TestSinkJournalsNotableEvents(t *testing.T) {
	bus := eventbus.New()
	st := &memStore{recs: make(chan Record, 16)}
	sink := NewSink(st, bus, "run-1", 16, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx) }()

	obs := sched.BusObserver(bus)
	obs.Observe(sched.Event{Type: sched.EventQueueObserved, Worker: 0, QueueLen: 3})
	obs.Observe(sched.Event{Type: sched.EventWorkerSpawned, Worker: 1, QueueLen: 11, Time: time.Now()})
	obs.Observe(sched.Event{Type: sched.EventTaskPanic, Worker: 1, Task: 42, Err: errors.New("boom"), Time: time.Now()})

	r := <-st.recs
	require.Equal(t, "worker.spawned", r.Type)
	require.Equal(t, "run-1", r.RunID)
	require.EqualValues(t, 1, r.Seq)
	require.Equal(t, 11, r.QueueLen)

	r = <-st.recs
	require.Equal(t, "task.panic", r.Type)
	require.EqualValues(t, 42, r.Task)
	require.Equal(t, "boom", r.Error)

	cancel()
	require.NoError(t, <-done)
	require.EqualValues(t, 2, sink.Written())
	select {
	case r := <-st.recs:
		t.Fatalf("unexpected record %+v", r)
	default:
	}
}

func TestSinkCountsFailures(t *testing.T) {
	bus := eventbus.New()
	st := &memStore{err: errors.New("disk full")}
	sink := NewSink(st, bus, "run-2", 4, logx.Nop())

	sched.BusObserver(bus).Observe(sched.Event{Type: sched.EventPoolStopped, Worker: sched.NoWorker})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sink.Run(ctx))
	require.EqualValues(t, 1, sink.Failures())
}
