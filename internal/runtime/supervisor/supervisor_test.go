package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRestartRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(false))

	var runs atomic.Int32
	done := make(chan struct{})
	s.GoRestart("worker.0", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		close(done)
		<-ctx.Done()
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop was not restarted after panic")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	snap := s.Snapshot()
	var found bool
	for _, g := range snap.Goroutines {
		if g.Name == "worker.0" {
			found = true
			require.EqualValues(t, 1, g.Panics)
			require.EqualValues(t, 1, g.Restarts)
			require.Zero(t, g.Active)
		}
	}
	require.True(t, found)
}

func TestGoCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("failing", func(ctx context.Context) error { return errors.New("bad") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled on error")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failing")
}

func TestLaunchAfterCancel(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Cancel()

	err := s.Launch("worker.1", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrClosed)
	require.Zero(t, s.Counters().Started)
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(false))

	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "flaky")
	require.EqualValues(t, 3, runs.Load(), "initial run plus two restarts")
}

func TestRestartPolicyBackoff(t *testing.T) {
	t.Parallel()
	p := newRestartPolicy([]RestartOption{WithRestartBackoff(10*time.Millisecond, 35*time.Millisecond)})
	require.Equal(t, 10*time.Millisecond, p.delay(0))
	require.Equal(t, 20*time.Millisecond, p.delay(0))
	require.Equal(t, 35*time.Millisecond, p.delay(0))
	require.Equal(t, 35*time.Millisecond, p.delay(0))
	require.Equal(t, 10*time.Millisecond, p.delay(stableRun), "a stable run resets the backoff")
}

func TestGoCleanExitIsNotAnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("ok", func(ctx context.Context) error { return nil })
	s.Go("canceled", func(ctx context.Context) error { return context.Canceled })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	require.NoError(t, s.Context().Err())
	require.EqualValues(t, 2, s.Counters().Started)
	require.Zero(t, s.Counters().Active)
}
