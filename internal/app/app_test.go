package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wsched/internal/config"
	"wsched/internal/sched"
	logx "wsched/pkg/logx"
)

const testConfig = `
logging:
  level: error
scheduler:
  initial_workers: 1
  spawn_threshold: 2
  max_workers: 4
  routing: current
  park_timeout: 5ms
debug_server:
  enabled: true
  addr: 127.0.0.1:0
journal:
  driver: file
  path: %JOURNAL%
stats:
  schedule: "@every 1s"
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "wsched.yaml")
	body = strings.ReplaceAll(body, "%JOURNAL%", filepath.Join(dir, "journal"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func httpGet(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfig)

	a, err := New(path)
	require.NoError(t, err)
	require.NotEmpty(t, a.RunID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	var ran atomic.Int64
	for i := 0; i < 50; i++ {
		_, err := a.Pool().SubmitFunc(func() {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		})
		require.NoError(t, err)
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	require.NoError(t, a.Pool().WaitIdle(waitCtx))
	waitCancel()
	require.EqualValues(t, 50, ran.Load())
	require.Greater(t, a.Pool().Workers(), 1, "backlog above the threshold spawns workers")

	require.Eventually(t, func() bool { return a.DebugAddr() != "" }, 5*time.Second, 10*time.Millisecond)
	base := "http://" + a.DebugAddr()

	body := httpGet(t, base+"/metrics")
	require.Contains(t, body, "wsched_tasks_submitted_total 50")
	require.Contains(t, body, "go_goroutines")

	var st struct {
		RunID string         `json:"run_id"`
		Pool  sched.Snapshot `json:"pool"`
	}
	require.NoError(t, json.Unmarshal([]byte(httpGet(t, base+"/debug/sched")), &st))
	require.Equal(t, a.RunID(), st.RunID)
	require.EqualValues(t, 50, st.Pool.Completed)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))

	_, err = a.Pool().SubmitFunc(func() {})
	require.ErrorIs(t, err, sched.ErrStopped)

	raw, err := os.ReadFile(filepath.Join(dir, "journal.events.jsonl"))
	require.NoError(t, err)
	journal := string(raw)
	require.Contains(t, journal, a.RunID())
	require.Contains(t, journal, `"type":"worker.spawned"`)
	require.Contains(t, journal, `"type":"pool.stopped"`)
}

func TestDebugServerOutlivesSchedulerDrain(t *testing.T) {
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, testConfig))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	require.Eventually(t, func() bool { return a.DebugAddr() != "" }, 5*time.Second, 10*time.Millisecond)
	base := "http://" + a.DebugAddr()

	started := make(chan struct{})
	gate := make(chan struct{})
	_, err = a.Pool().SubmitFunc(func() {
		close(started)
		<-gate
	})
	require.NoError(t, err)
	<-started

	// A signal cancels the parent context before Stop runs.
	cancel()
	stopped := make(chan error, 1)
	go func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		stopped <- a.Stop(stopCtx, StopSIGTERM)
	}()
	require.Eventually(t, func() bool { return a.Pool().Snapshot().State == "stopping" }, 5*time.Second, 5*time.Millisecond)

	httpGet(t, base+"/healthz")
	var st struct {
		Pool sched.Snapshot `json:"pool"`
	}
	require.NoError(t, json.Unmarshal([]byte(httpGet(t, base+"/debug/sched")), &st))
	require.Equal(t, "stopping", st.Pool.State)
	require.EqualValues(t, 1, st.Pool.Pending)

	close(gate)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("stop did not finish after the drain")
	}
	require.Empty(t, a.DebugAddr())
}

func TestAppHotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfig)

	a, err := New(path)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()
	require.Equal(t, 2, a.Pool().Config().SpawnThreshold)

	// Let the watcher settle before rewriting the file.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(testConfig, "spawn_threshold: 2", "spawn_threshold: 7", 1)
	updated = strings.Replace(updated, "routing: current", "routing: least_loaded", 1)
	writeConfig(t, dir, updated)

	require.Eventually(t, func() bool {
		c := a.Pool().Config()
		return c.SpawnThreshold == 7 && c.Routing == sched.RouteLeastLoaded
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "scheduler:\n  routing: random\n")
	_, err := New(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "scheduler.routing")
}

func TestMapScheduler(t *testing.T) {
	t.Parallel()
	got, err := mapScheduler(config.SchedulerConfig{
		SpawnThreshold: 3,
		MaxWorkers:     2,
		Routing:        "Round_Robin",
		ParkTimeout:    "20ms",
	})
	require.NoError(t, err)
	require.Equal(t, 1, got.InitialWorkers)
	require.Equal(t, 3, got.SpawnThreshold)
	require.Equal(t, sched.RouteRoundRobin, got.Routing)
	require.Equal(t, 20*time.Millisecond, got.ParkTimeout)

	got, err = mapScheduler(config.SchedulerConfig{})
	require.NoError(t, err)
	require.Equal(t, sched.DefaultParkTimeout, got.ParkTimeout)
	require.Equal(t, sched.DefaultSpinRounds, got.SpinRounds)
	require.Greater(t, got.MaxWorkers, got.InitialWorkers)

	zero, eight := 0, 8
	got, err = mapScheduler(config.SchedulerConfig{SpinRounds: &zero})
	require.NoError(t, err)
	require.Equal(t, sched.NoSpin, got.SpinRounds)
	got, err = mapScheduler(config.SchedulerConfig{SpinRounds: &eight})
	require.NoError(t, err)
	require.Equal(t, 8, got.SpinRounds)

	_, err = mapScheduler(config.SchedulerConfig{ParkTimeout: "soon"})
	require.Error(t, err)
}

func TestMapJournal(t *testing.T) {
	t.Parallel()
	_, _, enabled, err := mapJournal(nil)
	require.NoError(t, err)
	require.False(t, enabled)

	jc, buffer, enabled, err := mapJournal(&config.JournalConfig{Driver: "File", Path: "./j"})
	require.NoError(t, err)
	require.True(t, enabled)
	require.Equal(t, "file", jc.Driver)
	require.Equal(t, config.DefaultJournalBuffer, buffer)
	require.Equal(t, config.DefaultJournalBusyWait, jc.BusyTimeout)

	_, _, _, err = mapJournal(&config.JournalConfig{Driver: "sqlite"})
	require.Error(t, err)
}

func TestMapDebugServerDefaults(t *testing.T) {
	t.Parallel()
	got, err := mapDebugServer(config.DebugServerConfig{Enabled: true})
	require.NoError(t, err)
	require.Equal(t, config.DefaultDebugAddr, got.Addr)
	require.True(t, got.Metrics)
	require.True(t, got.Pprof)
	require.Zero(t, got.WriteTimeout)

	off := false
	got, err = mapDebugServer(config.DebugServerConfig{Pprof: &off, ReadTimeout: "3s"})
	require.NoError(t, err)
	require.False(t, got.Pprof)
	require.Equal(t, 3*time.Second, got.ReadTimeout)
}

func TestStatsReporterApply(t *testing.T) {
	t.Parallel()
	pool, err := sched.New(sched.Config{})
	require.NoError(t, err)
	r := newStatsReporter(pool, logx.Nop())

	require.NoError(t, r.Apply("@every 10ms"))
	require.Error(t, r.Apply("not a schedule"))
	require.Equal(t, "@every 10ms", r.spec, "an invalid spec keeps the current schedule")

	r.Start()
	require.Eventually(t, func() bool { return r.Runs() > 0 }, 5*time.Second, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)

	require.NoError(t, r.Apply(""))
	require.Len(t, r.c.Entries(), 0)
}
