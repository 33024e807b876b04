package app

import (
	"context"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"wsched/internal/config"
	"wsched/internal/sched"
	logx "wsched/pkg/logx"
)

// statsReporter periodically logs a one-line pool summary.
type statsReporter struct {
	log  logx.Logger
	pool *sched.Pool

	mu      sync.Mutex
	c       *cron.Cron
	spec    string
	entry   cron.EntryID
	started bool
	runs    uint64
}

func newStatsReporter(pool *sched.Pool, log logx.Logger) *statsReporter {
	return &statsReporter{
		log:  log,
		pool: pool,
		c: cron.New(
			cron.WithParser(config.StatsParser),
			cron.WithChain(cron.Recover(cronLogger{log})),
			cron.WithLogger(cronLogger{log}),
		),
	}
}

// Apply (re)schedules the reporter. An empty spec disables it; an invalid
// one keeps the current schedule.
func (r *statsReporter) Apply(spec string) error {
	spec = strings.TrimSpace(spec)
	r.mu.Lock()
	defer r.mu.Unlock()
	if spec == r.spec {
		return nil
	}
	var id cron.EntryID
	if spec != "" {
		var err error
		if id, err = r.c.AddFunc(spec, r.report); err != nil {
			return err
		}
	}
	if r.entry != 0 {
		r.c.Remove(r.entry)
	}
	r.spec, r.entry = spec, id
	if spec == "" {
		return nil
	}
	r.log.Debug("stats schedule applied", logx.String("schedule", spec))
	return nil
}

func (r *statsReporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.c.Start()
}

// Stop waits for a running report to finish or ctx to expire.
func (r *statsReporter) Stop(ctx context.Context) {
	r.mu.Lock()
	started := r.started
	r.started = false
	r.mu.Unlock()
	if !started {
		return
	}
	select {
	case <-r.c.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *statsReporter) Runs() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func (r *statsReporter) report() {
	s := r.pool.Snapshot()
	running := 0
	for _, w := range s.Workers {
		if w.State == sched.StateRunning.String() {
			running++
		}
	}
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	r.log.Info("pool stats",
		logx.String("state", s.State),
		logx.Int("workers", len(s.Workers)),
		logx.Int("running", running),
		logx.Int("parked", s.Parked),
		logx.Int64("pending", s.Pending),
		logx.Uint64("submitted", s.Submitted),
		logx.Uint64("completed", s.Completed),
		logx.Uint64("steals", s.Steals),
		logx.Uint64("panics", s.Panics),
	)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
