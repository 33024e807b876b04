package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"wsched/internal/sched"
	logx "wsched/pkg/logx"
)

type demoOptions struct {
	tasks     int
	batch     int
	taskTime  time.Duration
	pause     time.Duration
	threshold int
	workers   int
	routing   string
	level     string
}

func newDemoCmd() *cobra.Command {
	o := demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Submit a bursty sleep workload and trace scheduling decisions",
		Long: `Demo submits --tasks tasks that each sleep --task-time, pausing --pause
after every --batch submissions, then one trailing task. Workers are spawned
once the submission queue backlog passes --threshold, and idle workers steal.
Run with --log-level trace to see every queue observation and steal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.tasks, "tasks", 20, "tasks in the burst")
	f.IntVar(&o.batch, "batch", 5, "submissions between pauses")
	f.DurationVar(&o.taskTime, "task-time", time.Second, "time each task sleeps")
	f.DurationVar(&o.pause, "pause", time.Second, "pause between batches")
	f.IntVar(&o.threshold, "threshold", sched.DefaultSpawnThreshold, "backlog above which a worker is spawned")
	f.IntVar(&o.workers, "max-workers", 0, "worker cap (0 = max(CPUs, 2))")
	f.StringVar(&o.routing, "routing", string(sched.RouteCurrent), "current, round_robin or least_loaded")
	f.StringVar(&o.level, "log-level", "debug", "log level")
	return cmd
}

func runDemo(ctx context.Context, o demoOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logx.NewConsole(o.level).With(logx.String("comp", "demo"))

	pool, err := sched.New(sched.Config{
		InitialWorkers: 1,
		SpawnThreshold: o.threshold,
		MaxWorkers:     o.workers,
		Routing:        sched.Routing(o.routing),
	},
		sched.WithLogger(log),
		// Every observation is interesting here; do not sample.
		sched.WithTraceSampling(time.Nanosecond, 1<<20),
	)
	if err != nil {
		return err
	}
	if err := pool.Start(ctx); err != nil {
		return err
	}

	submit := func(i int) {
		id, err := pool.SubmitFunc(func() { time.Sleep(o.taskTime) })
		if err != nil {
			log.Warn("submit failed", logx.Int("n", i), logx.Err(err))
			return
		}
		log.Info("submitted", logx.Uint64("task", uint64(id)), logx.Int("workers", pool.Workers()))
	}

	for i := 0; i < o.tasks; i++ {
		submit(i)
		if o.batch > 0 && (i+1)%o.batch == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.pause):
			}
		}
	}
	submit(o.tasks)

	if err := pool.Stop(ctx); err != nil {
		return err
	}
	s := pool.Snapshot()
	log.Info("demo finished",
		logx.Int("workers", len(s.Workers)),
		logx.Uint64("completed", s.Completed),
		logx.Uint64("steals", s.Steals),
	)
	return nil
}
