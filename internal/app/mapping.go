package app

import (
	"fmt"
	"strings"
	"time"

	"wsched/internal/config"
	"wsched/internal/journal"
	"wsched/internal/observability/debugsrv"
	"wsched/internal/sched"
	logx "wsched/pkg/logx"
)

const traceBurst = 5

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled:    c.File.Enabled,
			Path:       c.File.Path,
			MaxSizeMB:  c.File.MaxSizeMB,
			MaxBackups: c.File.MaxBackups,
			MaxAgeDays: c.File.MaxAgeDays,
			Compress:   c.File.Compress,
		},
	}
}

func mapTraceEvery(c config.LoggingConfig) (time.Duration, error) {
	return config.ParseDurationOrDefault("logging.trace_every", c.TraceEvery, config.DefaultTraceEvery)
}

func mapScheduler(c config.SchedulerConfig) (sched.Config, error) {
	park, err := config.ParseDurationOrDefault("scheduler.park_timeout", c.ParkTimeout, sched.DefaultParkTimeout)
	if err != nil {
		return sched.Config{}, err
	}
	out := sched.Config{
		InitialWorkers: c.InitialWorkers,
		SpawnThreshold: c.SpawnThreshold,
		MaxWorkers:     c.MaxWorkers,
		Routing:        sched.Routing(c.Routing),
		SpinRounds:     mapSpinRounds(c.SpinRounds),
		ParkTimeout:    park,
	}.WithDefaults()
	if err := out.Validate(); err != nil {
		return sched.Config{}, err
	}
	return out, nil
}

// mapSpinRounds keeps an omitted spin_rounds on the default and an explicit 0
// as no spinning.
func mapSpinRounds(n *int) int {
	switch {
	case n == nil:
		return 0
	case *n == 0:
		return sched.NoSpin
	default:
		return *n
	}
}

func mapDebugServer(c config.DebugServerConfig) (debugsrv.Config, error) {
	rt, err := config.ParseDurationOrDefault("debug_server.read_timeout", c.ReadTimeout, 10*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	// 0 keeps long profile/trace downloads working.
	wt, err := config.ParseDurationOrDefault("debug_server.write_timeout", c.WriteTimeout, 0)
	if err != nil {
		return debugsrv.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("debug_server.idle_timeout", c.IdleTimeout, 60*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	addr := strings.TrimSpace(c.Addr)
	if addr == "" {
		addr = config.DefaultDebugAddr
	}
	return debugsrv.Config{
		Enabled:       c.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(c.Token),
		AllowInsecure: c.AllowInsecure,
		Metrics:       c.MetricsEnabled(),
		Pprof:         c.PprofEnabled(),
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

// mapJournal returns the store config, the sink buffer and whether the
// journal is enabled.
func mapJournal(c *config.JournalConfig) (journal.Config, int, bool, error) {
	driver := config.JournalDriver(c)
	if driver == config.JournalNone {
		return journal.Config{}, 0, false, nil
	}
	busy, err := config.ParseDurationOrDefault("journal.busy_timeout", c.BusyTimeout, config.DefaultJournalBusyWait)
	if err != nil {
		return journal.Config{}, 0, false, err
	}
	if strings.TrimSpace(c.Path) == "" {
		return journal.Config{}, 0, false, fmt.Errorf("journal.path: required for driver %q", driver)
	}
	buffer := c.Buffer
	if buffer <= 0 {
		buffer = config.DefaultJournalBuffer
	}
	return journal.Config{Driver: driver, Path: c.Path, BusyTimeout: busy}, buffer, true, nil
}
