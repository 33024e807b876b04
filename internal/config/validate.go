package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "wsched/pkg/logx"
)

const (
	DefaultTraceEvery      = time.Second
	DefaultDebugAddr       = "127.0.0.1:6060"
	DefaultJournalBuffer   = 1024
	DefaultJournalBusyWait = 5 * time.Second
)

// Journal drivers.
const (
	JournalNone   = "none"
	JournalFile   = "file"
	JournalSQLite = "sqlite"
)

var routings = map[string]bool{"current": true, "round_robin": true, "least_loaded": true}

// StatsParser accepts both 5-field and seconds-first 6-field specs plus
// descriptors like "@every 30s".
var StatsParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks everything that can be checked without side effects and
// reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}
	_, err := ParseDurationField("logging.trace_every", cfg.Logging.TraceEvery)
	add(err)

	s := cfg.Scheduler
	if s.InitialWorkers < 0 {
		add(fmt.Errorf("scheduler.initial_workers: must be >= 0 (got %d)", s.InitialWorkers))
	}
	if s.SpawnThreshold < 0 {
		add(fmt.Errorf("scheduler.spawn_threshold: must be >= 0 (got %d)", s.SpawnThreshold))
	}
	if s.MaxWorkers < 0 {
		add(fmt.Errorf("scheduler.max_workers: must be >= 0 (got %d)", s.MaxWorkers))
	}
	if s.MaxWorkers > 0 && s.InitialWorkers > s.MaxWorkers {
		add(fmt.Errorf("scheduler.max_workers: %d is below initial_workers %d", s.MaxWorkers, s.InitialWorkers))
	}
	if r := strings.ToLower(strings.TrimSpace(s.Routing)); r != "" && !routings[r] {
		add(fmt.Errorf("scheduler.routing: unknown policy %q", s.Routing))
	}
	if s.SpinRounds != nil && *s.SpinRounds < 0 {
		add(fmt.Errorf("scheduler.spin_rounds: must be >= 0 (got %d)", *s.SpinRounds))
	}
	_, err = ParseDurationField("scheduler.park_timeout", s.ParkTimeout)
	add(err)

	d := cfg.DebugServer
	if d.Enabled {
		addr := strings.TrimSpace(d.Addr)
		if addr == "" {
			addr = DefaultDebugAddr
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			add(fmt.Errorf("debug_server.addr: %w", err))
		} else if !isLoopback(host) && strings.TrimSpace(d.Token) == "" && !d.AllowInsecure {
			add(fmt.Errorf("debug_server.addr: %q is not loopback; set token or allow_insecure", addr))
		}
		for path, raw := range map[string]string{
			"debug_server.read_timeout":  d.ReadTimeout,
			"debug_server.write_timeout": d.WriteTimeout,
			"debug_server.idle_timeout":  d.IdleTimeout,
		} {
			_, err := ParseDurationField(path, raw)
			add(err)
		}
	}

	if j := cfg.Journal; j != nil {
		switch JournalDriver(j) {
		case JournalNone:
		case JournalFile, JournalSQLite:
			if strings.TrimSpace(j.Path) == "" {
				add(fmt.Errorf("journal.path: required for driver %q", j.Driver))
			}
		default:
			add(fmt.Errorf("journal.driver: unknown driver %q", j.Driver))
		}
		if j.Buffer < 0 {
			add(fmt.Errorf("journal.buffer: must be >= 0 (got %d)", j.Buffer))
		}
		_, err := ParseDurationField("journal.busy_timeout", j.BusyTimeout)
		add(err)
	}

	if spec := strings.TrimSpace(cfg.Stats.Schedule); spec != "" {
		if _, err := StatsParser.Parse(spec); err != nil {
			add(fmt.Errorf("stats.schedule: %w", err))
		}
	}

	return errors.Join(errs...)
}

// JournalDriver returns the normalized driver name ("none" for a nil section).
func JournalDriver(j *JournalConfig) string {
	if j == nil {
		return JournalNone
	}
	d := strings.ToLower(strings.TrimSpace(j.Driver))
	if d == "" {
		return JournalNone
	}
	return d
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
