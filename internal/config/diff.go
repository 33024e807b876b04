package config

import (
	"reflect"
	"sort"
	"strings"

	logx "wsched/pkg/logx"
)

// SummarizeConfigChange returns the sorted names of sections that differ and
// safe structured fields describing the new values (tokens are never logged).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if o, n := oldCfg.Scheduler, newCfg.Scheduler; !reflect.DeepEqual(o, n) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.spawn_threshold", n.SpawnThreshold),
			logx.Int("scheduler.max_workers", n.MaxWorkers),
			logx.String("scheduler.routing", strings.TrimSpace(n.Routing)),
			logx.String("scheduler.park_timeout", strings.TrimSpace(n.ParkTimeout)),
		)
		if n.SpinRounds != nil {
			attrs = append(attrs, logx.Int("scheduler.spin_rounds", *n.SpinRounds))
		}
		if o.InitialWorkers != n.InitialWorkers {
			attrs = append(attrs, logx.Bool("scheduler.initial_workers_needs_restart", true))
		}
	}

	o, n := oldCfg.DebugServer, newCfg.DebugServer
	tokenChanged := o.Token != n.Token
	o.Token, n.Token = "", ""
	if tokenChanged || !reflect.DeepEqual(o, n) {
		changed = append(changed, "debug_server")
		attrs = append(attrs,
			logx.Bool("debug_server.enabled", n.Enabled),
			logx.String("debug_server.addr", strings.TrimSpace(n.Addr)),
			logx.Bool("debug_server.token_set", strings.TrimSpace(newCfg.DebugServer.Token) != ""),
			logx.Bool("debug_server.metrics", n.MetricsEnabled()),
			logx.Bool("debug_server.pprof", n.PprofEnabled()),
		)
	}

	oj, nj := derefJournal(oldCfg.Journal), derefJournal(newCfg.Journal)
	if JournalDriver(oldCfg.Journal) != JournalDriver(newCfg.Journal) || !reflect.DeepEqual(oj, nj) {
		changed = append(changed, "journal")
		attrs = append(attrs,
			logx.String("journal.driver", JournalDriver(newCfg.Journal)),
			logx.Bool("journal.path_set", strings.TrimSpace(nj.Path) != ""),
		)
	}

	if strings.TrimSpace(oldCfg.Stats.Schedule) != strings.TrimSpace(newCfg.Stats.Schedule) {
		changed = append(changed, "stats")
		attrs = append(attrs, logx.String("stats.schedule", strings.TrimSpace(newCfg.Stats.Schedule)))
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefJournal(j *JournalConfig) JournalConfig {
	if j == nil {
		return JournalConfig{}
	}
	return *j
}
