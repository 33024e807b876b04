package config

// Config is the on-disk configuration (JSON or YAML).
//
// Every section is optional; omitted fields take the defaults documented on
// each type.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	DebugServer DebugServerConfig `json:"debug_server,omitempty"`
	Journal     *JournalConfig    `json:"journal,omitempty"`
	Stats       StatsConfig       `json:"stats,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	// TraceEvery limits hot-loop trace logs (Go duration, default "1s", "0s" disables).
	TraceEvery string `json:"trace_every,omitempty"`
}

// LoggingFile controls the rotated JSON log file.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// SchedulerConfig sizes the work-stealing pool.
//
// Defaults (when fields are omitted/zero):
//   - initial_workers: 1
//   - spawn_threshold: 10
//   - max_workers: number of CPUs
//   - routing: "current"
//   - spin_rounds: 64 (an explicit 0 parks idle workers without spinning)
//   - park_timeout: "50ms"
//
// initial_workers only takes effect at startup; the rest is hot-reloadable.
type SchedulerConfig struct {
	InitialWorkers int    `json:"initial_workers,omitempty"`
	SpawnThreshold int    `json:"spawn_threshold,omitempty"`
	MaxWorkers     int    `json:"max_workers,omitempty"`
	Routing        string `json:"routing,omitempty"`
	SpinRounds     *int   `json:"spin_rounds,omitempty"`
	ParkTimeout    string `json:"park_timeout,omitempty"`
}

// DebugServerConfig controls the optional HTTP server exposing pprof and
// Prometheus metrics.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugServerConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Metrics and Pprof are pointers so omission means enabled.
	Metrics *bool `json:"metrics,omitempty"`
	Pprof   *bool `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

func (c DebugServerConfig) MetricsEnabled() bool { return c.Metrics == nil || *c.Metrics }
func (c DebugServerConfig) PprofEnabled() bool   { return c.Pprof == nil || *c.Pprof }

// JournalConfig controls the event journal.
//
// Example:
//
//	"journal": { "driver": "file", "path": "./wsched_journal" }
//
// A nil section or driver "none" disables it.
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Buffer is the event subscription buffer (default 1024).
	Buffer int `json:"buffer,omitempty"`
}

// StatsConfig controls the periodic pool summary log line.
type StatsConfig struct {
	// Schedule is a cron spec ("*/30 * * * * *", seconds optional) or a
	// descriptor ("@every 30s"). Empty disables the reporter.
	Schedule string `json:"schedule,omitempty"`
}
