package sched

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Routing selects the queue a submitted task is pushed to.
type Routing string

const (
	// RouteCurrent pushes every submission to the designated current queue
	// (worker 0). Spawned workers get their work by stealing.
	RouteCurrent Routing = "current"
	// RouteRoundRobin rotates submissions across all registered workers.
	RouteRoundRobin Routing = "round_robin"
	// RouteLeastLoaded picks the shortest queue, lowest index on ties.
	RouteLeastLoaded Routing = "least_loaded"
)

const (
	DefaultSpawnThreshold = 10
	DefaultSpinRounds     = 64
	DefaultParkTimeout    = 50 * time.Millisecond

	// NoSpin makes idle workers park right away. Zero SpinRounds means
	// DefaultSpinRounds, so spinning is switched off with this instead.
	NoSpin = -1
)

// Config controls pool sizing and idle behavior.
//
// Zero values pick defaults; see WithDefaults.
type Config struct {
	// InitialWorkers started by Start. Only read at start.
	InitialWorkers int
	// SpawnThreshold is the queue backlog (measured before the push) above
	// which a submission spawns a new worker.
	SpawnThreshold int
	// MaxWorkers caps the number of workers ever spawned. The default,
	// DefaultMaxWorkers, always leaves room for at least one spawn.
	MaxWorkers int
	Routing    Routing

	// SpinRounds is how many yield-and-rescan rounds an idle worker does
	// before parking. NoSpin disables spinning.
	SpinRounds int
	// ParkTimeout bounds how long a parked worker sleeps without a wakeup.
	ParkTimeout time.Duration

	// QueueCapacity is the initial ring size of each worker queue.
	QueueCapacity int
}

// DefaultMaxWorkers is the worker cap used when MaxWorkers is zero: the CPU
// count, but never so low that a pool of initial workers cannot grow.
func DefaultMaxWorkers(initial int) int {
	return max(runtime.NumCPU(), initial+1)
}

// WithDefaults fills zero fields. It is idempotent.
func (c Config) WithDefaults() Config {
	if c.InitialWorkers == 0 {
		c.InitialWorkers = 1
	}
	if c.SpawnThreshold == 0 {
		c.SpawnThreshold = DefaultSpawnThreshold
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = DefaultMaxWorkers(c.InitialWorkers)
	}
	c.Routing = Routing(strings.ToLower(strings.TrimSpace(string(c.Routing))))
	if c.Routing == "" {
		c.Routing = RouteCurrent
	}
	if c.SpinRounds == 0 {
		c.SpinRounds = DefaultSpinRounds
	}
	if c.ParkTimeout == 0 {
		c.ParkTimeout = DefaultParkTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultDequeCapacity
	}
	return c
}

// Validate checks a config after WithDefaults.
func (c Config) Validate() error {
	if c.InitialWorkers < 1 {
		return fmt.Errorf("%w: initial_workers must be >= 1 (got %d)", ErrInvalidConfig, c.InitialWorkers)
	}
	if c.SpawnThreshold < 1 {
		return fmt.Errorf("%w: spawn_threshold must be >= 1 (got %d)", ErrInvalidConfig, c.SpawnThreshold)
	}
	if c.MaxWorkers < c.InitialWorkers {
		return fmt.Errorf("%w: max_workers (%d) must be >= initial_workers (%d)", ErrInvalidConfig, c.MaxWorkers, c.InitialWorkers)
	}
	switch c.Routing {
	case RouteCurrent, RouteRoundRobin, RouteLeastLoaded:
	default:
		return fmt.Errorf("%w: unknown routing %q", ErrInvalidConfig, c.Routing)
	}
	if c.SpinRounds < NoSpin {
		return fmt.Errorf("%w: spin_rounds must be >= 0 or NoSpin (got %d)", ErrInvalidConfig, c.SpinRounds)
	}
	if c.ParkTimeout < 0 {
		return fmt.Errorf("%w: park_timeout must be >= 0 (got %s)", ErrInvalidConfig, c.ParkTimeout)
	}
	return nil
}
