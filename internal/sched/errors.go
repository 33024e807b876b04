package sched

import "errors"

var (
	// ErrSpawnFailed is returned (wrapped) by Submit when the backlog called for
	// a new worker but its execution context could not be created. The task
	// itself was accepted and stays queued.
	ErrSpawnFailed = errors.New("sched: failed to spawn worker")

	ErrNotStarted    = errors.New("sched: pool not started")
	ErrStopping      = errors.New("sched: pool stopping")
	ErrStopped       = errors.New("sched: pool stopped")
	ErrNilPayload    = errors.New("sched: nil task payload")
	ErrInvalidConfig = errors.New("sched: invalid config")
)
