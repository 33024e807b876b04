// Package sched implements a work-stealing task scheduler.
//
// A Pool owns a growing set of workers. Every worker owns one Deque: it pushes
// and pops at the bottom (LIFO), while idle peers steal from the top (FIFO).
// Submitted tasks are routed to one worker's queue; when that queue's backlog
// exceeds Config.SpawnThreshold the pool spawns another worker (up to
// Config.MaxWorkers) which starts empty and balances load by stealing.
//
// Workers never retire. An idle worker spins briefly, then parks until it is
// woken by new work or its park timeout elapses, so a missed wakeup only delays
// a task, never strands it.
//
// Status is reported through an Observer (see events.go); the scheduler never
// depends on what the observer does with it.
package sched
