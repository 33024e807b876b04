package sched

// WorkerSnapshot is one worker's point-in-time status.
type WorkerSnapshot struct {
	Index    int    `json:"index"`
	State    string `json:"state"`
	QueueLen int    `json:"queue_len"`
	Executed uint64 `json:"executed"`
	Stolen   uint64 `json:"stolen"`
}

// Snapshot is a point-in-time view of the pool. Values are read without a
// global lock and may be slightly inconsistent with each other.
type Snapshot struct {
	State         string           `json:"state"`
	Workers       []WorkerSnapshot `json:"workers"`
	Parked        int              `json:"parked"`
	Pending       int64            `json:"pending"`
	Submitted     uint64           `json:"submitted"`
	Completed     uint64           `json:"completed"`
	Panics        uint64           `json:"panics"`
	Steals        uint64           `json:"steals"`
	Spawned       uint64           `json:"spawned"`
	SpawnFailures uint64           `json:"spawn_failures"`

	// ObserverPanics counts events dropped because an observer panicked.
	ObserverPanics uint64 `json:"observer_panics"`
}

func (p *Pool) Snapshot() Snapshot {
	p.lifeMu.RLock()
	state := p.state
	p.lifeMu.RUnlock()

	peers := p.reg.snapshot()
	ws := make([]WorkerSnapshot, 0, len(peers))
	for _, w := range peers {
		ws = append(ws, WorkerSnapshot{
			Index:    w.index,
			State:    w.State().String(),
			QueueLen: w.q.len(),
			Executed: w.executed.Load(),
			Stolen:   w.stolen.Load(),
		})
	}
	return Snapshot{
		State:         state.String(),
		Workers:       ws,
		Parked:        p.parked.len(),
		Pending:       p.pending.Load(),
		Submitted:     p.submitted.Load(),
		Completed:     p.completed.Load(),
		Panics:        p.panics.Load(),
		Steals:        p.steals.Load(),
		Spawned:       p.spawned.Load(),
		SpawnFailures: p.spawnFailures.Load(),

		ObserverPanics: p.observerPanics.Load(),
	}
}
