package sched

// stealFrom probes peers round-robin starting at start, skipping self, and
// takes the oldest task of the first non-empty victim. It returns the victim
// index (NoWorker on a miss) and how many victims were probed.
//
// Each call probes every peer at most once; a miss is final for this scan.
func stealFrom(self, start int, peers []*worker) (t *Task, victim, attempts int) {
	n := len(peers)
	if n == 0 {
		return nil, NoWorker, 0
	}
	if start < 0 {
		start = 0
	}
	for i := 0; i < n; i++ {
		v := peers[(start+i)%n]
		if v == nil || v.index == self {
			continue
		}
		attempts++
		if t, ok := v.q.steal(); ok {
			return t, v.index, attempts
		}
	}
	return nil, NoWorker, attempts
}
