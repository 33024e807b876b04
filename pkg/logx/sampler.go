package logx

import (
	"time"

	"golang.org/x/time/rate"
)

// Sampler gates high-frequency log lines such as per-iteration loop
// diagnostics. Allow never blocks.
//
// A nil *Sampler allows everything.
type Sampler struct {
	lim *rate.Limiter
}

// NewSampler allows about one line per every, after an initial burst.
// every <= 0 returns a sampler that allows nothing.
func NewSampler(every time.Duration, burst int) *Sampler {
	if every <= 0 {
		return &Sampler{}
	}
	return &Sampler{lim: rate.NewLimiter(rate.Every(every), max(burst, 1))}
}

func (s *Sampler) Allow() bool {
	if s == nil {
		return true
	}
	return s.lim != nil && s.lim.Allow()
}
