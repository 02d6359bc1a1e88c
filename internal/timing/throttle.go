package timing

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttler admits at most one event per interval.
type Throttler struct {
	limiter  *rate.Limiter
	interval time.Duration
	now      func() time.Time
}

// NewThrottler builds a Throttler that lets one event through every interval.
// A nil now falls back to time.Now.
func NewThrottler(interval time.Duration, now func() time.Time) *Throttler {
	if now == nil {
		now = time.Now
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttler{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		now:      now,
	}
}

// Allow consumes a slot when one is available.
func (t *Throttler) Allow() bool {
	return t.limiter.AllowN(t.now(), 1)
}

// Interval reports the minimum spacing between admitted events.
func (t *Throttler) Interval() time.Duration {
	return t.interval
}
