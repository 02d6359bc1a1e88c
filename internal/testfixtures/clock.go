package testfixtures

import (
	"sync"
	"time"
)

// Clock is the planning day seen by sessions, locks and listeners under
// test. It only moves when the test says so.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{now: start}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NowFunc returns Now for injection; a nil clock yields time.Now.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Millis is Now in Unix milliseconds, the resolution of session rows.
func (c *Clock) Millis() int64 {
	return c.Now().UnixMilli()
}

// Advance moves forward by d and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Tick advances by every until total has elapsed, calling fn after each
// step. It stands in for a heartbeat ticker and returns the number of steps.
func (c *Clock) Tick(every, total time.Duration, fn func(time.Time)) int {
	if every <= 0 {
		return 0
	}
	steps := 0
	for elapsed := every; elapsed <= total; elapsed += every {
		now := c.Advance(every)
		steps++
		if fn != nil {
			fn(now)
		}
	}
	return steps
}

// Day is the current planning day at UTC midnight.
func (c *Clock) Day() time.Time {
	y, m, d := c.Now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date is Day as YYYY-MM-DD.
func (c *Clock) Date() string {
	return c.Day().Format("2006-01-02")
}
