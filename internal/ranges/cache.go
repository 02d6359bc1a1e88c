// Package ranges tracks which date windows of availability data have been
// loaded.
package ranges

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DateLayout is the ISO day format used throughout the planning grid.
const DateLayout = "2006-01-02"

const day = 24 * time.Hour

// Range is an inclusive span of days.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether r includes every day of [start, end].
func (r Range) Contains(start, end time.Time) bool {
	return !Day(start).Before(r.Start) && !Day(end).After(r.End)
}

// Days is the number of days covered.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start)/day) + 1
}

func (r Range) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// Day truncates t to UTC midnight of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t, nil
}

// Cache holds a minimal set of loaded ranges: sorted, with no two entries
// overlapping or touching.
type Cache struct {
	mu     sync.Mutex
	ranges []Range
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Add records [start, end] as loaded and re-merges the set. Inverted spans
// are ignored.
func (c *Cache) Add(start, end time.Time) {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	all := append(c.ranges, Range{Start: start, End: end})
	sort.Slice(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })

	merged := make([]Range, 0, len(all))
	for _, r := range all {
		if n := len(merged); n > 0 && !r.Start.After(merged[n-1].End.Add(day)) {
			if r.End.After(merged[n-1].End) {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	c.ranges = merged
}

// Covered reports whether a single stored range contains all of [start, end].
// Spans bridging a gap between two ranges are not covered.
func (c *Cache) Covered(start, end time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.ranges {
		if r.Contains(start, end) {
			return true
		}
	}
	return false
}

// Ranges returns a copy of the stored ranges in start order.
func (c *Cache) Ranges() []Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Range, len(c.ranges))
	copy(out, c.ranges)
	return out
}

// Len is the number of disjoint ranges held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ranges)
}

// Reset forgets every range.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.ranges = nil
	c.mu.Unlock()
}
