package prefetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/ranges"
)

type recordingFetcher struct {
	mu      sync.Mutex
	calls   []ranges.Range
	release chan struct{}
	err     error
}

func (f *recordingFetcher) fetch(ctx context.Context, start, end time.Time) ([]availability.Dispo, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ranges.Range{Start: start, End: end})
	release, err := f.release, f.err
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []availability.Dispo{{ID: start.Format(ranges.DateLayout), Date: start.Format(ranges.DateLayout)}}, nil
}

func (f *recordingFetcher) windows() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

func day(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := ranges.ParseDay(value)
	if err != nil {
		t.Fatalf("ParseDay: %v", err)
	}
	return parsed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestTriggerFetchesBothNeighbourWindows(t *testing.T) {
	fetcher := &recordingFetcher{}
	cache := ranges.NewCache()
	index := availability.NewIndex()
	s := New(Config{Days: 14, Debounce: time.Hour, IdleDelay: time.Millisecond}, cache, fetcher.fetch, index, nil)
	defer s.Close()

	// Only the last window of a burst is scheduled.
	s.Trigger(day(t, "2025-08-01"), day(t, "2025-08-07"))
	s.Trigger(day(t, "2025-09-15"), day(t, "2025-09-21"))
	if !s.Flush() {
		t.Fatalf("expected a pending debounced pass")
	}

	waitFor(t, func() bool { return index.Len() == 2 && s.Pending() == 0 })

	got := fetcher.windows()
	want := []string{"2025-09-01..2025-09-14", "2025-09-22..2025-10-05"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected windows %v, got %v", want, got)
	}
	if !cache.Covered(day(t, "2025-09-01"), day(t, "2025-09-14")) || !cache.Covered(day(t, "2025-09-22"), day(t, "2025-10-05")) {
		t.Fatalf("expected fetched windows merged into the cache, got %v", cache.Ranges())
	}

	// Covered windows are not fetched again.
	s.Trigger(day(t, "2025-09-15"), day(t, "2025-09-21"))
	s.Flush()
	time.Sleep(20 * time.Millisecond)
	if n := len(fetcher.windows()); n != 2 {
		t.Fatalf("expected no new fetches for covered windows, got %d", n)
	}
}

func TestPendingWindowsAreNotFetchedTwice(t *testing.T) {
	fetcher := &recordingFetcher{release: make(chan struct{})}
	cache := ranges.NewCache()
	s := New(Config{Days: 7, Debounce: time.Hour}, cache, fetcher.fetch, availability.NewIndex(), nil)
	defer s.Close()

	for i := 0; i < 3; i++ {
		s.Trigger(day(t, "2025-09-15"), day(t, "2025-09-21"))
		s.Flush()
	}
	if got := s.Pending(); got != 2 {
		t.Fatalf("expected 2 pending windows, got %d", got)
	}

	close(fetcher.release)
	waitFor(t, func() bool { return s.Pending() == 0 })
	if n := len(fetcher.windows()); n != 2 {
		t.Fatalf("expected exactly 2 fetches, got %d", n)
	}
}

func TestFetchErrorsAreSwallowed(t *testing.T) {
	fetcher := &recordingFetcher{err: errors.New("network unreachable")}
	cache := ranges.NewCache()
	index := availability.NewIndex()

	var mu sync.Mutex
	var failures int
	s := New(Config{Days: 3, Debounce: time.Hour, OnWindow: func(_ ranges.Range, _ int, err error) {
		if err != nil {
			mu.Lock()
			failures++
			mu.Unlock()
		}
	}}, cache, fetcher.fetch, index, nil)
	defer s.Close()

	s.Trigger(day(t, "2025-09-15"), day(t, "2025-09-15"))
	s.Flush()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failures == 2
	})

	if cache.Len() != 0 || index.Len() != 0 {
		t.Fatalf("expected failed windows to leave no trace")
	}
	if s.Pending() != 0 {
		t.Fatalf("expected failed windows removed from pending")
	}

	// The next pass retries the still uncovered windows.
	s.Trigger(day(t, "2025-09-15"), day(t, "2025-09-15"))
	s.Flush()
	waitFor(t, func() bool { return len(fetcher.windows()) == 4 })
}

func TestDebounceFiresAfterQuietPeriod(t *testing.T) {
	fetcher := &recordingFetcher{}
	s := New(Config{Days: 1, Debounce: 20 * time.Millisecond, IdleDelay: time.Millisecond}, ranges.NewCache(), fetcher.fetch, availability.NewIndex(), nil)
	defer s.Close()

	s.Trigger(day(t, "2025-09-15"), day(t, "2025-09-15"))
	waitFor(t, func() bool { return len(fetcher.windows()) == 2 })
}
