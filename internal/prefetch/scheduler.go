// Package prefetch loads availability data just outside the visible window
// in the background, so scrolling rarely waits on the store.
package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/ranges"
	"github.com/example/staffplan/internal/timing"
)

const (
	DefaultDays      = 14
	DefaultDebounce  = 500 * time.Millisecond
	DefaultIdleDelay = 50 * time.Millisecond
)

// FetchFunc loads every record dated within [start, end].
type FetchFunc func(ctx context.Context, start, end time.Time) ([]availability.Dispo, error)

// Sink receives fetched records.
type Sink interface {
	Merge(records []availability.Dispo) int
}

// Config tunes a Scheduler.
type Config struct {
	Days      int
	Debounce  time.Duration
	IdleDelay time.Duration
	// OnWindow, when set, is called after every fetch attempt.
	OnWindow func(window ranges.Range, records int, err error)
}

// Scheduler debounces window changes and fetches the uncovered neighbouring
// windows one at a time on a background worker.
type Scheduler struct {
	cfg       Config
	cache     *ranges.Cache
	fetch     FetchFunc
	sink      Sink
	logger    *slog.Logger
	debouncer *timing.Debouncer

	mu      sync.Mutex
	pending map[string]bool
	queue   []ranges.Range
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New starts a scheduler. Call Close to stop its worker.
func New(cfg Config, cache *ranges.Cache, fetch FetchFunc, sink Sink, logger *slog.Logger) *Scheduler {
	if cfg.Days <= 0 {
		cfg.Days = DefaultDays
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.IdleDelay < 0 {
		cfg.IdleDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		cache:     cache,
		fetch:     fetch,
		sink:      sink,
		logger:    logger.With("component", "prefetch"),
		debouncer: timing.NewDebouncer(cfg.Debounce),
		pending:   make(map[string]bool),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.worker()
	return s
}

// Trigger records a new visible window. Bursts of calls collapse into one
// scheduling pass after the debounce delay, using the latest window.
func (s *Scheduler) Trigger(visibleStart, visibleEnd time.Time) {
	start, end := ranges.Day(visibleStart), ranges.Day(visibleEnd)
	s.debouncer.Trigger(func() { s.schedule(start, end) })
}

// Flush runs a pending debounced pass immediately.
func (s *Scheduler) Flush() bool {
	return s.debouncer.Flush()
}

// Pending is the number of windows queued or in flight.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels the debounce timer and stops the worker.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		s.debouncer.Cancel()
		s.cancel()
		<-s.done
	})
}

// Windows returns the candidate windows around [start, end].
func (s *Scheduler) Windows(start, end time.Time) (before, after ranges.Range) {
	start, end = ranges.Day(start), ranges.Day(end)
	before = ranges.Range{Start: start.AddDate(0, 0, -s.cfg.Days), End: start.AddDate(0, 0, -1)}
	after = ranges.Range{Start: end.AddDate(0, 0, 1), End: end.AddDate(0, 0, s.cfg.Days)}
	return before, after
}

func (s *Scheduler) schedule(start, end time.Time) {
	before, after := s.Windows(start, end)

	s.mu.Lock()
	queued := 0
	for _, window := range []ranges.Range{before, after} {
		if s.cache.Covered(window.Start, window.End) {
			continue
		}
		key := window.String()
		if s.pending[key] {
			continue
		}
		s.pending[key] = true
		s.queue = append(s.queue, window)
		queued++
	}
	s.mu.Unlock()

	if queued > 0 {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) worker() {
	defer close(s.done)
	for {
		window, ok := s.next()
		if !ok {
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		if s.cfg.IdleDelay > 0 {
			timer := time.NewTimer(s.cfg.IdleDelay)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		s.run(window)
	}
}

func (s *Scheduler) next() (ranges.Range, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return ranges.Range{}, false
	}
	window := s.queue[0]
	s.queue = s.queue[1:]
	return window, true
}

func (s *Scheduler) run(window ranges.Range) {
	records, err := s.fetch(s.ctx, window.Start, window.End)

	s.mu.Lock()
	delete(s.pending, window.String())
	s.mu.Unlock()

	if err != nil {
		s.logger.Debug("prefetch window failed", "window", window.String(), "error", err)
	} else {
		s.cache.Add(window.Start, window.End)
		added := 0
		if s.sink != nil {
			added = s.sink.Merge(records)
		}
		s.logger.Debug("prefetch window loaded", "window", window.String(), "records", len(records), "added", added)
	}
	if s.cfg.OnWindow != nil {
		s.cfg.OnWindow(window, len(records), err)
	}
}
