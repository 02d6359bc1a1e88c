package docstore

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// QueryFunc evaluates a query against the current store contents.
type QueryFunc func(ctx context.Context, q Query) (Snapshot, error)

// Notifier tracks live queries and re-delivers snapshots after writes.
// Each subscription owns a goroutine; wake-ups coalesce so a slow callback
// only ever sees the latest state.
type Notifier struct {
	mu     sync.Mutex
	next   uint64
	subs   map[uint64]*subscription
	run    QueryFunc
	logger *slog.Logger
}

type subscription struct {
	query  Query
	fn     func(Snapshot)
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewNotifier builds a notifier that evaluates queries with run.
func NewNotifier(run QueryFunc, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		subs:   make(map[uint64]*subscription),
		run:    run,
		logger: logger,
	}
}

// Add registers a live query. The initial snapshot is delivered
// asynchronously, like every later one.
func (n *Notifier) Add(q Query, fn func(Snapshot)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		query:  q,
		fn:     fn,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	n.mu.Lock()
	n.next++
	id := n.next
	n.subs[id] = sub
	n.mu.Unlock()

	sub.wake <- struct{}{}
	go n.loop(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			cancel()
		})
	}
}

// Notify wakes every subscription on collection.
func (n *Notifier) Notify(collection string) {
	collection = strings.Trim(collection, "/")
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs {
		if strings.Trim(sub.query.Collection, "/") != collection {
			continue
		}
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// Len reports the number of live subscriptions.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Close cancels every subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	subs := n.subs
	n.subs = make(map[uint64]*subscription)
	n.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
	}
}

func (n *Notifier) loop(sub *subscription) {
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.wake:
		}

		snapshot, err := n.run(sub.ctx, sub.query)
		if err != nil {
			if sub.ctx.Err() != nil {
				return
			}
			n.logger.Warn("live query evaluation failed", "collection", sub.query.Collection, "error", err)
			continue
		}
		if sub.ctx.Err() != nil {
			return
		}
		sub.fn(snapshot)
	}
}
