// Package listeners deduplicates live store queries. Subscribers asking for
// the same query share one backend subscription; the number of backend
// subscriptions is capped and the least valuable ones are evicted under
// pressure.
package listeners

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/staffplan/internal/docstore"
)

const (
	DefaultMaxListeners = 8
	DefaultIdleTimeout  = 60 * time.Second

	// evictBatch is how many entries are dropped when the ceiling is hit.
	evictBatch = 2
)

// Handle identifies one callback registered on a listener.
type Handle struct {
	ListenerID string
	callback   uint64
}

// Config tunes a Registry.
type Config struct {
	MaxListeners int
	IdleTimeout  time.Duration
}

// Stats is a point-in-time view of the registry. Dormant listeners have no
// references left and wait for the idle timeout.
type Stats struct {
	Listeners int
	Dormant   int
	Refs      int
	Evictions int
}

// Registry reference-counts backend subscriptions keyed by query signature.
type Registry struct {
	mu          sync.Mutex
	store       docstore.Store
	cfg         Config
	now         func() time.Time
	logger      *slog.Logger
	bySignature map[string]*entry
	byID        map[string]*entry
	nextCb      uint64
	evictions   int
}

type entry struct {
	id         string
	signature  string
	query      docstore.Query
	refCount   int
	pinned     bool
	lastAccess time.Time
	idleSince  time.Time
	callbacks  map[uint64]func(docstore.Snapshot)
	order      []uint64
	cancel     func()
	last       *docstore.Snapshot
	closed     bool
}

// New returns an empty registry over store.
func New(store docstore.Store, cfg Config, now func() time.Time, logger *slog.Logger) *Registry {
	if cfg.MaxListeners <= 0 {
		cfg.MaxListeners = DefaultMaxListeners
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:       store,
		cfg:         cfg,
		now:         now,
		logger:      logger.With("component", "listeners"),
		bySignature: make(map[string]*entry),
		byID:        make(map[string]*entry),
	}
}

// Subscribe registers fn for q. A query already being listened to gains a
// reference instead of a second backend subscription; fn then receives the
// latest snapshot right away if one has arrived.
func (r *Registry) Subscribe(ctx context.Context, q docstore.Query, fn func(docstore.Snapshot)) (Handle, error) {
	return r.subscribe(ctx, q, fn, false)
}

// SubscribePinned is Subscribe for listeners that forced eviction must not
// drop. Pinned listeners still count toward the ceiling.
func (r *Registry) SubscribePinned(ctx context.Context, q docstore.Query, fn func(docstore.Snapshot)) (Handle, error) {
	return r.subscribe(ctx, q, fn, true)
}

func (r *Registry) subscribe(ctx context.Context, q docstore.Query, fn func(docstore.Snapshot), pinned bool) (Handle, error) {
	if fn == nil {
		return Handle{}, fmt.Errorf("listeners: nil callback")
	}
	signature := q.Signature()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextCb++
	cbID := r.nextCb

	if e, ok := r.bySignature[signature]; ok {
		e.refCount++
		e.lastAccess = r.now()
		e.idleSince = time.Time{}
		e.pinned = e.pinned || pinned
		e.callbacks[cbID] = fn
		e.order = append(e.order, cbID)
		if e.last != nil {
			snapshot := *e.last
			go fn(snapshot)
		}
		return Handle{ListenerID: e.id, callback: cbID}, nil
	}

	e := &entry{
		id:         uuid.NewString(),
		signature:  signature,
		query:      q,
		refCount:   1,
		pinned:     pinned,
		lastAccess: r.now(),
		callbacks:  map[uint64]func(docstore.Snapshot){cbID: fn},
		order:      []uint64{cbID},
	}
	cancel, err := r.store.Subscribe(ctx, q, func(snapshot docstore.Snapshot) {
		r.fanOut(e, snapshot)
	})
	if err != nil {
		return Handle{}, fmt.Errorf("subscribe %s: %w", q.Collection, err)
	}
	e.cancel = cancel

	r.cleanupIdleLocked()
	if len(r.bySignature) >= r.cfg.MaxListeners {
		r.evictLocked()
	}
	r.bySignature[signature] = e
	r.byID[e.id] = e
	return Handle{ListenerID: e.id, callback: cbID}, nil
}

// Unsubscribe drops the callback behind h. A listener left without
// callbacks stays dormant, backend subscription open, until it has been idle
// for IdleTimeout; a re-subscribe in the meantime revives it. Handles of
// evicted listeners are ignored.
func (r *Registry) Unsubscribe(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[h.ListenerID]
	if !ok {
		return
	}
	if _, ok := e.callbacks[h.callback]; !ok {
		return
	}
	delete(e.callbacks, h.callback)
	for i, id := range e.order {
		if id == h.callback {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.refCount--
	e.lastAccess = r.now()
	if e.refCount <= 0 {
		e.refCount = 0
		e.pinned = false
		e.idleSince = e.lastAccess
	}
	r.cleanupIdleLocked()
}

// Limit is the listener ceiling.
func (r *Registry) Limit() int {
	return r.cfg.MaxListeners
}

// RefCount reports the references held on the listener behind id.
func (r *Registry) RefCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		return e.refCount
	}
	return 0
}

// Stats reports current counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{Listeners: len(r.bySignature), Evictions: r.evictions}
	for _, e := range r.bySignature {
		stats.Refs += e.refCount
		if e.refCount == 0 {
			stats.Dormant++
		}
	}
	return stats
}

// Close cancels every backend subscription.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.bySignature {
		r.removeLocked(e)
	}
}

func (r *Registry) fanOut(e *entry, snapshot docstore.Snapshot) {
	r.mu.Lock()
	if e.closed {
		r.mu.Unlock()
		return
	}
	e.last = &snapshot
	e.lastAccess = r.now()
	callbacks := make([]func(docstore.Snapshot), 0, len(e.order))
	for _, id := range e.order {
		callbacks = append(callbacks, e.callbacks[id])
	}
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(snapshot)
	}
}

// cleanupIdleLocked drops unreferenced entries idle beyond the timeout.
func (r *Registry) cleanupIdleLocked() {
	cutoff := r.now().Add(-r.cfg.IdleTimeout)
	for _, e := range r.bySignature {
		if e.refCount == 0 && e.idleSince.Before(cutoff) {
			r.removeLocked(e)
		}
	}
}

// evictLocked force-removes the unpinned entries with the lowest
// (refCount, lastAccess), even when still referenced.
func (r *Registry) evictLocked() {
	candidates := make([]*entry, 0, len(r.bySignature))
	for _, e := range r.bySignature {
		if !e.pinned {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		r.logger.Warn("listener ceiling reached with only pinned listeners",
			"listeners", len(r.bySignature),
			"max_listeners", r.cfg.MaxListeners,
		)
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].refCount != candidates[j].refCount {
			return candidates[i].refCount < candidates[j].refCount
		}
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	for i := 0; i < evictBatch && i < len(candidates); i++ {
		e := candidates[i]
		r.logger.Warn("listener ceiling reached, evicting listener",
			"listener_id", e.id,
			"collection", e.query.Collection,
			"ref_count", e.refCount,
			"max_listeners", r.cfg.MaxListeners,
		)
		r.removeLocked(e)
		r.evictions++
	}
}

func (r *Registry) removeLocked(e *entry) {
	e.closed = true
	delete(r.bySignature, e.signature)
	delete(r.byID, e.id)
	if e.cancel != nil {
		e.cancel()
	}
}
