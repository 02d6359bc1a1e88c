package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/docstore"
	"github.com/example/staffplan/internal/listeners"
)

// Directory is a live view of the sessions of one tenant. Sessions whose
// lastSeen is older than the session timeout are hidden and their rows
// removed, whatever state they were last in.
type Directory struct {
	tenant   string
	registry *listeners.Registry
	store    docstore.Store
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	entries   map[string]Entry
	observers map[uint64]func([]Entry)
	nextObs   uint64
	handle    listeners.Handle
	started   bool
	reclaimed int
}

// NewDirectory builds a directory for tenant.
func NewDirectory(tenant string, registry *listeners.Registry, store docstore.Store, timeout time.Duration, now func() time.Time, logger *slog.Logger) *Directory {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		tenant:    tenant,
		registry:  registry,
		store:     store,
		timeout:   timeout,
		now:       now,
		logger:    logger.With("component", "presence_directory", "tenant", tenant),
		entries:   make(map[string]Entry),
		observers: make(map[uint64]func([]Entry)),
	}
}

// Start subscribes to the tenant's sessions.
func (d *Directory) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	handle, err := d.registry.SubscribePinned(ctx, docstore.Query{Collection: availability.SessionsCollection(d.tenant)}, d.apply)
	if err != nil {
		d.mu.Lock()
		d.started = false
		d.mu.Unlock()
		return err
	}
	d.mu.Lock()
	d.handle = handle
	d.mu.Unlock()
	return nil
}

// Stop releases the subscription.
func (d *Directory) Stop() {
	d.mu.Lock()
	started, handle := d.started, d.handle
	d.started = false
	d.mu.Unlock()
	if started {
		d.registry.Unsubscribe(handle)
	}
}

// OnChange registers fn for every change of the visible entries.
func (d *Directory) OnChange(fn func([]Entry)) func() {
	d.mu.Lock()
	d.nextObs++
	id := d.nextObs
	d.observers[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}
}

// Entries returns the live sessions ordered by display name.
func (d *Directory) Entries() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedLocked()
}

// Stats counts sessions by state.
func (d *Directory) Stats() map[State]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make(map[State]int, 3)
	for _, e := range d.entries {
		counts[e.State]++
	}
	return counts
}

// Reclaimed is the number of expired rows this directory removed.
func (d *Directory) Reclaimed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reclaimed
}

// Sweep re-checks expiry against the clock without waiting for a snapshot.
func (d *Directory) Sweep(ctx context.Context) {
	now := d.now()
	d.mu.Lock()
	var expired []Entry
	for id, e := range d.entries {
		if e.Expired(now, d.timeout) {
			expired = append(expired, e)
			delete(d.entries, id)
		}
	}
	d.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	d.reclaim(ctx, expired)
	d.notify()
}

func (d *Directory) apply(snapshot docstore.Snapshot) {
	now := d.now()
	live := make(map[string]Entry, snapshot.Len())
	var expired []Entry
	for _, doc := range snapshot.Docs {
		entry := EntryFromDocument(doc)
		if entry.Expired(now, d.timeout) {
			expired = append(expired, entry)
			continue
		}
		entry.Hover = entry.ActiveHover(now)
		entry.Lock = entry.ActiveLock(now)
		live[entry.SessionID] = entry
	}

	d.mu.Lock()
	d.entries = live
	d.mu.Unlock()

	if len(expired) > 0 {
		d.reclaim(context.Background(), expired)
	}
	d.notify()
}

func (d *Directory) reclaim(ctx context.Context, expired []Entry) {
	for _, e := range expired {
		if err := d.store.Remove(ctx, availability.SessionPath(d.tenant, e.SessionID)); err != nil {
			d.logger.Warn("failed to remove expired session", "session_id", e.SessionID, "error", err)
			continue
		}
		d.mu.Lock()
		d.reclaimed++
		d.mu.Unlock()
		d.logger.Info("removed expired session",
			"session_id", e.SessionID,
			"user_id", e.UserID,
			"last_seen", e.LastSeen.UTC().Format(time.RFC3339),
		)
	}
}

func (d *Directory) notify() {
	d.mu.Lock()
	entries := d.sortedLocked()
	observers := make([]func([]Entry), 0, len(d.observers))
	for _, fn := range d.observers {
		observers = append(observers, fn)
	}
	d.mu.Unlock()

	for _, fn := range observers {
		fn(entries)
	}
}

func (d *Directory) sortedLocked() []Entry {
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}
