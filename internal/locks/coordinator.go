// Package locks implements advisory per-cell locks on the planning grid.
//
// A lock is a row in the tenant's cells collection keyed by
// collaboratorId_date. Nothing enforces it in storage: readers compare the
// stored expiry to their own clock, and the last write observed wins.
package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/docstore"
	"github.com/example/staffplan/internal/listeners"
	"github.com/example/staffplan/internal/presence"
)

// Kind distinguishes a modal edit from a hover used as a soft lock.
type Kind string

const (
	KindEdit  Kind = "edit"
	KindHover Kind = "hover"
)

const (
	DefaultEditTTL      = 3 * time.Minute
	DefaultHoverTTL     = 30 * time.Second
	DefaultReleaseGrace = time.Second
)

// ErrUnknownKind is returned by ParseKind.
var ErrUnknownKind = errors.New("locks: unknown lock kind")

// ParseKind accepts "edit" and "hover"; empty means edit.
func ParseKind(value string) (Kind, error) {
	switch Kind(value) {
	case "", KindEdit:
		return KindEdit, nil
	case KindHover:
		return KindHover, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, value)
}

// Cell is one lock row.
type Cell struct {
	CellID         string    `json:"cellId"`
	CollaboratorID string    `json:"collaboratorId"`
	Date           string    `json:"date"`
	SessionID      string    `json:"sessionId"`
	UserID         string    `json:"userId"`
	DisplayName    string    `json:"displayName"`
	Kind           Kind      `json:"kind"`
	LockedAt       time.Time `json:"lockedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Expired reports whether the lock no longer counts at now.
func (c Cell) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// CellFromDocument decodes a lock row.
func CellFromDocument(doc docstore.Document) Cell {
	data := doc.Data
	return Cell{
		CellID:         doc.ID,
		CollaboratorID: docstore.String(data, "collaboratorId"),
		Date:           docstore.String(data, "date"),
		SessionID:      docstore.String(data, "sessionId"),
		UserID:         docstore.String(data, "userId"),
		DisplayName:    docstore.String(data, "displayName"),
		Kind:           Kind(docstore.String(data, "kind")),
		LockedAt:       time.UnixMilli(docstore.Int64(data, "lockedAt")),
		ExpiresAt:      time.UnixMilli(docstore.Int64(data, "expiresAt")),
	}
}

func cellData(c Cell) map[string]any {
	return map[string]any{
		"collaboratorId": c.CollaboratorID,
		"date":           c.Date,
		"sessionId":      c.SessionID,
		"userId":         c.UserID,
		"displayName":    c.DisplayName,
		"kind":           string(c.Kind),
		"lockedAt":       c.LockedAt.UnixMilli(),
		"expiresAt":      c.ExpiresAt.UnixMilli(),
	}
}

// Owner is the session locks are taken for. *presence.Session satisfies it.
type Owner interface {
	ID() presence.Identity
	SetLock(ctx context.Context, lock *presence.LockRef) error
}

// Config holds lock timings.
type Config struct {
	EditTTL      time.Duration
	HoverTTL     time.Duration
	ReleaseGrace time.Duration
	Retry        docstore.RetryConfig
	// OnAttempt observes every lock attempt.
	OnAttempt func(kind Kind, accepted bool)
}

func (c Config) withDefaults() Config {
	if c.EditTTL <= 0 {
		c.EditTTL = DefaultEditTTL
	}
	if c.HoverTTL <= 0 {
		c.HoverTTL = DefaultHoverTTL
	}
	if c.ReleaseGrace < 0 {
		c.ReleaseGrace = 0
	}
	if c.Retry.MaxRetries == 0 && c.Retry.InitialDelay == 0 {
		c.Retry = docstore.DefaultRetryConfig()
	}
	return c
}

// TTL returns the lifetime of a lock of kind.
func (c Config) TTL(kind Kind) time.Duration {
	if kind == KindHover {
		return c.HoverTTL
	}
	return c.EditTTL
}

// Coordinator takes and releases cell locks for one session and mirrors the
// cells of its tenant through the listener registry.
type Coordinator struct {
	owner    Owner
	store    docstore.Store
	registry *listeners.Registry
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger

	// opMu serializes Lock and Unlock of this session.
	opMu sync.Mutex

	mu      sync.Mutex
	cells   map[string]Cell
	held    string
	timer   *time.Timer
	gen     uint64
	handle  listeners.Handle
	started bool
}

// New builds a coordinator for owner.
func New(owner Owner, store docstore.Store, registry *listeners.Registry, cfg Config, now func() time.Time, logger *slog.Logger) *Coordinator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := owner.ID()
	return &Coordinator{
		owner:    owner,
		store:    store,
		registry: registry,
		cfg:      cfg.withDefaults(),
		now:      now,
		logger:   logger.With("component", "locks", "session_id", id.SessionID),
		cells:    make(map[string]Cell),
	}
}

// Start mirrors the tenant's cells.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	q := docstore.Query{Collection: availability.CellsCollection(c.owner.ID().Tenant)}
	handle, err := c.registry.SubscribePinned(ctx, q, c.apply)
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()
	return nil
}

// Close releases the held lock and the subscription.
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	held := c.held
	started, handle := c.started, c.handle
	c.started = false
	c.mu.Unlock()

	if held != "" {
		c.Unlock(ctx, held)
	}
	if started {
		c.registry.Unsubscribe(handle)
	}
}

// Lock tries to take cellID. It is rejected only when another session holds
// a lock that has not expired; re-locking an own cell refreshes it. Any
// write failure also reports false.
func (c *Coordinator) Lock(ctx context.Context, cellID string, kind Kind) bool {
	accepted := c.lock(ctx, cellID, kind)
	if c.cfg.OnAttempt != nil {
		c.cfg.OnAttempt(kind, accepted)
	}
	return accepted
}

func (c *Coordinator) lock(ctx context.Context, cellID string, kind Kind) bool {
	collaboratorID, date, ok := availability.ParseCellID(cellID)
	if !ok {
		c.logger.Warn("invalid cell id", "cell_id", cellID)
		return false
	}
	if kind != KindEdit && kind != KindHover {
		c.logger.Warn("invalid lock kind", "cell_id", cellID, "kind", kind)
		return false
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	id := c.owner.ID()
	path := availability.CellPath(id.Tenant, cellID)
	now := c.now()

	doc, err := c.store.Get(ctx, path)
	switch {
	case err == nil:
		current := CellFromDocument(doc)
		if current.SessionID != id.SessionID && !current.Expired(now) {
			c.observe(current)
			c.logger.Debug("cell held by another session",
				"cell_id", cellID,
				"holder", current.SessionID,
				"expires_at", current.ExpiresAt.UTC().Format(time.RFC3339),
			)
			return false
		}
	case errors.Is(err, docstore.ErrNotFound):
	default:
		c.logger.Warn("lock read failed", "cell_id", cellID, "error", err)
		return false
	}

	c.mu.Lock()
	previous := c.held
	c.mu.Unlock()
	if previous != "" && previous != cellID {
		c.release(ctx, previous)
	}

	ttl := c.cfg.TTL(kind)
	cell := Cell{
		CellID:         cellID,
		CollaboratorID: collaboratorID,
		Date:           date,
		SessionID:      id.SessionID,
		UserID:         id.UserID,
		DisplayName:    id.DisplayName,
		Kind:           kind,
		LockedAt:       now,
		ExpiresAt:      now.Add(ttl),
	}
	err = docstore.WithRetry(ctx, c.cfg.Retry, func(ctx context.Context) error {
		return c.store.Set(ctx, path, cellData(cell))
	})
	if err != nil {
		c.logger.Warn("lock write failed", "cell_id", cellID, "error", err)
		return false
	}

	ref := &presence.LockRef{CellID: cellID, Kind: string(kind), LockedAt: now, TTL: ttl, ExpiresAt: cell.ExpiresAt}
	if err := c.owner.SetLock(ctx, ref); err != nil {
		c.logger.Warn("session lock write failed", "cell_id", cellID, "error", err)
		if err := c.store.Remove(ctx, path); err != nil {
			c.logger.Warn("lock rollback failed", "cell_id", cellID, "error", err)
		}
		return false
	}

	c.mu.Lock()
	c.cells[cellID] = cell
	c.held = cellID
	c.armLocked(cellID, ttl+c.cfg.ReleaseGrace)
	c.mu.Unlock()

	c.logger.Info("cell locked", "cell_id", cellID, "kind", kind, "expires_at", cell.ExpiresAt.UTC().Format(time.RFC3339))
	return true
}

// Unlock releases cellID if this session holds it. Failures are logged only.
func (c *Coordinator) Unlock(ctx context.Context, cellID string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.release(ctx, cellID)
}

// release requires opMu.
func (c *Coordinator) release(ctx context.Context, cellID string) {
	id := c.owner.ID()
	path := availability.CellPath(id.Tenant, cellID)

	c.mu.Lock()
	wasHeld := c.held == cellID
	if wasHeld {
		c.held = ""
		c.gen++
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
	}
	c.mu.Unlock()

	doc, err := c.store.Get(ctx, path)
	switch {
	case err == nil:
		if CellFromDocument(doc).SessionID == id.SessionID {
			if err := c.store.Remove(ctx, path); err != nil {
				c.logger.Warn("unlock failed", "cell_id", cellID, "error", err)
				return
			}
			c.mu.Lock()
			delete(c.cells, cellID)
			c.mu.Unlock()
		}
	case errors.Is(err, docstore.ErrNotFound):
	default:
		c.logger.Warn("unlock read failed", "cell_id", cellID, "error", err)
		return
	}

	if wasHeld {
		if err := c.owner.SetLock(ctx, nil); err != nil && !errors.Is(err, presence.ErrSessionClosed) {
			c.logger.Warn("session unlock write failed", "cell_id", cellID, "error", err)
		}
	}
	c.logger.Info("cell unlocked", "cell_id", cellID)
}

// IsLockedByOther reports whether another session holds a live lock on cellID.
func (c *Coordinator) IsLockedByOther(cellID string) bool {
	cell, ok := c.LockedBy(cellID)
	return ok && cell.SessionID != c.owner.ID().SessionID
}

// LockedBy returns the live lock on cellID, if any.
func (c *Coordinator) LockedBy(cellID string) (Cell, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	cell, ok := c.cells[cellID]
	if !ok || cell.Expired(now) {
		return Cell{}, false
	}
	return cell, true
}

// Held returns the cell this session holds, if any.
func (c *Coordinator) Held() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held, c.held != ""
}

// Cells returns the live locks of the tenant ordered by cell id.
func (c *Coordinator) Cells() []Cell {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Cell, 0, len(c.cells))
	for _, cell := range c.cells {
		if !cell.Expired(now) {
			out = append(out, cell)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CellID < out[j].CellID })
	return out
}

func (c *Coordinator) apply(snapshot docstore.Snapshot) {
	cells := make(map[string]Cell, snapshot.Len())
	for _, doc := range snapshot.Docs {
		cells[doc.ID] = CellFromDocument(doc)
	}
	c.mu.Lock()
	c.cells = cells
	c.mu.Unlock()
}

func (c *Coordinator) observe(cell Cell) {
	c.mu.Lock()
	c.cells[cell.CellID] = cell
	c.mu.Unlock()
}

// armLocked schedules the best-effort release. Requires mu.
func (c *Coordinator) armLocked(cellID string, after time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(after, func() {
		c.mu.Lock()
		current := c.gen == gen && c.held == cellID
		c.mu.Unlock()
		if !current {
			return
		}
		c.logger.Debug("lock ttl elapsed, releasing", "cell_id", cellID)
		c.Unlock(context.Background(), cellID)
	})
}
