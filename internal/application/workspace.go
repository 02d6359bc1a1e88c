package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/docstore"
	"github.com/example/staffplan/internal/events"
	"github.com/example/staffplan/internal/export"
	"github.com/example/staffplan/internal/filter"
	"github.com/example/staffplan/internal/listeners"
	"github.com/example/staffplan/internal/locks"
	"github.com/example/staffplan/internal/obs"
	"github.com/example/staffplan/internal/prefetch"
	"github.com/example/staffplan/internal/presence"
	"github.com/example/staffplan/internal/ranges"
)

// Deps are the process-wide collaborators shared by every workspace.
type Deps struct {
	Store   docstore.Store
	Bus     *events.Bus
	Metrics *obs.Metrics
	Now     func() time.Time
	NewID   func() string
	Logger  *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	d.Logger = defaultLogger(d.Logger)
	return d
}

// WorkspaceConfig tunes the components of a workspace.
type WorkspaceConfig struct {
	Listeners listeners.Config
	Prefetch  prefetch.Config
	Presence  presence.Config
	Locks     locks.Config
}

// DefaultWorkspaceConfig returns the standard tunings.
func DefaultWorkspaceConfig() WorkspaceConfig {
	return WorkspaceConfig{
		Listeners: listeners.Config{MaxListeners: listeners.DefaultMaxListeners, IdleTimeout: listeners.DefaultIdleTimeout},
		Prefetch:  prefetch.Config{Days: prefetch.DefaultDays, Debounce: prefetch.DefaultDebounce, IdleDelay: prefetch.DefaultIdleDelay},
		Presence:  presence.DefaultConfig(),
		Locks:     locks.Config{EditTTL: locks.DefaultEditTTL, HoverTTL: locks.DefaultHoverTTL, ReleaseGrace: locks.DefaultReleaseGrace},
	}
}

// Workspace is the server-side state of one open planning tab: its loaded
// ranges and records, filter, presence session and cell locks.
type Workspace struct {
	id       presence.Identity
	repo     *availability.Repository
	registry *listeners.Registry
	cache    *ranges.Cache
	index    *availability.Index
	prefetch *prefetch.Scheduler
	pipeline *filter.Pipeline
	session  *presence.Session
	presence *presence.Directory
	locks    *locks.Coordinator
	loads    singleflight.Group
	watchMu  sync.Mutex
	bus      *events.Bus
	now      func() time.Time
	logger   *slog.Logger

	mu            sync.RWMutex
	state         filter.State
	collaborators []availability.Collaborator
	months        map[string]listeners.Handle
	visible       ranges.Range
	startRow      int
	endRow        int
	lastAccess    time.Time
	closed        bool
	unsubscribe   []func()
}

// OpenWorkspace creates the session of identity and starts every live
// subscription. A missing SessionID is generated.
func OpenWorkspace(ctx context.Context, deps Deps, identity presence.Identity, cfg WorkspaceConfig) (*Workspace, error) {
	deps = deps.withDefaults()
	if identity.Tenant == "" {
		return nil, &ValidationError{FieldErrors: map[string]string{"tenant": "tenant is required"}}
	}
	if identity.SessionID == "" {
		identity.SessionID = deps.NewID()
	}
	if identity.DisplayName == "" {
		identity.DisplayName = identity.UserID
	}

	logger := deps.Logger.With("tenant", identity.Tenant, "session_id", identity.SessionID)
	w := &Workspace{
		id:         identity,
		repo:       availability.NewRepository(deps.Store),
		registry:   listeners.New(deps.Store, cfg.Listeners, deps.Now, logger),
		cache:      ranges.NewCache(),
		index:      availability.NewIndex(),
		bus:        deps.Bus,
		now:        deps.Now,
		logger:     logger,
		months:     make(map[string]listeners.Handle),
		lastAccess: deps.Now(),
	}
	w.pipeline = filter.New(logger, filter.WithObserver(deps.Metrics.ObserveFilter))

	prefetchCfg := cfg.Prefetch
	onWindow := prefetchCfg.OnWindow
	prefetchCfg.OnWindow = func(window ranges.Range, records int, err error) {
		deps.Metrics.ObservePrefetch(err)
		if onWindow != nil {
			onWindow(window, records, err)
		}
	}
	w.prefetch = prefetch.New(prefetchCfg, w.cache, w.fetch, w.index, logger)

	w.session = presence.NewSession(identity, deps.Store, cfg.Presence, deps.Now, logger)
	w.presence = presence.NewDirectory(identity.Tenant, w.registry, deps.Store, cfg.Presence.SessionTimeout, deps.Now, logger)

	lockCfg := cfg.Locks
	onAttempt := lockCfg.OnAttempt
	lockCfg.OnAttempt = func(kind locks.Kind, accepted bool) {
		deps.Metrics.ObserveLock(string(kind), accepted)
		if onAttempt != nil {
			onAttempt(kind, accepted)
		}
	}
	w.locks = locks.New(w.session, deps.Store, w.registry, lockCfg, deps.Now, logger)

	if err := w.start(ctx); err != nil {
		w.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return w, nil
}

func (w *Workspace) start(ctx context.Context) error {
	if err := w.session.Start(ctx); err != nil {
		return err
	}
	if err := w.presence.Start(ctx); err != nil {
		return fmt.Errorf("start presence: %w", err)
	}
	if err := w.locks.Start(ctx); err != nil {
		return fmt.Errorf("start locks: %w", err)
	}

	collaborators, err := w.repo.ListCollaborators(ctx, w.id.Tenant, true)
	if err != nil {
		return err
	}
	w.setCollaborators(collaborators)

	q := docstore.Query{
		Collection: availability.CollaboratorsCollection(w.id.Tenant),
		Filters:    []docstore.Filter{docstore.Where("actif", docstore.OpNeq, false)},
		OrderBy:    "nom",
	}
	_, err = w.registry.SubscribePinned(ctx, q, func(snapshot docstore.Snapshot) {
		w.setCollaborators(availability.CollaboratorsFromSnapshot(snapshot))
	})
	if err != nil {
		return fmt.Errorf("subscribe collaborators: %w", err)
	}

	w.mu.Lock()
	w.unsubscribe = append(w.unsubscribe,
		events.Subscribe(w.bus, TopicAvailabilityChanged, w.onAvailabilityChanged),
		events.Subscribe(w.bus, TopicCollaboratorChanged, w.onCollaboratorChanged),
	)
	w.mu.Unlock()
	return nil
}

// ID returns the identity of the workspace's session.
func (w *Workspace) ID() presence.Identity {
	return w.id
}

// Session exposes the presence session.
func (w *Workspace) Session() *presence.Session {
	return w.session
}

// Touch records that the tab is still talking to the workspace.
func (w *Workspace) Touch() {
	w.mu.Lock()
	w.lastAccess = w.now()
	w.mu.Unlock()
}

// LastAccess is the time of the latest Touch.
func (w *Workspace) LastAccess() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastAccess
}

// UpdateVisibleRange loads the records of [start, end] when not already
// loaded, keeps the visible months live, and schedules a prefetch of the
// neighbouring windows.
func (w *Workspace) UpdateVisibleRange(ctx context.Context, start, end time.Time, startRow, endRow int) (err error) {
	start, end = ranges.Day(start), ranges.Day(end)
	logger := serviceLogger(ctx, w.logger, "Workspace", "UpdateVisibleRange", "start", start.Format(ranges.DateLayout), "end", end.Format(ranges.DateLayout))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update visible range", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if end.Before(start) {
		err = &ValidationError{FieldErrors: map[string]string{"end": "end must not precede start"}}
		return
	}
	if err = w.checkOpen(); err != nil {
		return
	}

	w.mu.Lock()
	w.visible = ranges.Range{Start: start, End: end}
	w.startRow, w.endRow = startRow, endRow
	w.mu.Unlock()
	w.session.MarkActivity(ctx)

	if !w.cache.Covered(start, end) {
		key := start.Format(ranges.DateLayout) + "/" + end.Format(ranges.DateLayout)
		_, err, shared := w.loads.Do(key, func() (any, error) {
			records, err := w.fetch(ctx, start, end)
			if err != nil {
				return nil, err
			}
			w.index.Merge(records)
			w.cache.Add(start, end)
			return len(records), nil
		})
		if err != nil {
			return err
		}
		logger.DebugContext(ctx, "range loaded", "shared", shared)
	}

	if err = w.watchMonths(ctx, availability.Months(start, end)); err != nil {
		return
	}
	w.prefetch.Trigger(start, end)
	return
}

// TriggerPrefetch schedules a prefetch around [start, end] without loading
// the window itself.
func (w *Workspace) TriggerPrefetch(start, end time.Time) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if end.Before(start) {
		return &ValidationError{FieldErrors: map[string]string{"end": "end must not precede start"}}
	}
	w.prefetch.Trigger(start, end)
	return nil
}

// FlushPrefetch runs a pending prefetch pass immediately.
func (w *Workspace) FlushPrefetch() bool {
	return w.prefetch.Flush()
}

func (w *Workspace) fetch(ctx context.Context, start, end time.Time) ([]availability.Dispo, error) {
	return w.repo.ListDispos(ctx, w.id.Tenant, start, end)
}

// coreListeners counts the pinned mirrors every workspace holds: sessions,
// cells and collaborators.
const coreListeners = 3

// watchMonths keeps one live subscription per visible month and drops the
// others. Months past the listener budget stay loaded without a listener.
func (w *Workspace) watchMonths(ctx context.Context, months []string) error {
	w.watchMu.Lock()
	defer w.watchMu.Unlock()

	budget := max(w.registry.Limit()-coreListeners, 1)
	if len(months) > budget {
		w.logger.DebugContext(ctx, "visible months exceed listener budget",
			"months", len(months),
			"live", budget,
		)
		months = months[:budget]
	}
	wanted := make(map[string]bool, len(months))
	for _, month := range months {
		wanted[month] = true
	}

	w.mu.Lock()
	var stale []listeners.Handle
	for month, handle := range w.months {
		if !wanted[month] {
			stale = append(stale, handle)
			delete(w.months, month)
		}
	}
	var missing []string
	for _, month := range months {
		if _, ok := w.months[month]; !ok {
			missing = append(missing, month)
		}
	}
	w.mu.Unlock()

	for _, handle := range stale {
		w.registry.Unsubscribe(handle)
	}

	for _, month := range missing {
		first, err := time.Parse("2006-01", month)
		if err != nil {
			return err
		}
		last := first.AddDate(0, 1, -1)
		from, to := first.Format(ranges.DateLayout), last.Format(ranges.DateLayout)
		handle, err := w.registry.Subscribe(ctx, availability.DisposQuery(w.id.Tenant, month, first, last), func(snapshot docstore.Snapshot) {
			dropped := w.index.Replace(from, to, availability.DisposFromSnapshot(w.id.Tenant, snapshot))
			w.cache.Add(first, last)
			if dropped > 0 {
				w.logger.Debug("month refreshed", "month", month, "dropped", dropped)
			}
		})
		if err != nil {
			return fmt.Errorf("watch month %s: %w", month, err)
		}
		w.mu.Lock()
		w.months[month] = handle
		w.mu.Unlock()
	}
	return nil
}

// SetFilter replaces the filter state.
func (w *Workspace) SetFilter(state filter.State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// Filter returns the current filter state.
func (w *Workspace) Filter() filter.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// FilteredCollaborators applies the filter to the active collaborators.
func (w *Workspace) FilteredCollaborators() []availability.Collaborator {
	w.mu.RLock()
	state, list := w.state, w.collaborators
	w.mu.RUnlock()
	return w.pipeline.Collaborators(state, list)
}

// FilteredAvailabilities applies the filter to the loaded records.
func (w *Workspace) FilteredAvailabilities() []availability.Dispo {
	w.mu.RLock()
	state, list := w.state, w.collaborators
	w.mu.RUnlock()
	filtered := w.pipeline.Collaborators(state, list)
	return w.pipeline.Availabilities(state, w.index.All(), filtered)
}

// LockCellForEditing tries to lock the cell of collaboratorID on date.
// kind is "edit" (the default) or "hover".
func (w *Workspace) LockCellForEditing(ctx context.Context, collaboratorID, date, kind string) bool {
	if w.checkOpen() != nil {
		return false
	}
	k, err := locks.ParseKind(kind)
	if err != nil {
		w.logger.WarnContext(ctx, "lock rejected", "error", err)
		return false
	}
	w.session.MarkActivity(ctx)
	return w.locks.Lock(ctx, availability.CellID(collaboratorID, date), k)
}

// UnlockCellFromEditing releases the cell if this workspace holds it.
func (w *Workspace) UnlockCellFromEditing(ctx context.Context, collaboratorID, date string) {
	if w.checkOpen() != nil {
		return
	}
	w.locks.Unlock(ctx, availability.CellID(collaboratorID, date))
}

// IsCellLocked reports whether another session holds a live lock on the cell.
func (w *Workspace) IsCellLocked(collaboratorID, date string) bool {
	return w.locks.IsLockedByOther(availability.CellID(collaboratorID, date))
}

// CellLock returns the live lock of the cell, whoever holds it.
func (w *Workspace) CellLock(collaboratorID, date string) (locks.Cell, bool) {
	return w.locks.LockedBy(availability.CellID(collaboratorID, date))
}

// OnPresenceChange registers fn for every change of the tenant's visible
// sessions.
func (w *Workspace) OnPresenceChange(fn func([]presence.Entry)) func() {
	return w.presence.OnChange(fn)
}

// Presence lists the tenant's live sessions.
func (w *Workspace) Presence() []presence.Entry {
	return w.presence.Entries()
}

// SweepPresence reclaims expired sessions without waiting for a snapshot.
func (w *Workspace) SweepPresence(ctx context.Context) {
	w.presence.Sweep(ctx)
}

// MarkActivity records user activity.
func (w *Workspace) MarkActivity(ctx context.Context) {
	w.session.MarkActivity(ctx)
}

// SetHidden records the tab's visibility.
func (w *Workspace) SetHidden(ctx context.Context, hidden bool) {
	w.session.SetHidden(ctx, hidden)
}

// UpdateHover publishes the hovered cell.
func (w *Workspace) UpdateHover(ctx context.Context, collaboratorID, date string) bool {
	return w.session.UpdateHover(ctx, collaboratorID, date)
}

// ClearHover clears the hovered cell immediately.
func (w *Workspace) ClearHover(ctx context.Context) {
	w.session.ClearHover(ctx)
}

// ExportRange picks the export span: the filter's date bounds, completed
// with the visible window.
func (w *Workspace) ExportRange() (start, end time.Time, ok bool) {
	w.mu.RLock()
	state, visible := w.state, w.visible
	w.mu.RUnlock()

	start, end = visible.Start, visible.End
	if from, err := ranges.ParseDay(state.DateFrom); err == nil {
		start = from
	}
	if to, err := ranges.ParseDay(state.DateTo); err == nil {
		end = to
	}
	if start.IsZero() || end.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	return start, end, !end.Before(start)
}

// Export writes the filtered grid of [start, end] as an .xlsx workbook.
func (w *Workspace) Export(ctx context.Context, out io.Writer, start, end time.Time) (err error) {
	logger := serviceLogger(ctx, w.logger, "Workspace", "Export")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to export planning", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if end.Before(start) {
		err = &ValidationError{FieldErrors: map[string]string{"end": "end must not precede start"}}
		return
	}
	if err = w.checkOpen(); err != nil {
		return
	}
	grid := export.Grid{
		Start:         start,
		End:           end,
		Collaborators: w.FilteredCollaborators(),
		Records:       w.FilteredAvailabilities(),
	}
	return export.Write(out, grid)
}

// WorkspaceStats is a diagnostic snapshot. Its shape is not stable.
type WorkspaceStats struct {
	Tenant          string                 `json:"tenant"`
	SessionID       string                 `json:"sessionId"`
	Listeners       listeners.Stats        `json:"listeners"`
	LoadedRanges    []string               `json:"loadedRanges"`
	Records         int                    `json:"records"`
	Collaborators   int                    `json:"collaborators"`
	LiveMonths      []string               `json:"liveMonths"`
	PrefetchPending int                    `json:"prefetchPending"`
	PresenceState   presence.State         `json:"presenceState"`
	Sessions        map[presence.State]int `json:"sessions"`
	Reclaimed       int                    `json:"reclaimedSessions"`
	HeldLock        string                 `json:"heldLock,omitempty"`
	VisibleStart    string                 `json:"visibleStart,omitempty"`
	VisibleEnd      string                 `json:"visibleEnd,omitempty"`
	StartRow        int                    `json:"startRow"`
	EndRow          int                    `json:"endRow"`
}

// Stats reports diagnostic counts.
func (w *Workspace) Stats() WorkspaceStats {
	w.mu.RLock()
	stats := WorkspaceStats{
		Tenant:        w.id.Tenant,
		SessionID:     w.id.SessionID,
		Collaborators: len(w.collaborators),
		StartRow:      w.startRow,
		EndRow:        w.endRow,
	}
	for month := range w.months {
		stats.LiveMonths = append(stats.LiveMonths, month)
	}
	if !w.visible.Start.IsZero() {
		stats.VisibleStart = w.visible.Start.Format(ranges.DateLayout)
		stats.VisibleEnd = w.visible.End.Format(ranges.DateLayout)
	}
	w.mu.RUnlock()

	sort.Strings(stats.LiveMonths)
	stats.Listeners = w.registry.Stats()
	for _, r := range w.cache.Ranges() {
		stats.LoadedRanges = append(stats.LoadedRanges, r.String())
	}
	stats.Records = w.index.Len()
	stats.PrefetchPending = w.prefetch.Pending()
	stats.PresenceState = w.session.State()
	stats.Sessions = w.presence.Stats()
	stats.Reclaimed = w.presence.Reclaimed()
	stats.HeldLock, _ = w.locks.Held()
	return stats
}

// Close releases the lock, removes the session row and stops every
// subscription. It is safe to call more than once.
func (w *Workspace) Close(ctx context.Context) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	w.prefetch.Close()
	w.locks.Close(ctx)
	w.presence.Stop()
	if err := w.session.Destroy(ctx); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		w.logger.WarnContext(ctx, "failed to remove session row", "error", err)
	}
	w.registry.Close()
	w.logger.InfoContext(ctx, "workspace closed")
}

func (w *Workspace) checkOpen() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWorkspaceClosed
	}
	return nil
}

func (w *Workspace) setCollaborators(list []availability.Collaborator) {
	w.mu.Lock()
	w.collaborators = list
	w.mu.Unlock()
}

func (w *Workspace) onAvailabilityChanged(ev AvailabilityChanged) {
	if ev.Tenant != w.id.Tenant {
		return
	}
	if ev.Deleted {
		w.index.Remove(ev.Record.ID)
		return
	}
	day, err := ranges.ParseDay(ev.Record.Date)
	if err != nil || !w.cache.Covered(day, day) {
		return
	}
	w.index.Merge([]availability.Dispo{ev.Record})
}

func (w *Workspace) onCollaboratorChanged(ev CollaboratorChanged) {
	if ev.Tenant != w.id.Tenant {
		return
	}
	c := ev.Collaborator

	w.mu.Lock()
	defer w.mu.Unlock()
	next := make([]availability.Collaborator, 0, len(w.collaborators)+1)
	for _, existing := range w.collaborators {
		if existing.ID != c.ID {
			next = append(next, existing)
		}
	}
	if c.Actif {
		next = append(next, c)
	}
	sort.SliceStable(next, func(i, j int) bool { return next[i].Nom < next[j].Nom })
	w.collaborators = next
}
