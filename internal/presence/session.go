package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/docstore"
	"github.com/example/staffplan/internal/timing"
)

const (
	DefaultHeartbeat      = 5 * time.Second
	DefaultIdleThreshold  = 15 * time.Second
	DefaultSessionTimeout = 30 * time.Second
	DefaultHoverThrottle  = 100 * time.Millisecond
	DefaultHoverDebounce  = 300 * time.Millisecond
	DefaultHoverTTL       = 10 * time.Second
)

// ErrSessionClosed is returned by writes after Destroy.
var ErrSessionClosed = errors.New("presence: session closed")

// Config holds the presence timings.
type Config struct {
	Heartbeat      time.Duration
	IdleThreshold  time.Duration
	SessionTimeout time.Duration
	HoverThrottle  time.Duration
	HoverDebounce  time.Duration
	HoverTTL       time.Duration
	Retry          docstore.RetryConfig
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		Heartbeat:      DefaultHeartbeat,
		IdleThreshold:  DefaultIdleThreshold,
		SessionTimeout: DefaultSessionTimeout,
		HoverThrottle:  DefaultHoverThrottle,
		HoverDebounce:  DefaultHoverDebounce,
		HoverTTL:       DefaultHoverTTL,
		Retry:          docstore.DefaultRetryConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Heartbeat <= 0 {
		c.Heartbeat = d.Heartbeat
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = d.IdleThreshold
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.HoverThrottle < 0 {
		c.HoverThrottle = 0
	}
	if c.HoverDebounce < 0 {
		c.HoverDebounce = 0
	}
	if c.HoverTTL <= 0 {
		c.HoverTTL = d.HoverTTL
	}
	if c.Retry.MaxRetries == 0 && c.Retry.InitialDelay == 0 {
		c.Retry = d.Retry
	}
	return c
}

// Identity names the user behind a session.
type Identity struct {
	Tenant      string
	SessionID   string
	UserID      string
	DisplayName string
}

// Session is one open tab. It owns its row in the sessions collection,
// refreshes it on every heartbeat, and publishes hover and lock state.
type Session struct {
	id     Identity
	store  docstore.Store
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	// writeMu orders writes of this session.
	writeMu sync.Mutex

	mu       sync.Mutex
	machine  *Machine
	hover    *HoverRef
	lock     *LockRef
	started  bool
	closed   bool
	throttle *timing.Throttler
	debounce *timing.Debouncer
	stop     chan struct{}
	done     chan struct{}
}

// NewSession prepares a session. Nothing is written before Start.
func NewSession(id Identity, store docstore.Store, cfg Config, now func() time.Time, logger *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:       id,
		store:    store,
		cfg:      cfg,
		now:      now,
		logger:   logger.With("component", "presence", "session_id", id.SessionID),
		machine:  NewMachine(now(), cfg.IdleThreshold),
		throttle: timing.NewThrottler(cfg.HoverThrottle, now),
		debounce: timing.NewDebouncer(cfg.HoverDebounce),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the session identity.
func (s *Session) ID() Identity {
	return s.id
}

// Path is the store path of the session row.
func (s *Session) Path() string {
	return availability.SessionPath(s.id.Tenant, s.id.SessionID)
}

// Start writes the session row and starts the heartbeat.
func (s *Session) Start(ctx context.Context) error {
	s.writeMu.Lock()
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return nil
	}
	s.started = true
	data := s.rowLocked(s.now())
	s.mu.Unlock()

	err := docstore.WithRetry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.store.Set(ctx, s.Path(), data)
	})
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	go s.heartbeat()
	return nil
}

// MarkActivity records user activity, waking an idle session.
func (s *Session) MarkActivity(ctx context.Context) {
	s.mu.Lock()
	changed := s.machine.MarkActivity(s.now())
	s.mu.Unlock()
	if changed {
		s.writeState(ctx)
	}
}

// SetHidden applies a tab visibility change.
func (s *Session) SetHidden(ctx context.Context, hidden bool) {
	s.mu.Lock()
	changed := s.machine.SetVisible(!hidden, s.now())
	s.mu.Unlock()
	if changed {
		s.writeState(ctx)
	}
}

// State returns the current activity state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// UpdateHover points the session at a cell. Repeats of the current cell and
// calls closer together than the throttle interval are dropped; accepted
// changes are written after the debounce delay. It reports whether the
// change was accepted.
func (s *Session) UpdateHover(ctx context.Context, collaboratorID, date string) bool {
	cellID := availability.CellID(collaboratorID, date)
	now := s.now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	activity := s.machine.MarkActivity(now)
	if s.hover != nil && s.hover.CellID == cellID && now.Before(s.hover.ExpiresAt) {
		s.mu.Unlock()
		if activity {
			s.writeState(ctx)
		}
		return false
	}
	if !s.throttle.Allow() {
		s.mu.Unlock()
		if activity {
			s.writeState(ctx)
		}
		return false
	}
	s.hover = &HoverRef{
		CellID:         cellID,
		CollaboratorID: collaboratorID,
		Date:           date,
		At:             now,
		ExpiresAt:      now.Add(s.cfg.HoverTTL),
	}
	s.mu.Unlock()

	if activity {
		s.writeState(ctx)
	}
	s.debounce.Trigger(func() { s.writeHover(context.Background()) })
	return true
}

// ClearHover removes the hover immediately, dropping any pending write.
func (s *Session) ClearHover(ctx context.Context) {
	s.debounce.Cancel()
	s.mu.Lock()
	s.hover = nil
	s.mu.Unlock()
	s.writeHover(ctx)
}

// Hover returns the current hover, if any.
func (s *Session) Hover() *HoverRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hover == nil {
		return nil
	}
	h := *s.hover
	return &h
}

// SetLock publishes the cell held by this session; nil clears it.
func (s *Session) SetLock(ctx context.Context, lock *LockRef) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if lock != nil {
		copied := *lock
		lock = &copied
	}
	s.lock = lock
	s.mu.Unlock()

	return s.update(ctx, map[string]any{"lock": lockData(lock)})
}

// Lock returns the cell currently held, if any.
func (s *Session) Lock() *LockRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	l := *s.lock
	return &l
}

// Snapshot returns the local view of the session row.
func (s *Session) Snapshot() Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Entry{
		UserID:      s.id.UserID,
		SessionID:   s.id.SessionID,
		DisplayName: s.id.DisplayName,
		Status:      StatusOnline,
		State:       s.machine.State(),
		Hover:       s.hover,
		Lock:        s.lock,
	}
}

// Destroy stops the heartbeat and deletes the session row.
func (s *Session) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.debounce.Cancel()
	if started {
		close(s.stop)
		<-s.done
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.Remove(ctx, s.Path())
}

// Beat runs one heartbeat: re-derive idleness, expire a stale hover and
// refresh lastSeen.
func (s *Session) Beat(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.machine.Tick(now)
	partial := map[string]any{
		"status":    string(StatusOnline),
		"state":     string(s.machine.State()),
		"lastSeen":  docstore.ServerTimestamp,
		"expiresAt": now.Add(s.cfg.SessionTimeout).UnixMilli(),
	}
	if s.hover != nil && !now.Before(s.hover.ExpiresAt) {
		s.hover = nil
		partial["hover"] = docstore.DeleteField
	}
	s.mu.Unlock()

	if err := s.update(ctx, partial); err != nil {
		s.logger.Warn("heartbeat write failed", "error", err)
	}
}

func (s *Session) heartbeat() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Beat(context.Background())
		}
	}
}

func (s *Session) writeState(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	partial := map[string]any{
		"state":    string(s.machine.State()),
		"lastSeen": docstore.ServerTimestamp,
	}
	s.mu.Unlock()

	if err := s.update(ctx, partial); err != nil {
		s.logger.Warn("state write failed", "error", err)
	}
}

func (s *Session) writeHover(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var hover *HoverRef
	if s.hover != nil {
		h := *s.hover
		hover = &h
	}
	s.mu.Unlock()

	if err := s.update(ctx, map[string]any{"hover": hoverData(hover)}); err != nil {
		s.logger.Warn("hover write failed", "error", err)
	}
}

// rowLocked builds the full session row. Requires mu.
func (s *Session) rowLocked(now time.Time) map[string]any {
	return map[string]any{
		"userId":      s.id.UserID,
		"sessionId":   s.id.SessionID,
		"displayName": s.id.DisplayName,
		"status":      string(StatusOnline),
		"state":       string(s.machine.State()),
		"lastSeen":    docstore.ServerTimestamp,
		"expiresAt":   now.Add(s.cfg.SessionTimeout).UnixMilli(),
		"hover":       hoverData(s.hover),
		"lock":        lockData(s.lock),
	}
}

// update requires writeMu. A row reclaimed by another observer while this
// session was still alive is written again in full.
func (s *Session) update(ctx context.Context, partial map[string]any) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	err := docstore.WithRetry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.store.Update(ctx, s.Path(), partial)
	})
	if !errors.Is(err, docstore.ErrNotFound) {
		return err
	}

	s.mu.Lock()
	row := s.rowLocked(s.now())
	s.mu.Unlock()
	s.logger.Info("session row missing, recreating")
	return docstore.WithRetry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.store.Set(ctx, s.Path(), row)
	})
}
