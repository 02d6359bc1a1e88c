package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/staffplan/internal/presence"
)

// DefaultReapInterval is how often the manager looks for idle workspaces.
const DefaultReapInterval = 15 * time.Second

// ManagerConfig tunes a Manager.
type ManagerConfig struct {
	Workspace WorkspaceConfig
	// IdleTimeout closes a workspace that received no request for this long.
	// It defaults to twice the presence session timeout.
	IdleTimeout  time.Duration
	ReapInterval time.Duration
}

// Manager owns the open workspaces, one per connected tab, and closes the
// ones whose tab went away without saying so.
type Manager struct {
	deps   Deps
	cfg    ManagerConfig
	logger *slog.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
	stop       chan struct{}
	done       chan struct{}
	running    bool
}

// NewManager builds an empty manager.
func NewManager(deps Deps, cfg ManagerConfig) *Manager {
	deps = deps.withDefaults()
	if cfg.IdleTimeout <= 0 {
		timeout := cfg.Workspace.Presence.SessionTimeout
		if timeout <= 0 {
			timeout = presence.DefaultSessionTimeout
		}
		cfg.IdleTimeout = 2 * timeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	return &Manager{
		deps:       deps,
		cfg:        cfg,
		logger:     deps.Logger.With("component", "WorkspaceManager"),
		workspaces: make(map[string]*Workspace),
	}
}

// Open starts a workspace for userID on tenant.
func (m *Manager) Open(ctx context.Context, tenant, userID, displayName string) (ws *Workspace, err error) {
	logger := serviceLogger(ctx, m.logger, "WorkspaceManager", "Open", "tenant", tenant, "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to open workspace", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "workspace opened", "session_id", ws.ID().SessionID)
	}()

	if userID == "" {
		err = &ValidationError{FieldErrors: map[string]string{"userId": "userId is required"}}
		return
	}
	identity := presence.Identity{Tenant: tenant, UserID: userID, DisplayName: displayName}
	ws, err = OpenWorkspace(ctx, m.deps, identity, m.cfg.Workspace)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.workspaces[ws.ID().SessionID] = ws
	m.mu.Unlock()
	m.refreshMetrics()
	return
}

// Get returns the workspace of sessionID and marks it as accessed.
func (m *Manager) Get(sessionID string) (*Workspace, error) {
	m.mu.Lock()
	ws, ok := m.workspaces[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", sessionID, ErrNotFound)
	}
	ws.Touch()
	return ws, nil
}

// Close destroys the workspace of sessionID.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	ws, ok := m.workspaces[sessionID]
	delete(m.workspaces, sessionID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("workspace %s: %w", sessionID, ErrNotFound)
	}
	ws.Close(ctx)
	m.refreshMetrics()
	return nil
}

// Len is the number of open workspaces.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces)
}

// Reap closes workspaces idle beyond the timeout and sweeps expired
// presence rows. It returns how many workspaces were closed.
func (m *Manager) Reap(ctx context.Context) int {
	cutoff := m.deps.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle, live []*Workspace
	for id, ws := range m.workspaces {
		if ws.LastAccess().Before(cutoff) {
			idle = append(idle, ws)
			delete(m.workspaces, id)
			continue
		}
		live = append(live, ws)
	}
	m.mu.Unlock()

	for _, ws := range idle {
		m.logger.InfoContext(ctx, "closing idle workspace", "tenant", ws.ID().Tenant, "session_id", ws.ID().SessionID)
		ws.Close(ctx)
	}
	for _, ws := range live {
		ws.SweepPresence(ctx)
	}
	m.refreshMetrics()
	return len(idle)
}

// Start runs Reap periodically until ctx is done or Shutdown is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if n := m.Reap(ctx); n > 0 {
					m.logger.InfoContext(ctx, "reaped idle workspaces", "count", n)
				}
			}
		}
	}()
}

// Shutdown stops the reaper and closes every workspace.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	running, stop, done := m.running, m.stop, m.done
	m.running = false
	all := make([]*Workspace, 0, len(m.workspaces))
	for id, ws := range m.workspaces {
		all = append(all, ws)
		delete(m.workspaces, id)
	}
	m.mu.Unlock()

	if running {
		close(stop)
		<-done
	}
	for _, ws := range all {
		ws.Close(ctx)
	}
	m.refreshMetrics()
}

func (m *Manager) refreshMetrics() {
	metrics := m.deps.Metrics
	if metrics == nil {
		return
	}

	m.mu.Lock()
	all := make([]*Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		all = append(all, ws)
	}
	m.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].ID().SessionID < all[j].ID().SessionID })

	listenerCount, loaded := 0, 0
	perTenant := make(map[string]map[presence.State]int)
	for _, ws := range all {
		stats := ws.Stats()
		listenerCount += stats.Listeners.Listeners
		loaded += len(stats.LoadedRanges)
		if _, seen := perTenant[stats.Tenant]; !seen {
			perTenant[stats.Tenant] = stats.Sessions
		}
	}

	metrics.SetWorkspaces(len(all))
	metrics.SetListeners(listenerCount)
	metrics.SetLoadedRanges(loaded)
	for tenant, counts := range perTenant {
		for _, state := range []presence.State{presence.StateActive, presence.StateIdle, presence.StateBackground} {
			metrics.SetSessions(tenant, string(state), counts[state])
		}
	}
}
