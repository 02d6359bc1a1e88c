package application

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/docstore"
	"github.com/example/staffplan/internal/obs"
)

func scrapeMetrics(t *testing.T, m *obs.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestManagerOpenGetClose(t *testing.T) {
	h := newWorkspaceHarness(t)
	ctx := context.Background()
	metrics := obs.New()
	h.deps.Metrics = metrics
	m := NewManager(h.deps, ManagerConfig{Workspace: h.cfg})
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	ws, err := m.Open(ctx, "acme", "alice", "Alice")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, err := m.Get(ws.ID().SessionID)
	if err != nil || got != ws {
		t.Fatalf("expected to get the opened workspace, got %v (%v)", got, err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected one workspace, got %d", m.Len())
	}
	if body := scrapeMetrics(t, metrics); !strings.Contains(body, "staffplan_workspaces 1") {
		t.Fatalf("expected workspace gauge to be 1:\n%s", body)
	}

	if err := m.Close(ctx, ws.ID().SessionID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := m.Get(ws.ID().SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after close, got %v", err)
	}
	if err := m.Close(ctx, ws.ID().SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second close, got %v", err)
	}
	if body := scrapeMetrics(t, metrics); !strings.Contains(body, "staffplan_workspaces 0") {
		t.Fatalf("expected workspace gauge to be 0:\n%s", body)
	}
}

func TestManagerOpenValidates(t *testing.T) {
	h := newWorkspaceHarness(t)
	m := NewManager(h.deps, ManagerConfig{Workspace: h.cfg})

	var vErr *ValidationError
	if _, err := m.Open(context.Background(), "acme", "", ""); !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for a missing user, got %v", err)
	}
	if _, err := m.Open(context.Background(), "", "alice", ""); !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for a missing tenant, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected no workspace, got %d", m.Len())
	}
}

func TestManagerReapsIdleWorkspaces(t *testing.T) {
	h := newWorkspaceHarness(t)
	ctx := context.Background()
	m := NewManager(h.deps, ManagerConfig{Workspace: h.cfg, IdleTimeout: time.Minute})
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	idle, err := m.Open(ctx, "acme", "alice", "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	busy, err := m.Open(ctx, "acme", "bob", "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	h.clock.Advance(45 * time.Second)
	if _, err := m.Get(busy.ID().SessionID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	h.clock.Advance(30 * time.Second)

	if n := m.Reap(ctx); n != 1 {
		t.Fatalf("expected one workspace reaped, got %d", n)
	}
	if _, err := m.Get(idle.ID().SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected idle workspace to be gone, got %v", err)
	}
	if _, err := m.Get(busy.ID().SessionID); err != nil {
		t.Fatalf("expected busy workspace to survive, got %v", err)
	}
	if _, err := h.store.Get(ctx, availability.SessionPath("acme", idle.ID().SessionID)); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected idle session row to be removed, got %v", err)
	}
}

func TestManagerShutdownClosesEverything(t *testing.T) {
	h := newWorkspaceHarness(t)
	ctx := context.Background()
	m := NewManager(h.deps, ManagerConfig{Workspace: h.cfg, ReapInterval: 10 * time.Millisecond})
	m.Start(ctx)

	for _, user := range []string{"alice", "bob"} {
		if _, err := m.Open(ctx, "acme", user, ""); err != nil {
			t.Fatalf("Open failed: %v", err)
		}
	}
	m.Shutdown(ctx)
	if m.Len() != 0 {
		t.Fatalf("expected no workspace after shutdown, got %d", m.Len())
	}
	m.Shutdown(ctx)
}
