package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/docstore"
	"github.com/example/staffplan/internal/docstore/memstore"
	"github.com/example/staffplan/internal/docstore/sqlstore"
)

// NewMemStore returns an in-memory store stamped by clock, closed on cleanup.
func NewMemStore(tb testing.TB, clock *Clock) *memstore.Store {
	tb.Helper()
	store := memstore.New(nil, memstore.WithClock(clock.NowFunc()))
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// NewSQLiteStore opens a migrated SQLite store in a temporary directory.
func NewSQLiteStore(tb testing.TB, clock *Clock) *sqlstore.Store {
	tb.Helper()
	cfg := sqlstore.DefaultConfig(filepath.Join(tb.TempDir(), "staffplan.db"))
	store, err := sqlstore.Open(context.Background(), cfg, sqlstore.WithClock(clock.NowFunc()))
	if err != nil {
		tb.Fatalf("failed to open sqlite store: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// Seed writes collaborators and records of tenant.
func Seed(tb testing.TB, store docstore.Store, tenant string, collaborators []availability.Collaborator, records []availability.Dispo) {
	tb.Helper()
	ctx := context.Background()
	repo := availability.NewRepository(store)
	for _, c := range collaborators {
		if err := repo.SaveCollaborator(ctx, tenant, c); err != nil {
			tb.Fatalf("seed collaborator %s: %v", c.ID, err)
		}
	}
	for _, d := range records {
		if err := repo.SaveDispo(ctx, tenant, d); err != nil {
			tb.Fatalf("seed record %s: %v", d.ID, err)
		}
	}
}
