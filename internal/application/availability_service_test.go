package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/docstore"
	"github.com/example/staffplan/internal/events"
	"github.com/example/staffplan/internal/testfixtures"
)

type availabilityHarness struct {
	svc       *AvailabilityService
	ids       *testfixtures.IDGenerator
	repo      *availability.Repository
	owner     availability.Collaborator
	mu        sync.Mutex
	published []AvailabilityChanged
}

func newAvailabilityHarness(t *testing.T) *availabilityHarness {
	t.Helper()
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())
	store := testfixtures.NewMemStore(t, clock)
	owner := testfixtures.NewCollaborator(testfixtures.WithName("DA COSTA LOBATO", "Elbia"), testfixtures.WithMetier("AS"))
	testfixtures.Seed(t, store, "acme", []availability.Collaborator{owner}, nil)

	bus := events.NewBus()
	repo := availability.NewRepository(store)
	ids := testfixtures.NewIDGenerator("rec")
	h := &availabilityHarness{
		svc:   NewAvailabilityService(repo, DirectSave(repo), bus, ids.NextFunc(), clock.NowFunc(), nil),
		ids:   ids,
		repo:  repo,
		owner: owner,
	}
	events.Subscribe(bus, TopicAvailabilityChanged, func(ev AvailabilityChanged) {
		h.mu.Lock()
		h.published = append(h.published, ev)
		h.mu.Unlock()
	})
	return h
}

func (h *availabilityHarness) events() []AvailabilityChanged {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]AvailabilityChanged(nil), h.published...)
}

func TestAvailabilityCreateNormalizesAndPublishes(t *testing.T) {
	h := newAvailabilityHarness(t)
	ctx := context.Background()

	record, err := h.svc.Create(ctx, "acme", Actor{UserID: "admin"}, DispoInput{
		CollaboratorID: h.owner.ID,
		Date:           "2025-09-15",
		Lieu:           "ADV",
		HeureDebut:     "11:00",
		HeureFin:       "21:00",
		Type:           "standard",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if record.ID != h.ids.Last() || record.Kind != availability.KindMission || record.Version != 1 {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.Time.Mode != availability.TimeRange || record.Time.Start != "11:00" || record.Time.End != "21:00" {
		t.Fatalf("unexpected time %+v", record.Time)
	}
	if record.Nom != "DA COSTA LOBATO" || record.Metier != "AS" {
		t.Fatalf("expected owner identity to be copied, got %+v", record)
	}

	stored, err := h.repo.GetDispo(ctx, "acme", "2025-09-15", record.ID)
	if err != nil {
		t.Fatalf("GetDispo failed: %v", err)
	}
	if stored.Kind != availability.KindMission || stored.UpdatedBy != "admin" {
		t.Fatalf("unexpected stored record %+v", stored)
	}

	published := h.events()
	if len(published) != 1 || published[0].Deleted || published[0].Record.ID != record.ID {
		t.Fatalf("expected one change event, got %+v", published)
	}
}

func TestAvailabilityCreateValidation(t *testing.T) {
	h := newAvailabilityHarness(t)

	cases := []struct {
		name  string
		input DispoInput
		field string
	}{
		{name: "no collaborator", input: DispoInput{Date: "2025-09-15"}, field: "collaboratorId"},
		{name: "unknown collaborator", input: DispoInput{CollaboratorID: "ghost", Date: "2025-09-15"}, field: "collaboratorId"},
		{name: "bad date", input: DispoInput{CollaboratorID: h.owner.ID, Date: "2025-13-01"}, field: "date"},
		{name: "reversed range", input: DispoInput{CollaboratorID: h.owner.ID, Date: "2025-09-15", HeureDebut: "21:00", HeureFin: "11:00"}, field: "time"},
		{name: "unknown status", input: DispoInput{CollaboratorID: h.owner.ID, Date: "2025-09-15", Statut: "vacances"}, field: "statut"},
		{name: "unknown slot", input: DispoInput{CollaboratorID: h.owner.ID, Date: "2025-09-15", Slots: []string{"brunch"}}, field: "slots"},
	}
	for _, tc := range cases {
		_, err := h.svc.Create(context.Background(), "acme", Actor{}, tc.input)
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if _, ok := vErr.FieldErrors[tc.field]; !ok {
			t.Fatalf("%s: expected field %q in %v", tc.name, tc.field, vErr.FieldErrors)
		}
	}
	if got := len(h.events()); got != 0 {
		t.Fatalf("expected no events for rejected writes, got %d", got)
	}
}

func TestAvailabilityUpdateMovesAcrossMonths(t *testing.T) {
	h := newAvailabilityHarness(t)
	ctx := context.Background()

	record, err := h.svc.Create(ctx, "acme", Actor{}, DispoInput{CollaboratorID: h.owner.ID, Date: "2025-09-30"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = h.svc.Update(ctx, "acme", Actor{}, record.Date, record.ID, DispoInput{Date: "2025-10-01", Version: 7})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	moved, err := h.svc.Update(ctx, "acme", Actor{UserID: "planner"}, record.Date, record.ID, DispoInput{Date: "2025-10-01", Lieu: "CONGES", Version: 1})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if moved.Version != 2 || moved.Kind != availability.KindIndisponible || moved.CollaboratorID != h.owner.ID {
		t.Fatalf("unexpected moved record %+v", moved)
	}
	if _, err := h.repo.GetDispo(ctx, "acme", "2025-09-30", record.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected old location to be removed, got %v", err)
	}
	if _, err := h.repo.GetDispo(ctx, "acme", "2025-10-01", record.ID); err != nil {
		t.Fatalf("expected record at new location: %v", err)
	}

	published := h.events()
	if len(published) != 3 {
		t.Fatalf("expected create, removal and move events, got %+v", published)
	}
	if removal := published[1]; !removal.Deleted || removal.Record.Date != "2025-09-30" {
		t.Fatalf("expected removal of the old location, got %+v", removal)
	}
	if move := published[2]; move.Deleted || move.Record.Date != "2025-10-01" {
		t.Fatalf("expected the moved record last, got %+v", move)
	}
}

func TestMovedRecordLeavesLoadedMonthWithoutListener(t *testing.T) {
	h := newWorkspaceHarness(t)
	ctx := context.Background()
	c := testfixtures.NewCollaborator()
	testfixtures.Seed(t, h.store, "acme", []availability.Collaborator{c}, nil)

	repo := availability.NewRepository(h.store)
	svc := NewAvailabilityService(repo, DirectSave(repo), h.bus, nil, h.clock.NowFunc(), nil)
	record, err := svc.Create(ctx, "acme", Actor{}, DispoInput{CollaboratorID: c.ID, Date: "2025-09-10"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ws := h.open(t, "planner")
	if err := ws.UpdateVisibleRange(ctx, day(t, "2025-09-01"), day(t, "2025-09-30"), 0, 10); err != nil {
		t.Fatalf("UpdateVisibleRange failed: %v", err)
	}
	// September stays loaded once the listener has moved on to October.
	if err := ws.UpdateVisibleRange(ctx, day(t, "2025-10-01"), day(t, "2025-10-07"), 0, 10); err != nil {
		t.Fatalf("UpdateVisibleRange failed: %v", err)
	}
	if !hasRecord(ws, record.ID) {
		t.Fatalf("expected september record to stay loaded")
	}

	if _, err := svc.Update(ctx, "acme", Actor{}, record.Date, record.ID, DispoInput{Date: "2025-12-01", Version: record.Version}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if hasRecord(ws, record.ID) {
		t.Fatalf("expected the old location to be dropped after a move to an unloaded month")
	}
}

func TestAvailabilityDelete(t *testing.T) {
	h := newAvailabilityHarness(t)
	ctx := context.Background()

	record, err := h.svc.Create(ctx, "acme", Actor{}, DispoInput{CollaboratorID: h.owner.ID, Date: "2025-09-15"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := h.svc.Delete(ctx, "acme", Actor{}, record.Date, record.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	published := h.events()
	if len(published) != 2 || !published[1].Deleted || published[1].Record.ID != record.ID {
		t.Fatalf("expected a delete event, got %+v", published)
	}

	list, err := h.svc.List(ctx, "acme", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC))
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no records left, got %d (%v)", len(list), err)
	}
	if err := h.svc.Delete(ctx, "acme", Actor{}, record.Date, record.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

type flakyStrategy struct {
	failures int
	saves    int
}

func (f *flakyStrategy) Save(ctx context.Context, tenant string, record availability.Dispo) error {
	f.saves++
	if f.saves <= f.failures {
		return errors.New("database is locked")
	}
	return nil
}

func (f *flakyStrategy) Delete(ctx context.Context, tenant, date, id string) error {
	return docstore.ErrNotFound
}

func TestRetryingSave(t *testing.T) {
	cfg := docstore.RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}

	inner := &flakyStrategy{failures: 2}
	strategy := RetryingSave(inner, cfg)
	if err := strategy.Save(context.Background(), "acme", availability.Dispo{ID: "r1"}); err != nil {
		t.Fatalf("expected transient failures to be retried, got %v", err)
	}
	if inner.saves != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.saves)
	}

	if err := strategy.Delete(context.Background(), "acme", "2025-09-15", "r1"); err != nil {
		t.Fatalf("expected deleting a missing record to succeed, got %v", err)
	}

	exhausted := &flakyStrategy{failures: 10}
	if err := RetryingSave(exhausted, cfg).Save(context.Background(), "acme", availability.Dispo{ID: "r1"}); err == nil {
		t.Fatalf("expected error once retries are exhausted")
	}
}
