package testfixtures

import (
	"context"
	"testing"
	"time"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/docstore"
)

func TestFixturesAreUniqueAndValid(t *testing.T) {
	first, second := NewCollaborator(), NewCollaborator()
	if first.ID == second.ID || first.Email == second.Email {
		t.Fatalf("expected unique collaborators, got %+v and %+v", first, second)
	}

	record := NewDispo(first, ReferenceDate(), Mission("ADV", "08:00", "16:00"))
	normalized, err := availability.Normalize(record)
	if err != nil {
		t.Fatalf("expected valid fixture record, got %v", err)
	}
	if normalized.Kind != availability.KindMission {
		t.Fatalf("expected mission, got %s", normalized.Kind)
	}

	unlinked := NewDispo(first, ReferenceDate(), NameOnly())
	if unlinked.CollaboratorID != "" || unlinked.Email != "" || unlinked.Nom != first.Nom {
		t.Fatalf("expected name-only identity, got %+v", unlinked)
	}
}

func TestSeedOnBothStores(t *testing.T) {
	clock := NewClock(time.Time{})
	collaborator := NewCollaborator()
	record := NewDispo(collaborator, ReferenceDate())

	for name, store := range map[string]docstore.Store{
		"memory": NewMemStore(t, clock),
		"sqlite": NewSQLiteStore(t, clock),
	} {
		Seed(t, store, "acme", []availability.Collaborator{collaborator}, []availability.Dispo{record})
		repo := availability.NewRepository(store)
		got, err := repo.ListDispos(context.Background(), "acme", clock.Day(), clock.Day())
		if err != nil {
			t.Fatalf("%s: ListDispos failed: %v", name, err)
		}
		if len(got) != 1 || got[0].ID != record.ID {
			t.Fatalf("%s: expected seeded record, got %+v", name, got)
		}
	}
}
