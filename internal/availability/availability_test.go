package availability

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/example/staffplan/internal/docstore/memstore"
)

func TestNormalizeDerivesKindAndTime(t *testing.T) {
	cases := []struct {
		name string
		in   Dispo
		kind Kind
		time TimeRepr
	}{
		{
			name: "mission with hours",
			in:   Dispo{Date: "2025-09-15", Lieu: "ADV", HeureDebut: "11:00", HeureFin: "21:00", Type: "standard"},
			kind: KindMission,
			time: TimeRepr{Mode: TimeRange, Start: "11:00", End: "21:00"},
		},
		{
			name: "unavailable token clears times",
			in:   Dispo{Date: "2025-09-15", Lieu: "  congés ", HeureDebut: "08:00", HeureFin: "12:00", Slots: []string{"morning"}},
			kind: KindIndisponible,
			time: TimeRepr{Mode: TimeFullDay},
		},
		{
			name: "available all day token with diacritics",
			in:   Dispo{Date: "2025-09-15", Lieu: "dispo   journée"},
			kind: KindDisponible,
			time: TimeRepr{Mode: TimeFullDay},
		},
		{
			name: "empty record is disponible",
			in:   Dispo{Date: "2025-09-15"},
			kind: KindDisponible,
			time: TimeRepr{Mode: TimeFullDay},
		},
		{
			name: "legacy status alias",
			in:   Dispo{Date: "2025-09-15", Statut: "Maintenance"},
			kind: KindIndisponible,
			time: TimeRepr{Mode: TimeFullDay},
		},
		{
			name: "formation is a mission",
			in:   Dispo{Date: "2025-09-15", Statut: "formation", Slots: []string{"afternoon", "Morning", "morning"}},
			kind: KindMission,
			time: TimeRepr{Mode: TimeSlots, Slots: []string{"morning", "afternoon"}},
		},
		{
			name: "type token overrides place",
			in:   Dispo{Date: "2025-09-15", Lieu: "ADV", Type: "Indisponible", HeureDebut: "08:00", HeureFin: "12:00"},
			kind: KindIndisponible,
			time: TimeRepr{Mode: TimeRange, Start: "08:00", End: "12:00"},
		},
		{
			name: "type token wins over status",
			in:   Dispo{Date: "2025-09-15", Statut: "mission", Type: "disponible"},
			kind: KindDisponible,
			time: TimeRepr{Mode: TimeFullDay},
		},
		{
			name: "type token wins over place token",
			in:   Dispo{Date: "2025-09-15", Lieu: "CONGES", Type: "mission", HeureDebut: "08:00", HeureFin: "12:00"},
			kind: KindMission,
			time: TimeRepr{Mode: TimeFullDay},
		},
		{
			name: "unknown type falls back to status",
			in:   Dispo{Date: "2025-09-15", Statut: "absence", Type: "standard"},
			kind: KindIndisponible,
			time: TimeRepr{Mode: TimeFullDay},
		},
		{
			name: "hours win over slots",
			in:   Dispo{Date: "2025-09-15", Lieu: "ADV", HeureDebut: "9:00", HeureFin: "17:30", Slots: []string{"morning"}},
			kind: KindMission,
			time: TimeRepr{Mode: TimeRange, Start: "09:00", End: "17:30"},
		},
		{
			name: "declared overnight",
			in:   Dispo{Date: "2025-09-15", Lieu: "ADV", HeureDebut: "21:00", HeureFin: "07:00", Overnight: true},
			kind: KindMission,
			time: TimeRepr{Mode: TimeRange, Start: "21:00", End: "07:00", Overnight: true},
		},
		{
			name: "overnight flag dropped on forward range",
			in:   Dispo{Date: "2025-09-15", Lieu: "ADV", HeureDebut: "08:00", HeureFin: "12:00", Overnight: true},
			kind: KindMission,
			time: TimeRepr{Mode: TimeRange, Start: "08:00", End: "12:00"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.in)
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if got.Kind != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, got.Kind)
			}
			if !reflect.DeepEqual(got.Time, tc.time) {
				t.Fatalf("expected time %+v, got %+v", tc.time, got.Time)
			}
			if len(got.Time.Slots) > 0 && got.Time.Start != "" {
				t.Fatalf("record carries both slots and hours: %+v", got.Time)
			}
		})
	}
}

func TestNormalizeRejectsMalformedRecords(t *testing.T) {
	cases := map[string]Dispo{
		"bad date":          {Date: "15/09/2025"},
		"reversed range":    {Date: "2025-09-15", Lieu: "ADV", HeureDebut: "21:00", HeureFin: "07:00"},
		"half range":        {Date: "2025-09-15", HeureDebut: "08:00"},
		"bad clock":         {Date: "2025-09-15", HeureDebut: "8h", HeureFin: "12:00"},
		"unknown slot":      {Date: "2025-09-15", Slots: []string{"brunch"}},
		"unknown status":    {Date: "2025-09-15", Statut: "vacances"},
		"zero-length range": {Date: "2025-09-15", HeureDebut: "10:00", HeureFin: "10:00"},
	}
	for name, in := range cases {
		if _, err := Normalize(in); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("%s: expected ErrInvalidRecord, got %v", name, err)
		}
	}
}

func TestIdentityHelpers(t *testing.T) {
	if got := NameKey("Dùpont", " Élodie "); got != "dupont|elodie" {
		t.Fatalf("unexpected name key %q", got)
	}
	if NameKey("Dupont", "Elodie") != NameKey("DÙPONT", "élodie") {
		t.Fatalf("expected diacritic and case insensitive name keys")
	}
	if got := Slug("DA COSTA LOBATO", "Elbia"); got != "da-costa-lobato-elbia" {
		t.Fatalf("unexpected slug %q", got)
	}
	if got := Digits("+33 6 12-20"); got != "3361220" {
		t.Fatalf("unexpected digits %q", got)
	}
	if got := CanonicalPlace("  hôpital   nord "); got != "HOPITAL NORD" {
		t.Fatalf("unexpected canonical place %q", got)
	}

	collab, date, ok := ParseCellID(CellID("da_costa", "2025-09-15"))
	if !ok || collab != "da_costa" || date != "2025-09-15" {
		t.Fatalf("unexpected cell id parts %q %q %v", collab, date, ok)
	}
	if _, _, ok := ParseCellID("nodate"); ok {
		t.Fatalf("expected malformed cell id to be rejected")
	}
}

func TestIndexMergeDeduplicatesByID(t *testing.T) {
	index := NewIndex()
	added := index.Merge([]Dispo{
		{ID: "r2", Date: "2025-09-16", Version: 1},
		{ID: "r1", Date: "2025-09-15", Version: 2},
	})
	if added != 2 {
		t.Fatalf("expected 2 new records, got %d", added)
	}

	added = index.Merge([]Dispo{
		{ID: "r1", Date: "2025-09-15", Version: 1, Lieu: "stale"},
		{ID: "r2", Date: "2025-09-16", Version: 2, Lieu: "fresh"},
		{ID: "", Date: "2025-09-17"},
	})
	if added != 0 || index.Len() != 2 {
		t.Fatalf("expected no additions, got %d (len %d)", added, index.Len())
	}
	if r1, _ := index.Get("r1"); r1.Lieu == "stale" {
		t.Fatalf("expected older version to be ignored")
	}
	if r2, _ := index.Get("r2"); r2.Lieu != "fresh" {
		t.Fatalf("expected newer version to replace")
	}

	all := index.All()
	if all[0].ID != "r1" || all[1].ID != "r2" {
		t.Fatalf("expected date order, got %v", all)
	}
}

func TestIndexReplaceDropsMissingRecordsInSpan(t *testing.T) {
	index := NewIndex()
	index.Merge([]Dispo{
		{ID: "kept", Date: "2025-09-15", Version: 1},
		{ID: "deleted", Date: "2025-09-16", Version: 1},
		{ID: "outside", Date: "2025-10-01", Version: 1},
	})

	dropped := index.Replace("2025-09-01", "2025-09-30", []Dispo{
		{ID: "kept", Date: "2025-09-15", Version: 2},
		{ID: "new", Date: "2025-09-20", Version: 1},
	})
	if dropped != 1 {
		t.Fatalf("expected one dropped record, got %d", dropped)
	}
	if _, ok := index.Get("deleted"); ok {
		t.Fatalf("expected record missing from the snapshot to be dropped")
	}
	if _, ok := index.Get("outside"); !ok {
		t.Fatalf("expected record outside the span to be kept")
	}
	if kept, _ := index.Get("kept"); kept.Version != 2 {
		t.Fatalf("expected kept record refreshed, got version %d", kept.Version)
	}
	if index.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", index.Len())
	}
}

func TestLinkerTiers(t *testing.T) {
	linker := NewLinker([]Collaborator{
		{ID: "c1", Nom: "Dùpont", Prenom: "Élodie", Email: "e@x.com"},
		{ID: "c2", Nom: "Martin", Prenom: "Paul", Email: "E@X.com"},
	})

	cases := []struct {
		name   string
		record Dispo
		want   string
		ok     bool
	}{
		{name: "id", record: Dispo{CollaboratorID: "c2"}, want: "c2", ok: true},
		{name: "email of first duplicate", record: Dispo{Email: " e@x.com"}, want: "c1", ok: true},
		{name: "unknown id falls back to name", record: Dispo{CollaboratorID: "c9", Nom: "DUPONT", Prenom: "elodie"}, want: "c1", ok: true},
		{name: "stranger", record: Dispo{Nom: "Roux", Prenom: "Lea"}},
	}
	for _, tc := range cases {
		got, ok := linker.Resolve(tc.record)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: expected (%q, %v), got (%q, %v)", tc.name, tc.want, tc.ok, got, ok)
		}
	}
}

func TestMonths(t *testing.T) {
	start := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	want := []string{"2025-11", "2025-12", "2026-01"}
	if got := Months(start, end); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	defer store.Close()
	repo := NewRepository(store)

	record, err := Normalize(Dispo{
		ID:             NewRecordID(),
		CollaboratorID: "c1",
		Nom:            "DA COSTA LOBATO",
		Prenom:         "Elbia",
		Date:           "2025-09-15",
		Lieu:           "ADV",
		HeureDebut:     "11:00",
		HeureFin:       "21:00",
		Slots:          []string{"night"},
		Version:        1,
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if err := repo.SaveDispo(ctx, "acme", record); err != nil {
		t.Fatalf("SaveDispo failed: %v", err)
	}
	_ = repo.SaveDispo(ctx, "acme", Dispo{ID: "late", Date: "2025-10-02", Time: TimeRepr{Mode: TimeFullDay}})

	got, err := repo.ListDispos(ctx, "acme", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListDispos failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one record in September, got %d", len(got))
	}
	loaded := got[0]
	if loaded.ID != record.ID || loaded.Kind != KindMission || loaded.Time.Start != "11:00" || len(loaded.Slots) != 0 {
		t.Fatalf("unexpected round trip %+v", loaded)
	}
	if loaded.UpdatedAt.IsZero() || loaded.Tenant != "acme" {
		t.Fatalf("expected store timestamp and tenant, got %+v", loaded)
	}

	if err := repo.SaveCollaborator(ctx, "acme", Collaborator{ID: "c1", Nom: "Dupont", Actif: true}); err != nil {
		t.Fatalf("SaveCollaborator failed: %v", err)
	}
	_ = repo.SaveCollaborator(ctx, "acme", Collaborator{ID: "c2", Nom: "Martin", Actif: false})
	active, err := repo.ListCollaborators(ctx, "acme", true)
	if err != nil {
		t.Fatalf("ListCollaborators failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "c1" || active[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected active collaborators %+v", active)
	}
}
