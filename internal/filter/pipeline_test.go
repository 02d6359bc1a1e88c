package filter

import (
	"reflect"
	"testing"
	"time"

	"github.com/example/staffplan/internal/availability"
)

func ids(records []availability.Dispo) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func collaboratorIDs(list []availability.Collaborator) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}

func TestMembershipFallbackChain(t *testing.T) {
	p := New(nil)
	collaborators := []availability.Collaborator{
		{ID: "c1", Nom: "Dùpont", Prenom: "Élodie", Email: "e@x.com"},
	}
	records := []availability.Dispo{
		{ID: "by-id", CollaboratorID: "c1", Date: "2025-09-15"},
		{ID: "by-email", Email: " E@X.com ", Date: "2025-09-15"},
		{ID: "by-name", Nom: "Dupont", Prenom: "Elodie", Date: "2025-09-15"},
		{ID: "stranger", Nom: "Martin", Prenom: "Paul", Email: "p@x.com", Date: "2025-09-15"},
		{ID: "unknown-id", CollaboratorID: "c9", Date: "2025-09-15"},
	}

	got := ids(p.Availabilities(State{}, records, collaborators))
	want := []string{"by-id", "by-email", "by-name"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNameOnlyRecordLinksWithoutAccents(t *testing.T) {
	p := New(nil)
	collaborators := []availability.Collaborator{{ID: "c1", Nom: "Dùpont", Prenom: "Élodie", Email: "e@x.com"}}
	record := availability.Dispo{ID: "r1", Nom: "Dupont", Prenom: "Elodie", Date: "2025-09-15"}

	got := p.Availabilities(State{}, []availability.Dispo{record}, collaborators)
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("expected record linked to c1, got %v", ids(got))
	}
}

func TestNumericSearchThreshold(t *testing.T) {
	p := New(nil)
	collaborators := []availability.Collaborator{
		{ID: "c1", Nom: "Durand", Prenom: "Anne", Phone: "01 22 33 44 55"},
		{ID: "c2", Nom: "Petit", Prenom: "Marc", Phone: "06 11 00 00 00"},
		{ID: "c3", Nom: "Roux", Prenom: "Lea"},
	}

	if got := p.Collaborators(State{Search: "11"}, collaborators); len(got) != 3 {
		t.Fatalf("expected two-digit query to leave the list unfiltered, got %v", collaboratorIDs(got))
	}
	got := p.Collaborators(State{Search: "122"}, collaborators)
	if !reflect.DeepEqual(collaboratorIDs(got), []string{"c1"}) {
		t.Fatalf("expected phone match on c1, got %v", collaboratorIDs(got))
	}
	got = p.Collaborators(State{Search: "06 11"}, collaborators)
	if !reflect.DeepEqual(collaboratorIDs(got), []string{"c2"}) {
		t.Fatalf("expected formatted phone query to match c2, got %v", collaboratorIDs(got))
	}
}

func TestSearchAndMetier(t *testing.T) {
	p := New(nil)
	collaborators := []availability.Collaborator{
		{ID: "c1", Nom: "Dùpont", Prenom: "Élodie", Email: "elodie@clinic.fr", Metier: "IDE"},
		{ID: "c2", Nom: "Martin", Prenom: "Paul", Email: "paul@clinic.fr", Metier: " ide "},
		{ID: "c3", Nom: "Roux", Prenom: "Lea", Email: "lea@clinic.fr", Metier: "AS"},
	}

	cases := []struct {
		state State
		want  []string
	}{
		{state: State{Search: "elodie dupont"}, want: []string{"c1"}},
		{state: State{Search: "DUPONT"}, want: []string{"c1"}},
		{state: State{Search: "paul@"}, want: []string{"c2"}},
		{state: State{Metier: "IDE"}, want: []string{"c1", "c2"}},
		{state: State{Search: "clinic", Metier: "as"}, want: []string{"c3"}},
		{state: State{}, want: []string{"c1", "c2", "c3"}},
	}
	for _, tc := range cases {
		if got := collaboratorIDs(p.Collaborators(tc.state, collaborators)); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("state %+v: expected %v, got %v", tc.state, tc.want, got)
		}
	}
}

func TestPlaceAndStatusAreGatedOnDateRange(t *testing.T) {
	p := New(nil)
	collaborators := []availability.Collaborator{{ID: "c1", Nom: "Roux", Prenom: "Lea"}}
	records := []availability.Dispo{
		{ID: "r1", CollaboratorID: "c1", Date: "2025-09-15", Lieu: "ADV"},
		{ID: "r2", CollaboratorID: "c1", Date: "2025-09-16", Lieu: "CONGES"},
		{ID: "r3", CollaboratorID: "c1", Date: "2025-09-17", Statut: "formation"},
	}

	baseline := ids(p.Availabilities(State{}, records, collaborators))
	for _, state := range []State{{Statut: "indisponible"}, {Lieu: "nowhere"}, {Statut: "mission", Lieu: "ADV"}} {
		if got := ids(p.Availabilities(state, records, collaborators)); !reflect.DeepEqual(got, baseline) {
			t.Fatalf("state %+v without dates changed the result: %v vs %v", state, got, baseline)
		}
	}

	ranged := State{DateFrom: "2025-09-01"}
	ranged.Statut = "indisponible"
	if got := ids(p.Availabilities(ranged, records, collaborators)); !reflect.DeepEqual(got, []string{"r2"}) {
		t.Fatalf("expected only the unavailable record, got %v", got)
	}
	ranged.Statut = "mission"
	if got := ids(p.Availabilities(ranged, records, collaborators)); !reflect.DeepEqual(got, []string{"r1", "r3"}) {
		t.Fatalf("expected mission and formation records, got %v", got)
	}
	ranged.Statut = ""
	ranged.Lieu = "ad"
	if got := ids(p.Availabilities(ranged, records, collaborators)); !reflect.DeepEqual(got, []string{"r1"}) {
		t.Fatalf("expected substring place match, got %v", got)
	}
}

func TestDateBoundsAreInclusive(t *testing.T) {
	p := New(nil)
	collaborators := []availability.Collaborator{{ID: "c1"}}
	records := []availability.Dispo{
		{ID: "before", CollaboratorID: "c1", Date: "2025-09-14"},
		{ID: "first", CollaboratorID: "c1", Date: "2025-09-15"},
		{ID: "last", CollaboratorID: "c1", Date: "2025-09-20"},
		{ID: "after", CollaboratorID: "c1", Date: "2025-09-21"},
	}
	got := ids(p.Availabilities(State{DateFrom: "2025-09-15", DateTo: "2025-09-20"}, records, collaborators))
	if !reflect.DeepEqual(got, []string{"first", "last"}) {
		t.Fatalf("expected inclusive bounds, got %v", got)
	}
}

func TestMalformedRecordsAreExcluded(t *testing.T) {
	p := New(nil)
	collaborators := []availability.Collaborator{{ID: "c1"}}
	records := []availability.Dispo{
		{ID: "ok", CollaboratorID: "c1", Date: "2025-09-15"},
		{ID: "reversed", CollaboratorID: "c1", Date: "2025-09-15", Lieu: "ADV", HeureDebut: "20:00", HeureFin: "08:00"},
		{ID: "no-date", CollaboratorID: "c1"},
	}
	if got := ids(p.Availabilities(State{}, records, collaborators)); !reflect.DeepEqual(got, []string{"ok"}) {
		t.Fatalf("expected malformed records dropped, got %v", got)
	}
}

func TestEndToEndScenario(t *testing.T) {
	var passes []string
	p := New(nil, WithObserver(func(pass string, _ time.Duration) { passes = append(passes, pass) }))

	collaborators := []availability.Collaborator{{ID: "c1", Nom: "DA COSTA LOBATO", Prenom: "Elbia", Metier: "AS"}}
	records := []availability.Dispo{{
		ID:             "r1",
		CollaboratorID: "c1",
		Date:           "2025-09-15",
		Lieu:           "ADV",
		HeureDebut:     "11:00",
		HeureFin:       "21:00",
		Type:           "standard",
	}}
	state := State{Metier: "AS", Lieu: "ADV", Statut: "mission", DateFrom: "2025-09-15", DateTo: "2025-09-15"}

	filtered := p.Collaborators(state, collaborators)
	got := p.Availabilities(state, records, filtered)
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("expected exactly r1, got %v", ids(got))
	}
	if got[0].Kind != availability.KindMission || got[0].Time.Mode != availability.TimeRange {
		t.Fatalf("expected derived mission range, got %+v", got[0])
	}
	if !reflect.DeepEqual(passes, []string{"collaborators", "availabilities"}) {
		t.Fatalf("expected both passes observed, got %v", passes)
	}
}
