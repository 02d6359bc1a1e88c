package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/example/staffplan/internal/availability"
)

func day(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestLabel(t *testing.T) {
	cases := []struct {
		name   string
		record availability.Dispo
		want   string
	}{
		{
			name:   "mission range",
			record: availability.Dispo{Kind: availability.KindMission, Lieu: "ADV", Time: availability.TimeRepr{Mode: availability.TimeRange, Start: "11:00", End: "21:00"}},
			want:   "ADV 11:00-21:00",
		},
		{
			name:   "overnight",
			record: availability.Dispo{Kind: availability.KindMission, Lieu: "SSR", Time: availability.TimeRepr{Mode: availability.TimeRange, Start: "20:00", End: "08:00", Overnight: true}},
			want:   "SSR 20:00-08:00+1",
		},
		{
			name:   "available slots",
			record: availability.Dispo{Kind: availability.KindDisponible, Time: availability.TimeRepr{Mode: availability.TimeSlots, Slots: []string{"morning", "evening"}}},
			want:   "DISPO (morning, evening)",
		},
		{
			name:   "unavailable",
			record: availability.Dispo{Kind: availability.KindIndisponible, Lieu: "CONGES", Time: availability.TimeRepr{Mode: availability.TimeFullDay}},
			want:   "INDISPO",
		},
	}
	for _, tc := range cases {
		if got := Label(tc.record); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestWriteProducesGrid(t *testing.T) {
	grid := Grid{
		Start: day("2025-09-15"),
		End:   day("2025-09-17"),
		Collaborators: []availability.Collaborator{
			{ID: "c1", Nom: "DA COSTA LOBATO", Prenom: "Elbia", Metier: "AS", Email: "elbia@clinic.fr"},
			{ID: "c2", Nom: "Roux", Prenom: "Lea", Metier: "IDE"},
		},
		Records: []availability.Dispo{
			{ID: "r1", CollaboratorID: "c1", Date: "2025-09-15", Kind: availability.KindMission, Lieu: "ADV", Time: availability.TimeRepr{Mode: availability.TimeRange, Start: "11:00", End: "21:00"}},
			{ID: "r2", Email: "ELBIA@clinic.fr", Date: "2025-09-17", Kind: availability.KindIndisponible, Time: availability.TimeRepr{Mode: availability.TimeFullDay}},
			{ID: "r3", Nom: "Roux", Prenom: "Léa", Date: "2025-09-16", Kind: availability.KindDisponible, Time: availability.TimeRepr{Mode: availability.TimeFullDay}},
			{ID: "stray", CollaboratorID: "c9", Date: "2025-09-16", Kind: availability.KindMission, Lieu: "ADV"},
		},
	}

	var buf bytes.Buffer
	if err := Write(&buf, grid); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and two rows, got %d", len(rows))
	}
	wantHeader := []string{"Collaborateur", "Métier", "2025-09-15", "2025-09-16", "2025-09-17"}
	for i, want := range wantHeader {
		if rows[0][i] != want {
			t.Fatalf("header[%d]: expected %q, got %q", i, want, rows[0][i])
		}
	}

	cell := func(name string) string {
		v, err := f.GetCellValue(SheetName, name)
		if err != nil {
			t.Fatalf("GetCellValue(%s) failed: %v", name, err)
		}
		return v
	}
	checks := map[string]string{
		"A2": "DA COSTA LOBATO Elbia",
		"C2": "ADV 11:00-21:00",
		"D2": "",
		"E2": "INDISPO",
		"A3": "Roux Lea",
		"D3": "DISPO",
	}
	for name, want := range checks {
		if got := cell(name); got != want {
			t.Fatalf("%s: expected %q, got %q", name, want, got)
		}
	}
}

func TestWriteRejectsEmptyRange(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Grid{Start: day("2025-09-17"), End: day("2025-09-15")}); err == nil {
		t.Fatalf("expected error for an inverted range")
	}
}
