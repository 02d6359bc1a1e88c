// Package export renders the filtered planning grid as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/ranges"
)

// SheetName is the name of the single worksheet.
const SheetName = "Planning"

// MaxDays bounds the number of date columns of one export.
const MaxDays = 366

// Grid is an already-filtered planning view.
type Grid struct {
	Start         time.Time
	End           time.Time
	Collaborators []availability.Collaborator
	Records       []availability.Dispo
}

// Dates lists the grid's days as YYYY-MM-DD.
func (g Grid) Dates() []string {
	start, end := ranges.Day(g.Start), ranges.Day(g.End)
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(ranges.DateLayout))
	}
	return out
}

// Cells groups records by collaborator id and date. Records that cannot be
// linked to a collaborator of the grid are skipped.
func (g Grid) Cells() map[string][]availability.Dispo {
	linker := availability.NewLinker(g.Collaborators)
	cells := make(map[string][]availability.Dispo)
	for _, record := range g.Records {
		id, ok := linker.Resolve(record)
		if !ok {
			continue
		}
		key := availability.CellID(id, record.Date)
		cells[key] = append(cells[key], record)
	}
	for key := range cells {
		list := cells[key]
		sort.SliceStable(list, func(i, j int) bool { return startOf(list[i]) < startOf(list[j]) })
	}
	return cells
}

// Label is the text shown in a grid cell for one record.
func Label(d availability.Dispo) string {
	var head string
	switch d.Kind {
	case availability.KindIndisponible:
		head = "INDISPO"
	case availability.KindDisponible:
		head = "DISPO"
	default:
		head = strings.TrimSpace(d.Lieu)
		if head == "" {
			head = "MISSION"
		}
	}

	switch d.Time.Mode {
	case availability.TimeRange:
		span := d.Time.Start + "-" + d.Time.End
		if d.Time.Overnight {
			span += "+1"
		}
		return head + " " + span
	case availability.TimeSlots:
		return head + " (" + strings.Join(d.Time.Slots, ", ") + ")"
	}
	return head
}

// Write renders g as an .xlsx workbook: one row per collaborator, one column
// per day.
func Write(w io.Writer, g Grid) error {
	dates := g.Dates()
	if len(dates) == 0 {
		return fmt.Errorf("export: empty date range")
	}
	if len(dates) > MaxDays {
		return fmt.Errorf("export: %d days exceeds the limit of %d", len(dates), MaxDays)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	styles, err := newStyles(f)
	if err != nil {
		return err
	}

	header := make([]any, 0, len(dates)+2)
	header = append(header, "Collaborateur", "Métier")
	for _, date := range dates {
		header = append(header, date)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, styles.header); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	cells := g.Cells()
	for i, c := range g.Collaborators {
		row := i + 2
		values := make([]any, 0, len(dates)+2)
		values = append(values, strings.TrimSpace(c.Nom+" "+c.Prenom), c.Metier)
		for _, date := range dates {
			records := cells[availability.CellID(c.ID, date)]
			labels := make([]string, len(records))
			for j, r := range records {
				labels[j] = Label(r)
			}
			values = append(values, strings.Join(labels, "\n"))
		}
		origin, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, origin, &values); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}

		for j, date := range dates {
			records := cells[availability.CellID(c.ID, date)]
			if len(records) == 0 {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+3, row)
			if err != nil {
				return err
			}
			if err := f.SetCellStyle(SheetName, cell, cell, styles.forKind(records[0].Kind)); err != nil {
				return fmt.Errorf("style %s: %w", cell, err)
			}
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "A", "A", 28); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "B", "B", 14); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "C", lastCol, 18); err != nil {
		return err
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		XSplit:      2,
		YSplit:      1,
		TopLeftCell: "C2",
		ActivePane:  "bottomRight",
	}); err != nil {
		return fmt.Errorf("freeze panes: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

type styleSet struct {
	header       int
	mission      int
	disponible   int
	indisponible int
}

func (s styleSet) forKind(kind availability.Kind) int {
	switch kind {
	case availability.KindDisponible:
		return s.disponible
	case availability.KindIndisponible:
		return s.indisponible
	}
	return s.mission
}

func newStyles(f *excelize.File) (styleSet, error) {
	var s styleSet
	var err error
	if s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9D9D9"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err != nil {
		return s, fmt.Errorf("header style: %w", err)
	}
	fills := []struct {
		target *int
		color  string
	}{
		{&s.mission, "#BDD7EE"},
		{&s.disponible, "#C6EFCE"},
		{&s.indisponible, "#F8CBAD"},
	}
	for _, fill := range fills {
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{fill.color}},
			Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
		})
		if err != nil {
			return s, fmt.Errorf("cell style: %w", err)
		}
		*fill.target = id
	}
	return s, nil
}

func startOf(d availability.Dispo) string {
	if d.Time.Mode == availability.TimeRange {
		return d.Time.Start
	}
	return ""
}
