package availability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidRecord wraps every normalization failure.
var ErrInvalidRecord = errors.New("invalid availability record")

// Place tokens, compared against the canonical place.
var (
	unavailableTokens = map[string]bool{
		"INDISPONIBLE": true,
		"INDISPO":      true,
		"ABSENT":       true,
		"CONGE":        true,
		"CONGES":       true,
		"MALADIE":      true,
	}
	availableAllDayTokens = map[string]bool{
		"DISPO JOURNEE": true,
		"DISPONIBLE":    true,
		"DISPO":         true,
		"JOURNEE":       true,
	}
)

// statusAliases maps legacy and UI status names onto kinds.
var statusAliases = map[string]Kind{
	"mission":      KindMission,
	"formation":    KindMission,
	"disponible":   KindDisponible,
	"indisponible": KindIndisponible,
	"maintenance":  KindIndisponible,
	"absence":      KindIndisponible,
}

// CanonicalPlace trims, collapses spaces, uppercases and strips diacritics.
func CanonicalPlace(place string) string {
	return strings.ToUpper(Fold(place))
}

// CanonicalStatus resolves a raw or UI status through the alias table.
func CanonicalStatus(status string) (Kind, bool) {
	kind, ok := statusAliases[Fold(status)]
	return kind, ok
}

// PlaceToken reports the kind forced by a status-like place, if any.
func PlaceToken(place string) (Kind, bool) {
	canonical := CanonicalPlace(place)
	switch {
	case unavailableTokens[canonical]:
		return KindIndisponible, true
	case availableAllDayTokens[canonical]:
		return KindDisponible, true
	}
	return "", false
}

// Normalize derives Kind and Time from the raw fields and returns the
// canonical record:
//   - a type naming a known status decides the kind outright;
//   - a place token forces its kind and clears every time field;
//   - an explicit status resolves through the alias table;
//   - any other non-empty place is a mission;
//   - an empty record is disponible.
//
// Explicit hours win over slots. An end before the start is only accepted
// when the record is flagged overnight.
func Normalize(d Dispo) (Dispo, error) {
	if _, err := time.Parse("2006-01-02", d.Date); err != nil {
		return d, fmt.Errorf("%w: date %q", ErrInvalidRecord, d.Date)
	}

	kind, forced := PlaceToken(d.Lieu)
	if !forced {
		switch {
		case strings.TrimSpace(d.Statut) != "":
			status, ok := CanonicalStatus(d.Statut)
			if !ok {
				return d, fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, d.Statut)
			}
			kind = status
		case CanonicalPlace(d.Lieu) != "":
			kind = KindMission
		default:
			kind = KindDisponible
		}
	}
	if typed, ok := CanonicalStatus(d.Type); ok {
		kind = typed
	}
	d.Kind = kind

	if forced {
		d.HeureDebut, d.HeureFin, d.Slots, d.Overnight = "", "", nil, false
		d.Time = TimeRepr{Mode: TimeFullDay}
		return d, nil
	}

	repr, err := resolveTime(d.HeureDebut, d.HeureFin, d.Slots, d.Overnight)
	if err != nil {
		return d, err
	}
	d.Time = repr
	d.HeureDebut, d.HeureFin = repr.Start, repr.End
	d.Slots = repr.Slots
	d.Overnight = repr.Overnight
	return d, nil
}

func resolveTime(start, end string, slots []string, overnight bool) (TimeRepr, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)

	if start != "" || end != "" {
		if start == "" || end == "" {
			return TimeRepr{}, fmt.Errorf("%w: incomplete time range %q-%q", ErrInvalidRecord, start, end)
		}
		startMin, err := parseClock(start)
		if err != nil {
			return TimeRepr{}, err
		}
		endMin, err := parseClock(end)
		if err != nil {
			return TimeRepr{}, err
		}
		switch {
		case endMin == startMin:
			return TimeRepr{}, fmt.Errorf("%w: empty time range %s-%s", ErrInvalidRecord, start, end)
		case endMin < startMin && !overnight:
			return TimeRepr{}, fmt.Errorf("%w: range %s-%s ends before it starts", ErrInvalidRecord, start, end)
		case endMin > startMin:
			overnight = false
		}
		return TimeRepr{Mode: TimeRange, Start: formatClock(startMin), End: formatClock(endMin), Overnight: overnight}, nil
	}

	if len(slots) > 0 {
		canonical, err := canonicalSlots(slots)
		if err != nil {
			return TimeRepr{}, err
		}
		return TimeRepr{Mode: TimeSlots, Slots: canonical}, nil
	}

	return TimeRepr{Mode: TimeFullDay}, nil
}

func canonicalSlots(slots []string) ([]string, error) {
	seen := make(map[string]bool, len(slots))
	out := make([]string, 0, len(slots))
	for _, slot := range slots {
		name := Fold(slot)
		if _, ok := slotOrder[name]; !ok {
			return nil, fmt.Errorf("%w: unknown slot %q", ErrInvalidRecord, slot)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return slotOrder[out[i]] < slotOrder[out[j]] })
	return out, nil
}

// parseClock parses HH:MM (also H:MM) into minutes after midnight.
func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidRecord, value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
