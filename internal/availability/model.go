// Package availability holds the planning data model: collaborators, their
// per-day availability records, and the rules deriving a record's kind and
// time representation from its raw fields.
package availability

import (
	"strings"
	"time"
)

// Kind is the derived classification of an availability record.
type Kind string

const (
	KindMission      Kind = "mission"
	KindDisponible   Kind = "disponible"
	KindIndisponible Kind = "indisponible"
)

// TimeMode selects which fields of TimeRepr are meaningful.
type TimeMode string

const (
	TimeFullDay TimeMode = "full_day"
	TimeRange   TimeMode = "range"
	TimeSlots   TimeMode = "slots"
)

// Named slots, in day order.
const (
	SlotMorning   = "morning"
	SlotMidday    = "midday"
	SlotAfternoon = "afternoon"
	SlotEvening   = "evening"
	SlotNight     = "night"
)

var slotOrder = map[string]int{
	SlotMorning:   0,
	SlotMidday:    1,
	SlotAfternoon: 2,
	SlotEvening:   3,
	SlotNight:     4,
}

// TimeRepr is the canonical time of a record. A range never carries slots
// and a slot set never carries hours.
type TimeRepr struct {
	Mode      TimeMode `json:"mode"`
	Start     string   `json:"start,omitempty"`
	End       string   `json:"end,omitempty"`
	Slots     []string `json:"slots,omitempty"`
	Overnight bool     `json:"overnight,omitempty"`
}

// Collaborator is a staff member who can be planned.
type Collaborator struct {
	ID        string    `json:"id"`
	Nom       string    `json:"nom"`
	Prenom    string    `json:"prenom"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Metier    string    `json:"metier,omitempty"`
	Actif     bool      `json:"actif"`
	Color     string    `json:"color,omitempty"`
	Version   int64     `json:"version"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// FullName is "Prenom Nom".
func (c Collaborator) FullName() string {
	return strings.TrimSpace(c.Prenom + " " + c.Nom)
}

// Dispo is one availability record of a collaborator for one day. The
// identity fields are denormalised so records can be linked back to a
// collaborator when CollaboratorID is missing.
type Dispo struct {
	ID             string    `json:"id"`
	Tenant         string    `json:"tenant,omitempty"`
	CollaboratorID string    `json:"collaboratorId,omitempty"`
	Nom            string    `json:"nom,omitempty"`
	Prenom         string    `json:"prenom,omitempty"`
	Email          string    `json:"email,omitempty"`
	Metier         string    `json:"metier,omitempty"`
	Date           string    `json:"date"`
	Lieu           string    `json:"lieu,omitempty"`
	Statut         string    `json:"statut,omitempty"`
	Type           string    `json:"type,omitempty"`
	HeureDebut     string    `json:"heure_debut,omitempty"`
	HeureFin       string    `json:"heure_fin,omitempty"`
	Slots          []string  `json:"slots,omitempty"`
	Overnight      bool      `json:"isOvernight,omitempty"`
	Kind           Kind      `json:"kind,omitempty"`
	Time           TimeRepr  `json:"time"`
	Version        int64     `json:"version"`
	UpdatedBy      string    `json:"updatedBy,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Month is the YYYY-MM bucket of the record's date.
func (d Dispo) Month() string {
	return MonthOf(d.Date)
}

// CellID is the planning-grid cell the record belongs to.
func (d Dispo) CellID() string {
	return CellID(d.CollaboratorID, d.Date)
}

// MonthOf returns the YYYY-MM prefix of an ISO date.
func MonthOf(date string) string {
	if len(date) < 7 {
		return ""
	}
	return date[:7]
}

// CellID joins a collaborator id and an ISO date.
func CellID(collaboratorID, date string) string {
	return collaboratorID + "_" + date
}

// ParseCellID splits a cell id built by CellID.
func ParseCellID(cellID string) (collaboratorID, date string, ok bool) {
	const dateLen = len("2006-01-02")
	if len(cellID) < dateLen+2 || cellID[len(cellID)-dateLen-1] != '_' {
		return "", "", false
	}
	return cellID[:len(cellID)-dateLen-1], cellID[len(cellID)-dateLen:], true
}
