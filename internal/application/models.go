package application

import (
	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/events"
)

// Actor identifies the user performing a write. It fills the audit fields.
type Actor struct {
	UserID string
}

// CollaboratorInput carries the editable collaborator fields.
type CollaboratorInput struct {
	ID     string `json:"id"`
	Nom    string `json:"nom"`
	Prenom string `json:"prenom"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Metier string `json:"metier"`
	Color  string `json:"color"`
	// Version is the caller's view; it must match the stored version on update.
	Version int64 `json:"version"`
}

// DispoInput carries the raw fields of an availability record as entered in
// the planning grid. Kind and Time are derived on save.
type DispoInput struct {
	CollaboratorID string   `json:"collaboratorId"`
	Date           string   `json:"date"`
	Lieu           string   `json:"lieu"`
	Statut         string   `json:"statut"`
	Type           string   `json:"type"`
	HeureDebut     string   `json:"heure_debut"`
	HeureFin       string   `json:"heure_fin"`
	Slots          []string `json:"slots"`
	Overnight      bool     `json:"isOvernight"`
	Version        int64    `json:"version"`
}

// AvailabilityChanged is published after a record is written or deleted.
// Deleted events carry the record as it was before removal.
type AvailabilityChanged struct {
	Tenant  string
	Record  availability.Dispo
	Deleted bool
}

// CollaboratorChanged is published after a collaborator is written.
type CollaboratorChanged struct {
	Tenant       string
	Collaborator availability.Collaborator
}

var (
	TopicAvailabilityChanged = events.NewTopic[AvailabilityChanged]("availability.changed")
	TopicCollaboratorChanged = events.NewTopic[CollaboratorChanged]("collaborator.changed")
)
