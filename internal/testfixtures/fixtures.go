package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/staffplan/internal/availability"
)

var (
	collaboratorCounter uint64
	dispoCounter        uint64
)

var referenceTime = time.Date(2025, time.September, 15, 8, 0, 0, 0, time.UTC)

// ReferenceTime is the baseline instant of fixtures: Monday 15 September
// 2025, 08:00 UTC.
func ReferenceTime() time.Time {
	return referenceTime
}

// ReferenceDate is ReferenceTime as YYYY-MM-DD.
func ReferenceDate() string {
	return referenceTime.Format("2006-01-02")
}

// CollaboratorOption customises NewCollaborator.
type CollaboratorOption func(*availability.Collaborator)

// NewCollaborator returns an active collaborator with unique id, name and
// email.
func NewCollaborator(opts ...CollaboratorOption) availability.Collaborator {
	idx := atomic.AddUint64(&collaboratorCounter, 1)
	created := referenceTime.Add(-time.Duration(idx) * time.Hour)
	c := availability.Collaborator{
		ID:        fmt.Sprintf("collab-%03d", idx),
		Nom:       fmt.Sprintf("Nom%03d", idx),
		Prenom:    fmt.Sprintf("Prenom%03d", idx),
		Email:     fmt.Sprintf("collab-%03d@clinic.test", idx),
		Phone:     fmt.Sprintf("06 00 00 %02d %02d", idx/100%100, idx%100),
		Metier:    "IDE",
		Actif:     true,
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithCollaboratorID overrides the id.
func WithCollaboratorID(id string) CollaboratorOption {
	return func(c *availability.Collaborator) { c.ID = id }
}

// WithName overrides nom and prenom.
func WithName(nom, prenom string) CollaboratorOption {
	return func(c *availability.Collaborator) {
		c.Nom = nom
		c.Prenom = prenom
	}
}

// WithEmail overrides the email.
func WithEmail(email string) CollaboratorOption {
	return func(c *availability.Collaborator) { c.Email = email }
}

// WithPhone overrides the phone number.
func WithPhone(phone string) CollaboratorOption {
	return func(c *availability.Collaborator) { c.Phone = phone }
}

// WithMetier overrides the job.
func WithMetier(metier string) CollaboratorOption {
	return func(c *availability.Collaborator) { c.Metier = metier }
}

// Inactive marks the collaborator soft-deleted.
func Inactive() CollaboratorOption {
	return func(c *availability.Collaborator) { c.Actif = false }
}

// DispoOption customises NewDispo.
type DispoOption func(*availability.Dispo)

// NewDispo returns a full-day availability of c on date.
func NewDispo(c availability.Collaborator, date string, opts ...DispoOption) availability.Dispo {
	idx := atomic.AddUint64(&dispoCounter, 1)
	d := availability.Dispo{
		ID:             fmt.Sprintf("dispo-%04d", idx),
		CollaboratorID: c.ID,
		Nom:            c.Nom,
		Prenom:         c.Prenom,
		Email:          c.Email,
		Metier:         c.Metier,
		Date:           date,
		Version:        1,
		UpdatedAt:      referenceTime,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithDispoID overrides the record id.
func WithDispoID(id string) DispoOption {
	return func(d *availability.Dispo) { d.ID = id }
}

// Mission places the record at lieu between start and end (HH:MM).
func Mission(lieu, start, end string) DispoOption {
	return func(d *availability.Dispo) {
		d.Lieu = lieu
		d.HeureDebut = start
		d.HeureFin = end
	}
}

// Overnight marks a range ending the next day.
func Overnight() DispoOption {
	return func(d *availability.Dispo) { d.Overnight = true }
}

// WithLieu sets the raw place.
func WithLieu(lieu string) DispoOption {
	return func(d *availability.Dispo) { d.Lieu = lieu }
}

// WithStatut sets the raw legacy status.
func WithStatut(statut string) DispoOption {
	return func(d *availability.Dispo) { d.Statut = statut }
}

// WithSlots sets named slots.
func WithSlots(slots ...string) DispoOption {
	return func(d *availability.Dispo) { d.Slots = append([]string(nil), slots...) }
}

// Unlinked clears the collaborator id so the record must be linked by email
// or name.
func Unlinked() DispoOption {
	return func(d *availability.Dispo) { d.CollaboratorID = "" }
}

// NameOnly keeps only nom and prenom as identity.
func NameOnly() DispoOption {
	return func(d *availability.Dispo) {
		d.CollaboratorID = ""
		d.Email = ""
	}
}
