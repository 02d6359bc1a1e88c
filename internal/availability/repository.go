package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/example/staffplan/internal/docstore"
)

// Store paths of the tenant-scoped collections.
func CollaboratorsCollection(tenant string) string {
	return docstore.Join("tenants", tenant, "collaborators")
}

func CollaboratorPath(tenant, id string) string {
	return docstore.Join(CollaboratorsCollection(tenant), id)
}

func DisposCollection(tenant, month string) string {
	return docstore.Join("tenants", tenant, "dispos", month, "items")
}

func DispoPath(tenant, date, id string) string {
	return docstore.Join(DisposCollection(tenant, MonthOf(date)), id)
}

func SessionsCollection(tenant string) string {
	return docstore.Join("tenants", tenant, "sessions")
}

func SessionPath(tenant, sessionID string) string {
	return docstore.Join(SessionsCollection(tenant), sessionID)
}

func CellsCollection(tenant string) string {
	return docstore.Join("tenants", tenant, "cells")
}

func CellPath(tenant, cellID string) string {
	return docstore.Join(CellsCollection(tenant), cellID)
}

// NewRecordID returns a time-ordered record identifier.
func NewRecordID() string {
	return ulid.Make().String()
}

// Months lists the YYYY-MM buckets overlapping [start, end].
func Months(start, end time.Time) []string {
	var months []string
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(last) {
		months = append(months, cursor.Format("2006-01"))
		cursor = cursor.AddDate(0, 1, 0)
	}
	return months
}

// DisposQuery selects one month bucket restricted to [start, end].
func DisposQuery(tenant, month string, start, end time.Time) docstore.Query {
	return docstore.Query{
		Collection: DisposCollection(tenant, month),
		Filters: []docstore.Filter{
			docstore.Where("date", docstore.OpGte, start.Format("2006-01-02")),
			docstore.Where("date", docstore.OpLte, end.Format("2006-01-02")),
		},
		OrderBy: "date",
	}
}

// Repository reads and writes planning data in a docstore.
type Repository struct {
	store docstore.Store
}

// NewRepository wraps store.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// Store exposes the underlying document store.
func (r *Repository) Store() docstore.Store {
	return r.store
}

// ListDispos loads every record of tenant dated within [start, end].
func (r *Repository) ListDispos(ctx context.Context, tenant string, start, end time.Time) ([]Dispo, error) {
	var out []Dispo
	for _, month := range Months(start, end) {
		snapshot, err := r.store.Query(ctx, DisposQuery(tenant, month, start, end))
		if err != nil {
			return nil, fmt.Errorf("list dispos %s: %w", month, err)
		}
		out = append(out, DisposFromSnapshot(tenant, snapshot)...)
	}
	return out, nil
}

// GetDispo loads one record.
func (r *Repository) GetDispo(ctx context.Context, tenant, date, id string) (Dispo, error) {
	doc, err := r.store.Get(ctx, DispoPath(tenant, date, id))
	if err != nil {
		return Dispo{}, err
	}
	return DispoFromDocument(tenant, doc), nil
}

// SaveDispo writes record at its month bucket.
func (r *Repository) SaveDispo(ctx context.Context, tenant string, record Dispo) error {
	return r.store.Set(ctx, DispoPath(tenant, record.Date, record.ID), DispoData(record))
}

// DeleteDispo removes one record.
func (r *Repository) DeleteDispo(ctx context.Context, tenant, date, id string) error {
	return r.store.Remove(ctx, DispoPath(tenant, date, id))
}

// ListCollaborators loads the tenant's collaborators ordered by name.
func (r *Repository) ListCollaborators(ctx context.Context, tenant string, activeOnly bool) ([]Collaborator, error) {
	q := docstore.Query{Collection: CollaboratorsCollection(tenant), OrderBy: "nom"}
	if activeOnly {
		q.Filters = []docstore.Filter{docstore.Where("actif", docstore.OpNeq, false)}
	}
	snapshot, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	return CollaboratorsFromSnapshot(snapshot), nil
}

// GetCollaborator loads one collaborator.
func (r *Repository) GetCollaborator(ctx context.Context, tenant, id string) (Collaborator, error) {
	doc, err := r.store.Get(ctx, CollaboratorPath(tenant, id))
	if err != nil {
		return Collaborator{}, err
	}
	return CollaboratorFromDocument(doc), nil
}

// SaveCollaborator writes c.
func (r *Repository) SaveCollaborator(ctx context.Context, tenant string, c Collaborator) error {
	return r.store.Set(ctx, CollaboratorPath(tenant, c.ID), CollaboratorData(c))
}

// DispoData is the stored form of record. UpdatedAt is left to the store.
func DispoData(d Dispo) map[string]any {
	slots := make([]any, 0, len(d.Slots))
	for _, slot := range d.Slots {
		slots = append(slots, slot)
	}
	timeSlots := make([]any, 0, len(d.Time.Slots))
	for _, slot := range d.Time.Slots {
		timeSlots = append(timeSlots, slot)
	}
	return map[string]any{
		"collaboratorId": d.CollaboratorID,
		"nom":            d.Nom,
		"prenom":         d.Prenom,
		"email":          d.Email,
		"metier":         d.Metier,
		"date":           d.Date,
		"lieu":           d.Lieu,
		"statut":         d.Statut,
		"type":           d.Type,
		"heure_debut":    d.HeureDebut,
		"heure_fin":      d.HeureFin,
		"slots":          slots,
		"isOvernight":    d.Overnight,
		"kind":           string(d.Kind),
		"time": map[string]any{
			"mode":      string(d.Time.Mode),
			"start":     d.Time.Start,
			"end":       d.Time.End,
			"slots":     timeSlots,
			"overnight": d.Time.Overnight,
		},
		"version":   d.Version,
		"updatedBy": d.UpdatedBy,
		"updatedAt": docstore.ServerTimestamp,
	}
}

// DispoFromDocument decodes a stored record.
func DispoFromDocument(tenant string, doc docstore.Document) Dispo {
	data := doc.Data
	repr := docstore.Map(data, "time")
	return Dispo{
		ID:             doc.ID,
		Tenant:         tenant,
		CollaboratorID: docstore.String(data, "collaboratorId"),
		Nom:            docstore.String(data, "nom"),
		Prenom:         docstore.String(data, "prenom"),
		Email:          docstore.String(data, "email"),
		Metier:         docstore.String(data, "metier"),
		Date:           docstore.String(data, "date"),
		Lieu:           docstore.String(data, "lieu"),
		Statut:         docstore.String(data, "statut"),
		Type:           docstore.String(data, "type"),
		HeureDebut:     docstore.String(data, "heure_debut"),
		HeureFin:       docstore.String(data, "heure_fin"),
		Slots:          docstore.Strings(data, "slots"),
		Overnight:      docstore.Bool(data, "isOvernight"),
		Kind:           Kind(docstore.String(data, "kind")),
		Time: TimeRepr{
			Mode:      TimeMode(docstore.String(repr, "mode")),
			Start:     docstore.String(repr, "start"),
			End:       docstore.String(repr, "end"),
			Slots:     docstore.Strings(repr, "slots"),
			Overnight: docstore.Bool(repr, "overnight"),
		},
		Version:   docstore.Int64(data, "version"),
		UpdatedBy: docstore.String(data, "updatedBy"),
		UpdatedAt: millis(docstore.Int64(data, "updatedAt")),
	}
}

// DisposFromSnapshot decodes every record of a snapshot.
func DisposFromSnapshot(tenant string, snapshot docstore.Snapshot) []Dispo {
	out := make([]Dispo, 0, snapshot.Len())
	for _, doc := range snapshot.Docs {
		out = append(out, DispoFromDocument(tenant, doc))
	}
	return out
}

// CollaboratorData is the stored form of c.
func CollaboratorData(c Collaborator) map[string]any {
	data := map[string]any{
		"nom":       c.Nom,
		"prenom":    c.Prenom,
		"email":     c.Email,
		"phone":     c.Phone,
		"metier":    c.Metier,
		"actif":     c.Actif,
		"color":     c.Color,
		"version":   c.Version,
		"updatedBy": c.UpdatedBy,
		"updatedAt": docstore.ServerTimestamp,
	}
	if c.CreatedAt.IsZero() {
		data["createdAt"] = docstore.ServerTimestamp
	} else {
		data["createdAt"] = c.CreatedAt.UnixMilli()
	}
	return data
}

// CollaboratorFromDocument decodes a stored collaborator.
func CollaboratorFromDocument(doc docstore.Document) Collaborator {
	data := doc.Data
	actif := true
	if _, ok := data["actif"]; ok {
		actif = docstore.Bool(data, "actif")
	}
	return Collaborator{
		ID:        doc.ID,
		Nom:       docstore.String(data, "nom"),
		Prenom:    docstore.String(data, "prenom"),
		Email:     docstore.String(data, "email"),
		Phone:     docstore.String(data, "phone"),
		Metier:    docstore.String(data, "metier"),
		Actif:     actif,
		Color:     docstore.String(data, "color"),
		Version:   docstore.Int64(data, "version"),
		UpdatedBy: docstore.String(data, "updatedBy"),
		UpdatedAt: millis(docstore.Int64(data, "updatedAt")),
		CreatedAt: millis(docstore.Int64(data, "createdAt")),
	}
}

// CollaboratorsFromSnapshot decodes every collaborator of a snapshot.
func CollaboratorsFromSnapshot(snapshot docstore.Snapshot) []Collaborator {
	out := make([]Collaborator, 0, snapshot.Len())
	for _, doc := range snapshot.Docs {
		out = append(out, CollaboratorFromDocument(doc))
	}
	return out
}

func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
