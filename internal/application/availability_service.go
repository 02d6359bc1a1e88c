package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/docstore"
	"github.com/example/staffplan/internal/events"
)

// AvailabilityRepository captures the reads needed by the service.
type AvailabilityRepository interface {
	GetCollaborator(ctx context.Context, tenant, id string) (availability.Collaborator, error)
	GetDispo(ctx context.Context, tenant, date, id string) (availability.Dispo, error)
	ListDispos(ctx context.Context, tenant string, start, end time.Time) ([]availability.Dispo, error)
}

// DispoWriter is the write side of the repository.
type DispoWriter interface {
	SaveDispo(ctx context.Context, tenant string, record availability.Dispo) error
	DeleteDispo(ctx context.Context, tenant, date, id string) error
}

// SaveStrategy persists availability records. It is chosen when the service
// is built.
type SaveStrategy interface {
	Save(ctx context.Context, tenant string, record availability.Dispo) error
	Delete(ctx context.Context, tenant, date, id string) error
}

type directSave struct {
	w DispoWriter
}

// DirectSave writes straight to w.
func DirectSave(w DispoWriter) SaveStrategy {
	return directSave{w: w}
}

func (d directSave) Save(ctx context.Context, tenant string, record availability.Dispo) error {
	return d.w.SaveDispo(ctx, tenant, record)
}

func (d directSave) Delete(ctx context.Context, tenant, date, id string) error {
	return d.w.DeleteDispo(ctx, tenant, date, id)
}

type retryingSave struct {
	inner SaveStrategy
	cfg   docstore.RetryConfig
}

// RetryingSave retries transient failures of inner with backoff.
func RetryingSave(inner SaveStrategy, cfg docstore.RetryConfig) SaveStrategy {
	return retryingSave{inner: inner, cfg: cfg}
}

func (r retryingSave) Save(ctx context.Context, tenant string, record availability.Dispo) error {
	return docstore.WithRetry(ctx, r.cfg, func(ctx context.Context) error {
		return r.inner.Save(ctx, tenant, record)
	})
}

func (r retryingSave) Delete(ctx context.Context, tenant, date, id string) error {
	return docstore.WithRetry(ctx, r.cfg, func(ctx context.Context) error {
		err := r.inner.Delete(ctx, tenant, date, id)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		return err
	})
}

// AvailabilityService validates, normalizes and persists availability
// records, and publishes every change on the bus.
type AvailabilityService struct {
	repo        AvailabilityRepository
	save        SaveStrategy
	bus         *events.Bus
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewAvailabilityService constructs the service. A nil idGenerator yields
// ULIDs.
func NewAvailabilityService(repo AvailabilityRepository, save SaveStrategy, bus *events.Bus, idGenerator func() string, now func() time.Time, logger *slog.Logger) *AvailabilityService {
	if idGenerator == nil {
		idGenerator = availability.NewRecordID
	}
	if now == nil {
		now = time.Now
	}
	return &AvailabilityService{
		repo:        repo,
		save:        save,
		bus:         bus,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *AvailabilityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AvailabilityService", operation, attrs...)
}

// Create stores a new record for input.CollaboratorID.
func (s *AvailabilityService) Create(ctx context.Context, tenant string, actor Actor, input DispoInput) (record availability.Dispo, err error) {
	logger := s.loggerWith(ctx, "Create", "tenant", tenant, "actor_id", actor.UserID, "collaborator_id", input.CollaboratorID, "date", input.Date)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create availability", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("record_id", record.ID, "kind", record.Kind).InfoContext(ctx, "availability created")
	}()

	var owner availability.Collaborator
	owner, err = s.collaborator(ctx, tenant, input.CollaboratorID)
	if err != nil {
		return
	}

	record, err = buildRecord(availability.Dispo{ID: s.idGenerator(), Tenant: tenant}, owner, input)
	if err != nil {
		return
	}
	record.Version = 1
	record.UpdatedBy = actor.UserID
	record.UpdatedAt = s.now().UTC()

	if err = s.save.Save(ctx, tenant, record); err != nil {
		return
	}
	events.Publish(s.bus, TopicAvailabilityChanged, AvailabilityChanged{Tenant: tenant, Record: record})
	return
}

// Update rewrites record id currently dated date. input.Version must equal
// the stored version. Moving a record to another month writes the new
// location before removing the old one, and publishes the removal first.
func (s *AvailabilityService) Update(ctx context.Context, tenant string, actor Actor, date, id string, input DispoInput) (record availability.Dispo, err error) {
	logger := s.loggerWith(ctx, "Update", "tenant", tenant, "actor_id", actor.UserID, "record_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update availability", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "availability updated", "version", record.Version, "kind", record.Kind)
	}()

	var existing availability.Dispo
	existing, err = s.repo.GetDispo(ctx, tenant, date, id)
	if err != nil {
		err = mapStoreError(err)
		return
	}
	if input.Version != existing.Version {
		err = fmt.Errorf("record %s at version %d, got %d: %w", id, existing.Version, input.Version, ErrConflict)
		return
	}
	if strings.TrimSpace(input.CollaboratorID) == "" {
		input.CollaboratorID = existing.CollaboratorID
	}
	if strings.TrimSpace(input.Date) == "" {
		input.Date = existing.Date
	}

	var owner availability.Collaborator
	owner, err = s.collaborator(ctx, tenant, input.CollaboratorID)
	if err != nil {
		return
	}

	record, err = buildRecord(availability.Dispo{ID: existing.ID, Tenant: tenant}, owner, input)
	if err != nil {
		return
	}
	record.Version = existing.Version + 1
	record.UpdatedBy = actor.UserID
	record.UpdatedAt = s.now().UTC()

	if err = s.save.Save(ctx, tenant, record); err != nil {
		return
	}
	if record.Month() != existing.Month() {
		if err = s.save.Delete(ctx, tenant, existing.Date, existing.ID); err != nil {
			return
		}
		events.Publish(s.bus, TopicAvailabilityChanged, AvailabilityChanged{Tenant: tenant, Record: existing, Deleted: true})
	}
	events.Publish(s.bus, TopicAvailabilityChanged, AvailabilityChanged{Tenant: tenant, Record: record})
	return
}

// Delete removes record id dated date.
func (s *AvailabilityService) Delete(ctx context.Context, tenant string, actor Actor, date, id string) (err error) {
	logger := s.loggerWith(ctx, "Delete", "tenant", tenant, "actor_id", actor.UserID, "record_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete availability", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "availability deleted")
	}()

	var existing availability.Dispo
	existing, err = s.repo.GetDispo(ctx, tenant, date, id)
	if err != nil {
		err = mapStoreError(err)
		return
	}
	if err = s.save.Delete(ctx, tenant, existing.Date, existing.ID); err != nil {
		return
	}
	events.Publish(s.bus, TopicAvailabilityChanged, AvailabilityChanged{Tenant: tenant, Record: existing, Deleted: true})
	return
}

// List returns the records dated within [start, end].
func (s *AvailabilityService) List(ctx context.Context, tenant string, start, end time.Time) ([]availability.Dispo, error) {
	if end.Before(start) {
		return nil, &ValidationError{FieldErrors: map[string]string{"end": "end must not precede start"}}
	}
	return s.repo.ListDispos(ctx, tenant, start, end)
}

func (s *AvailabilityService) collaborator(ctx context.Context, tenant, id string) (availability.Collaborator, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return availability.Collaborator{}, &ValidationError{FieldErrors: map[string]string{"collaboratorId": "collaboratorId is required"}}
	}
	c, err := s.repo.GetCollaborator(ctx, tenant, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return availability.Collaborator{}, &ValidationError{FieldErrors: map[string]string{"collaboratorId": "unknown collaborator"}}
	}
	return c, err
}

// buildRecord copies input onto base with owner's identity and derives the
// canonical kind and time.
func buildRecord(base availability.Dispo, owner availability.Collaborator, input DispoInput) (availability.Dispo, error) {
	base.CollaboratorID = owner.ID
	base.Nom = owner.Nom
	base.Prenom = owner.Prenom
	base.Email = owner.Email
	base.Metier = owner.Metier
	base.Date = strings.TrimSpace(input.Date)
	base.Lieu = strings.TrimSpace(input.Lieu)
	base.Statut = strings.TrimSpace(input.Statut)
	base.Type = strings.TrimSpace(input.Type)
	base.HeureDebut = input.HeureDebut
	base.HeureFin = input.HeureFin
	base.Slots = append([]string(nil), input.Slots...)
	base.Overnight = input.Overnight

	record, err := availability.Normalize(base)
	if err != nil {
		vErr := &ValidationError{}
		vErr.add(recordField(err), err.Error())
		return availability.Dispo{}, vErr
	}
	return record, nil
}

func recordField(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "date"):
		return "date"
	case strings.Contains(msg, "status"):
		return "statut"
	case strings.Contains(msg, "slot"):
		return "slots"
	}
	return "time"
}
