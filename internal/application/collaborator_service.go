package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/docstore"
	"github.com/example/staffplan/internal/events"
)

// CollaboratorRepository captures the persistence operations needed by the service.
type CollaboratorRepository interface {
	GetCollaborator(ctx context.Context, tenant, id string) (availability.Collaborator, error)
	SaveCollaborator(ctx context.Context, tenant string, c availability.Collaborator) error
	ListCollaborators(ctx context.Context, tenant string, activeOnly bool) ([]availability.Collaborator, error)
}

// CollaboratorService validates and persists collaborators.
type CollaboratorService struct {
	repo   CollaboratorRepository
	bus    *events.Bus
	now    func() time.Time
	logger *slog.Logger
}

// NewCollaboratorService constructs a collaborator service. bus may be nil.
func NewCollaboratorService(repo CollaboratorRepository, bus *events.Bus, now func() time.Time, logger *slog.Logger) *CollaboratorService {
	if now == nil {
		now = time.Now
	}
	return &CollaboratorService{repo: repo, bus: bus, now: now, logger: defaultLogger(logger)}
}

func (s *CollaboratorService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CollaboratorService", operation, attrs...)
}

// Create persists a new active collaborator. Without an explicit id one is
// derived from the name.
func (s *CollaboratorService) Create(ctx context.Context, tenant string, actor Actor, input CollaboratorInput) (c availability.Collaborator, err error) {
	logger := s.loggerWith(ctx, "Create", "tenant", tenant, "actor_id", actor.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create collaborator", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("collaborator_id", c.ID).InfoContext(ctx, "collaborator created")
	}()

	if vErr := validateCollaboratorInput(input); vErr.HasErrors() {
		err = vErr
		return
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = availability.Slug(input.Nom, input.Prenom)
	}
	if id == "" {
		err = &ValidationError{FieldErrors: map[string]string{"id": "id cannot be derived from the name"}}
		return
	}

	_, err = s.repo.GetCollaborator(ctx, tenant, id)
	switch {
	case err == nil:
		err = fmt.Errorf("collaborator %s: %w", id, ErrAlreadyExists)
		return
	case !errors.Is(err, docstore.ErrNotFound):
		return
	}
	err = nil

	now := s.now().UTC()
	c = applyCollaboratorInput(availability.Collaborator{ID: id, Actif: true, CreatedAt: now}, input)
	c.Version = 1
	c.UpdatedAt = now
	c.UpdatedBy = actor.UserID

	if err = s.repo.SaveCollaborator(ctx, tenant, c); err != nil {
		return
	}
	events.Publish(s.bus, TopicCollaboratorChanged, CollaboratorChanged{Tenant: tenant, Collaborator: c})
	return
}

// Update overwrites the editable fields of collaborator id. input.Version
// must equal the stored version.
func (s *CollaboratorService) Update(ctx context.Context, tenant string, actor Actor, id string, input CollaboratorInput) (c availability.Collaborator, err error) {
	logger := s.loggerWith(ctx, "Update", "tenant", tenant, "actor_id", actor.UserID, "collaborator_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update collaborator", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "collaborator updated", "version", c.Version)
	}()

	if vErr := validateCollaboratorInput(input); vErr.HasErrors() {
		err = vErr
		return
	}

	var existing availability.Collaborator
	existing, err = s.repo.GetCollaborator(ctx, tenant, id)
	if err != nil {
		err = mapStoreError(err)
		return
	}
	if input.Version != existing.Version {
		err = fmt.Errorf("collaborator %s at version %d, got %d: %w", id, existing.Version, input.Version, ErrConflict)
		return
	}

	c = applyCollaboratorInput(existing, input)
	c.Version = existing.Version + 1
	c.UpdatedAt = s.now().UTC()
	c.UpdatedBy = actor.UserID

	if err = s.repo.SaveCollaborator(ctx, tenant, c); err != nil {
		return
	}
	events.Publish(s.bus, TopicCollaboratorChanged, CollaboratorChanged{Tenant: tenant, Collaborator: c})
	return
}

// Deactivate soft-deletes collaborator id. Their records stay in place.
func (s *CollaboratorService) Deactivate(ctx context.Context, tenant string, actor Actor, id string) (c availability.Collaborator, err error) {
	logger := s.loggerWith(ctx, "Deactivate", "tenant", tenant, "actor_id", actor.UserID, "collaborator_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to deactivate collaborator", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "collaborator deactivated")
	}()

	c, err = s.repo.GetCollaborator(ctx, tenant, id)
	if err != nil {
		err = mapStoreError(err)
		return
	}
	if !c.Actif {
		return
	}
	c.Actif = false
	c.Version++
	c.UpdatedAt = s.now().UTC()
	c.UpdatedBy = actor.UserID

	if err = s.repo.SaveCollaborator(ctx, tenant, c); err != nil {
		return
	}
	events.Publish(s.bus, TopicCollaboratorChanged, CollaboratorChanged{Tenant: tenant, Collaborator: c})
	return
}

// Get loads one collaborator.
func (s *CollaboratorService) Get(ctx context.Context, tenant, id string) (availability.Collaborator, error) {
	c, err := s.repo.GetCollaborator(ctx, tenant, id)
	if err != nil {
		return availability.Collaborator{}, mapStoreError(err)
	}
	return c, nil
}

// List returns the tenant's collaborators, active ones only unless
// includeInactive is set.
func (s *CollaboratorService) List(ctx context.Context, tenant string, includeInactive bool) ([]availability.Collaborator, error) {
	list, err := s.repo.ListCollaborators(ctx, tenant, !includeInactive)
	if err != nil {
		s.loggerWith(ctx, "List", "tenant", tenant).ErrorContext(ctx, "failed to list collaborators", "error", err)
		return nil, err
	}
	return list, nil
}

func validateCollaboratorInput(input CollaboratorInput) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(input.Nom) == "" {
		vErr.add("nom", "nom is required")
	}
	if strings.TrimSpace(input.Prenom) == "" {
		vErr.add("prenom", "prenom is required")
	}
	if email := strings.TrimSpace(input.Email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			vErr.add("email", "email is invalid")
		}
	}
	return vErr
}

func applyCollaboratorInput(c availability.Collaborator, input CollaboratorInput) availability.Collaborator {
	c.Nom = strings.TrimSpace(input.Nom)
	c.Prenom = strings.TrimSpace(input.Prenom)
	c.Email = strings.TrimSpace(input.Email)
	c.Phone = strings.TrimSpace(input.Phone)
	c.Metier = strings.TrimSpace(input.Metier)
	c.Color = strings.TrimSpace(input.Color)
	return c
}

func mapStoreError(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
