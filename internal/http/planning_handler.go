package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/staffplan/internal/application"
	"github.com/example/staffplan/internal/availability"
	"github.com/example/staffplan/internal/ranges"
)

const userIDHeader = "X-User-ID"

type collaboratorService interface {
	Create(ctx context.Context, tenant string, actor application.Actor, input application.CollaboratorInput) (availability.Collaborator, error)
	Update(ctx context.Context, tenant string, actor application.Actor, id string, input application.CollaboratorInput) (availability.Collaborator, error)
	Deactivate(ctx context.Context, tenant string, actor application.Actor, id string) (availability.Collaborator, error)
	List(ctx context.Context, tenant string, includeInactive bool) ([]availability.Collaborator, error)
}

type availabilityService interface {
	Create(ctx context.Context, tenant string, actor application.Actor, input application.DispoInput) (availability.Dispo, error)
	Update(ctx context.Context, tenant string, actor application.Actor, date, id string, input application.DispoInput) (availability.Dispo, error)
	Delete(ctx context.Context, tenant string, actor application.Actor, date, id string) error
	List(ctx context.Context, tenant string, start, end time.Time) ([]availability.Dispo, error)
}

// PlanningHandler serves the tenant's collaborators and availability
// records, outside of any workspace.
type PlanningHandler struct {
	collaborators  collaboratorService
	availabilities availabilityService
	responder      responder
	logger         *slog.Logger
}

func NewPlanningHandler(collaborators collaboratorService, availabilities availabilityService, logger *slog.Logger) *PlanningHandler {
	base := defaultLogger(logger)
	return &PlanningHandler{
		collaborators:  collaborators,
		availabilities: availabilities,
		responder:      newResponder(base),
		logger:         base,
	}
}

func (h *PlanningHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "PlanningHandler", operation, attrs...)
}

func actorFrom(r *http.Request) application.Actor {
	return application.Actor{UserID: strings.TrimSpace(r.Header.Get(userIDHeader))}
}

func (h *PlanningHandler) decode(w http.ResponseWriter, r *http.Request, operation string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log(r.Context(), operation, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode request body", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return false
	}
	return true
}

func (h *PlanningHandler) ListCollaborators(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.collaborators == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tenant := chi.URLParam(r, "tenant")
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	list, err := h.collaborators.List(r.Context(), tenant, includeInactive)
	if err != nil {
		h.log(r.Context(), "ListCollaborators", "tenant", tenant).ErrorContext(r.Context(), "collaborator list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, collaboratorsResponse{Collaborators: list, Count: len(list)})
}

func (h *PlanningHandler) CreateCollaborator(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.collaborators == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tenant, actor := chi.URLParam(r, "tenant"), actorFrom(r)
	var input application.CollaboratorInput
	if !h.decode(w, r, "CreateCollaborator", &input) {
		return
	}

	logger := h.log(r.Context(), "CreateCollaborator", "tenant", tenant, "actor_id", actor.UserID)
	c, err := h.collaborators.Create(r.Context(), tenant, actor, input)
	if err != nil {
		logger.ErrorContext(r.Context(), "collaborator creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("collaborator_id", c.ID).InfoContext(r.Context(), "collaborator created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, c)
}

func (h *PlanningHandler) UpdateCollaborator(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.collaborators == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tenant, id, actor := chi.URLParam(r, "tenant"), chi.URLParam(r, "id"), actorFrom(r)
	var input application.CollaboratorInput
	if !h.decode(w, r, "UpdateCollaborator", &input) {
		return
	}

	logger := h.log(r.Context(), "UpdateCollaborator", "tenant", tenant, "collaborator_id", id, "actor_id", actor.UserID)
	c, err := h.collaborators.Update(r.Context(), tenant, actor, id, input)
	if err != nil {
		logger.ErrorContext(r.Context(), "collaborator update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "collaborator updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, c)
}

func (h *PlanningHandler) DeactivateCollaborator(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.collaborators == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tenant, id, actor := chi.URLParam(r, "tenant"), chi.URLParam(r, "id"), actorFrom(r)
	logger := h.log(r.Context(), "DeactivateCollaborator", "tenant", tenant, "collaborator_id", id, "actor_id", actor.UserID)
	c, err := h.collaborators.Deactivate(r.Context(), tenant, actor, id)
	if err != nil {
		logger.ErrorContext(r.Context(), "collaborator deactivation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "collaborator deactivated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, c)
}

func (h *PlanningHandler) ListAvailabilities(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.availabilities == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tenant := chi.URLParam(r, "tenant")
	query := r.URL.Query()
	start, errStart := ranges.ParseDay(query.Get("from"))
	end, errEnd := ranges.ParseDay(query.Get("to"))
	if errStart != nil || errEnd != nil {
		h.log(r.Context(), "ListAvailabilities", "tenant", tenant, "error_kind", "bad_request").ErrorContext(r.Context(), "invalid availability range", "from", query.Get("from"), "to", query.Get("to"))
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDate)
		return
	}

	list, err := h.availabilities.List(r.Context(), tenant, start, end)
	if err != nil {
		h.log(r.Context(), "ListAvailabilities", "tenant", tenant).ErrorContext(r.Context(), "availability list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, availabilitiesResponse{Availabilities: list, Count: len(list)})
}

func (h *PlanningHandler) CreateAvailability(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.availabilities == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tenant, actor := chi.URLParam(r, "tenant"), actorFrom(r)
	var input application.DispoInput
	if !h.decode(w, r, "CreateAvailability", &input) {
		return
	}

	logger := h.log(r.Context(), "CreateAvailability", "tenant", tenant, "actor_id", actor.UserID)
	record, err := h.availabilities.Create(r.Context(), tenant, actor, input)
	if err != nil {
		logger.ErrorContext(r.Context(), "availability creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("record_id", record.ID).InfoContext(r.Context(), "availability created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, record)
}

func (h *PlanningHandler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.availabilities == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tenant, date, id, actor := chi.URLParam(r, "tenant"), chi.URLParam(r, "date"), chi.URLParam(r, "id"), actorFrom(r)
	var input application.DispoInput
	if !h.decode(w, r, "UpdateAvailability", &input) {
		return
	}

	logger := h.log(r.Context(), "UpdateAvailability", "tenant", tenant, "date", date, "record_id", id, "actor_id", actor.UserID)
	record, err := h.availabilities.Update(r.Context(), tenant, actor, date, id, input)
	if err != nil {
		logger.ErrorContext(r.Context(), "availability update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "availability updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, record)
}

func (h *PlanningHandler) DeleteAvailability(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.availabilities == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tenant, date, id, actor := chi.URLParam(r, "tenant"), chi.URLParam(r, "date"), chi.URLParam(r, "id"), actorFrom(r)
	logger := h.log(r.Context(), "DeleteAvailability", "tenant", tenant, "date", date, "record_id", id, "actor_id", actor.UserID)
	if err := h.availabilities.Delete(r.Context(), tenant, actor, date, id); err != nil {
		logger.ErrorContext(r.Context(), "availability delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "availability deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type collaboratorsResponse struct {
	Collaborators []availability.Collaborator `json:"collaborators"`
	Count         int                         `json:"count"`
}

type availabilitiesResponse struct {
	Availabilities []availability.Dispo `json:"availabilities"`
	Count          int                  `json:"count"`
}
