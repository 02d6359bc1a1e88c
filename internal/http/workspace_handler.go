package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/staffplan/internal/application"
	"github.com/example/staffplan/internal/filter"
	"github.com/example/staffplan/internal/locks"
	"github.com/example/staffplan/internal/presence"
	"github.com/example/staffplan/internal/ranges"
)

const (
	presenceKeepAlive = 15 * time.Second
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type workspaceManager interface {
	Open(ctx context.Context, tenant, userID, displayName string) (*application.Workspace, error)
	Close(ctx context.Context, sessionID string) error
}

// WorkspaceHandler serves the per-tab workspace endpoints.
type WorkspaceHandler struct {
	manager   workspaceManager
	responder responder
	logger    *slog.Logger
	keepAlive time.Duration
}

func NewWorkspaceHandler(manager workspaceManager, logger *slog.Logger) *WorkspaceHandler {
	base := defaultLogger(logger)
	return &WorkspaceHandler{manager: manager, responder: newResponder(base), logger: base, keepAlive: presenceKeepAlive}
}

func (h *WorkspaceHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "WorkspaceHandler", operation, attrs...)
}

// workspace fetches the workspace stored by RequireWorkspace.
func (h *WorkspaceHandler) workspace(w http.ResponseWriter, r *http.Request, operation string) (*application.Workspace, bool) {
	ws, ok := WorkspaceFromContext(r.Context())
	if !ok {
		h.log(r.Context(), operation).ErrorContext(r.Context(), "workspace missing from context")
		h.responder.writeError(r.Context(), w, http.StatusInternalServerError, errMissingWorkspace)
		return nil, false
	}
	return ws, true
}

func (h *WorkspaceHandler) decode(w http.ResponseWriter, r *http.Request, operation string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log(r.Context(), operation, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode request body", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return false
	}
	return true
}

func (h *WorkspaceHandler) Open(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.manager == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tenant := strings.TrimSpace(chi.URLParam(r, "tenant"))
	var req openWorkspaceRequest
	if !h.decode(w, r, "Open", &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = strings.TrimSpace(r.Header.Get(userIDHeader))
	}

	logger := h.log(r.Context(), "Open", "tenant", tenant, "user_id", req.UserID)
	ws, err := h.manager.Open(r.Context(), tenant, req.UserID, req.DisplayName)
	if err != nil {
		logger.ErrorContext(r.Context(), "workspace open failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	id := ws.ID()
	logger.InfoContext(r.Context(), "workspace opened", "session_id", id.SessionID)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, workspaceResponse{
		SessionID: id.SessionID,
		Tenant:    id.Tenant,
		UserID:    id.UserID,
	})
}

func (h *WorkspaceHandler) Close(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Close")
	if !ok {
		return
	}

	sessionID := ws.ID().SessionID
	logger := h.log(r.Context(), "Close", "session_id", sessionID)
	if err := h.manager.Close(r.Context(), sessionID); err != nil {
		logger.ErrorContext(r.Context(), "workspace close failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "workspace closed")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *WorkspaceHandler) Activity(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Activity")
	if !ok {
		return
	}
	ws.MarkActivity(r.Context())
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *WorkspaceHandler) Visibility(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Visibility")
	if !ok {
		return
	}
	var req visibilityRequest
	if !h.decode(w, r, "Visibility", &req) {
		return
	}
	ws.SetHidden(r.Context(), req.Hidden)
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *WorkspaceHandler) SetHover(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "SetHover")
	if !ok {
		return
	}
	var req cellRequest
	if !h.decode(w, r, "SetHover", &req) {
		return
	}
	if vErr := req.validate(); vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}
	published := ws.UpdateHover(r.Context(), req.CollaboratorID, req.Date)
	h.responder.writeJSON(r.Context(), w, http.StatusAccepted, hoverResponse{Published: published})
}

func (h *WorkspaceHandler) ClearHover(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "ClearHover")
	if !ok {
		return
	}
	ws.ClearHover(r.Context())
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *WorkspaceHandler) Window(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Window")
	if !ok {
		return
	}
	var req windowRequest
	if !h.decode(w, r, "Window", &req) {
		return
	}
	start, end, err := req.span()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Window", "start", req.Start, "end", req.End)
	if err := ws.UpdateVisibleRange(r.Context(), start, end, req.StartRow, req.EndRow); err != nil {
		logger.ErrorContext(r.Context(), "visible range update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.DebugContext(r.Context(), "visible range updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, ws.Stats())
}

func (h *WorkspaceHandler) Prefetch(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Prefetch")
	if !ok {
		return
	}
	var req windowRequest
	if !h.decode(w, r, "Prefetch", &req) {
		return
	}
	start, end, err := req.span()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if err := ws.TriggerPrefetch(start, end); err != nil {
		h.log(r.Context(), "Prefetch").ErrorContext(r.Context(), "prefetch trigger failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusAccepted, nil)
}

func (h *WorkspaceHandler) GetFilter(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "GetFilter")
	if !ok {
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, ws.Filter())
}

func (h *WorkspaceHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "SetFilter")
	if !ok {
		return
	}
	var state filter.State
	if !h.decode(w, r, "SetFilter", &state) {
		return
	}
	if vErr := validateFilter(state); vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}
	ws.SetFilter(state)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, ws.Filter())
}

func (h *WorkspaceHandler) Collaborators(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Collaborators")
	if !ok {
		return
	}
	list := ws.FilteredCollaborators()
	h.responder.writeJSON(r.Context(), w, http.StatusOK, collaboratorsResponse{Collaborators: list, Count: len(list)})
}

func (h *WorkspaceHandler) Availabilities(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Availabilities")
	if !ok {
		return
	}
	list := ws.FilteredAvailabilities()
	h.responder.writeJSON(r.Context(), w, http.StatusOK, availabilitiesResponse{Availabilities: list, Count: len(list)})
}

func (h *WorkspaceHandler) Lock(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Lock")
	if !ok {
		return
	}
	var req lockRequest
	if !h.decode(w, r, "Lock", &req) {
		return
	}
	if vErr := req.validate(); vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	logger := h.log(r.Context(), "Lock", "collaborator_id", req.CollaboratorID, "date", req.Date, "kind", req.Kind)
	accepted := ws.LockCellForEditing(r.Context(), req.CollaboratorID, req.Date, req.Kind)
	resp := lockResponse{Accepted: accepted}
	if cell, held := ws.CellLock(req.CollaboratorID, req.Date); held {
		resp.Lock = &cell
	}
	if !accepted {
		logger.InfoContext(r.Context(), "cell lock refused")
		h.responder.writeJSON(r.Context(), w, http.StatusConflict, resp)
		return
	}
	logger.InfoContext(r.Context(), "cell locked")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *WorkspaceHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Unlock")
	if !ok {
		return
	}
	collaboratorID, date := chi.URLParam(r, "collaborator"), chi.URLParam(r, "date")
	ws.UnlockCellFromEditing(r.Context(), collaboratorID, date)
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *WorkspaceHandler) LockStatus(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "LockStatus")
	if !ok {
		return
	}
	collaboratorID, date := chi.URLParam(r, "collaborator"), chi.URLParam(r, "date")
	resp := lockStatusResponse{Locked: ws.IsCellLocked(collaboratorID, date)}
	if cell, held := ws.CellLock(collaboratorID, date); held {
		resp.Lock = &cell
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// Presence streams the tenant's sessions as Server-Sent Events. Bursts of
// changes collapse into the latest list.
func (h *WorkspaceHandler) Presence(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Presence")
	if !ok {
		return
	}
	ctx := r.Context()
	logger := h.log(ctx, "Presence")
	rc := http.NewResponseController(w)

	updates := make(chan []presence.Entry, 1)
	unsubscribe := ws.OnPresenceChange(func(entries []presence.Entry) {
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- entries:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(entries []presence.Entry) error {
		if entries == nil {
			entries = []presence.Entry{}
		}
		payload, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: presence\ndata: %s\n\n", payload); err != nil {
			return err
		}
		ws.Touch()
		return rc.Flush()
	}

	if err := send(ws.Presence()); err != nil {
		logger.WarnContext(ctx, "presence stream write failed", "error", err)
		return
	}
	logger.InfoContext(ctx, "presence stream opened")

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "presence stream closed")
			return
		case entries := <-updates:
			if err := send(entries); err != nil {
				logger.WarnContext(ctx, "presence stream write failed", "error", err)
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			ws.Touch()
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *WorkspaceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Stats")
	if !ok {
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, ws.Stats())
}

// Export renders the filtered grid. The range comes from the from and to
// query parameters, else from the filter dates and the visible window.
func (h *WorkspaceHandler) Export(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r, "Export")
	if !ok {
		return
	}
	ctx := r.Context()

	start, end, _ := ws.ExportRange()
	query := r.URL.Query()
	if from := query.Get("from"); from != "" {
		parsed, err := ranges.ParseDay(from)
		if err != nil {
			h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidDate)
			return
		}
		start = parsed
	}
	if to := query.Get("to"); to != "" {
		parsed, err := ranges.ParseDay(to)
		if err != nil {
			h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidDate)
			return
		}
		end = parsed
	}
	hasRange := !start.IsZero() && !end.IsZero()
	if !hasRange {
		h.responder.handleServiceError(ctx, w, &application.ValidationError{FieldErrors: map[string]string{
			"range": "set a date filter, a visible window or the from and to parameters",
		}})
		return
	}

	logger := h.log(ctx, "Export", "start", start.Format(ranges.DateLayout), "end", end.Format(ranges.DateLayout))
	var buf bytes.Buffer
	if err := ws.Export(ctx, &buf, start, end); err != nil {
		logger.ErrorContext(ctx, "export failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	filename := fmt.Sprintf("planning_%s_%s.xlsx", start.Format(ranges.DateLayout), end.Format(ranges.DateLayout))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		logger.WarnContext(ctx, "export write interrupted", "error", err)
		return
	}
	logger.InfoContext(ctx, "planning exported", "bytes", buf.Len())
}

type openWorkspaceRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type workspaceResponse struct {
	SessionID string `json:"sessionId"`
	Tenant    string `json:"tenant"`
	UserID    string `json:"userId"`
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
}

type cellRequest struct {
	CollaboratorID string `json:"collaboratorId"`
	Date           string `json:"date"`
}

func (c cellRequest) validate() *application.ValidationError {
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	if strings.TrimSpace(c.CollaboratorID) == "" {
		vErr.FieldErrors["collaboratorId"] = "collaboratorId is required"
	}
	if _, err := ranges.ParseDay(c.Date); err != nil {
		vErr.FieldErrors["date"] = errInvalidDate.Error()
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

type hoverResponse struct {
	Published bool `json:"published"`
}

type windowRequest struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	StartRow int    `json:"startRow"`
	EndRow   int    `json:"endRow"`
}

func (req windowRequest) span() (time.Time, time.Time, error) {
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	start, err := ranges.ParseDay(req.Start)
	if err != nil {
		vErr.FieldErrors["start"] = errInvalidDate.Error()
	}
	end, err := ranges.ParseDay(req.End)
	if err != nil {
		vErr.FieldErrors["end"] = errInvalidDate.Error()
	}
	if vErr.HasErrors() {
		return time.Time{}, time.Time{}, vErr
	}
	return start, end, nil
}

func validateFilter(state filter.State) *application.ValidationError {
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	var from, to time.Time
	var err error
	if strings.TrimSpace(state.DateFrom) != "" {
		if from, err = ranges.ParseDay(state.DateFrom); err != nil {
			vErr.FieldErrors["dateFrom"] = errInvalidDate.Error()
		}
	}
	if strings.TrimSpace(state.DateTo) != "" {
		if to, err = ranges.ParseDay(state.DateTo); err != nil {
			vErr.FieldErrors["dateTo"] = errInvalidDate.Error()
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		vErr.FieldErrors["dateTo"] = "dateTo must not precede dateFrom"
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

type lockRequest struct {
	cellRequest
	Kind string `json:"kind"`
}

func (l lockRequest) validate() *application.ValidationError {
	vErr := l.cellRequest.validate()
	if _, err := locks.ParseKind(l.Kind); err != nil {
		if vErr == nil {
			vErr = &application.ValidationError{FieldErrors: map[string]string{}}
		}
		vErr.FieldErrors["kind"] = `kind must be "edit" or "hover"`
	}
	return vErr
}

type lockResponse struct {
	Accepted bool        `json:"accepted"`
	Lock     *locks.Cell `json:"lock,omitempty"`
}

type lockStatusResponse struct {
	Locked bool        `json:"locked"`
	Lock   *locks.Cell `json:"lock,omitempty"`
}
