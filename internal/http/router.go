package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/staffplan/internal/obs"
)

// RouterConfig wires the handlers into NewRouter. Nil handlers leave their
// routes unmounted.
type RouterConfig struct {
	Workspaces     *WorkspaceHandler
	Planning       *PlanningHandler
	Resolver       WorkspaceResolver
	Metrics        *obs.Metrics
	AllowedOrigins []string
	Health         func(ctx context.Context) error
	Logger         *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cfg.Metrics.Instrument)
	r.Use(CORS(cfg.AllowedOrigins))

	r.Get("/healthz", healthHandler(cfg.Health, logger))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if p := cfg.Planning; p != nil {
			r.Route("/tenants/{tenant}/collaborators", func(r chi.Router) {
				r.Get("/", p.ListCollaborators)
				r.Post("/", p.CreateCollaborator)
				r.Put("/{id}", p.UpdateCollaborator)
				r.Delete("/{id}", p.DeactivateCollaborator)
			})
			r.Route("/tenants/{tenant}/availabilities", func(r chi.Router) {
				r.Get("/", p.ListAvailabilities)
				r.Post("/", p.CreateAvailability)
				r.Put("/{date}/{id}", p.UpdateAvailability)
				r.Delete("/{date}/{id}", p.DeleteAvailability)
			})
		}

		h := cfg.Workspaces
		if h == nil || cfg.Resolver == nil {
			return
		}
		r.Post("/tenants/{tenant}/workspaces", h.Open)
		r.Route("/workspaces/{session}", func(r chi.Router) {
			r.Use(RequireWorkspace(cfg.Resolver, logger))

			r.Delete("/", h.Close)
			r.Post("/activity", h.Activity)
			r.Put("/visibility", h.Visibility)
			r.Put("/hover", h.SetHover)
			r.Delete("/hover", h.ClearHover)
			r.Put("/window", h.Window)
			r.Post("/prefetch", h.Prefetch)
			r.Get("/filter", h.GetFilter)
			r.Put("/filter", h.SetFilter)
			r.Get("/collaborators", h.Collaborators)
			r.Get("/availabilities", h.Availabilities)
			r.Post("/locks", h.Lock)
			r.Get("/locks/{collaborator}/{date}", h.LockStatus)
			r.Delete("/locks/{collaborator}/{date}", h.Unlock)
			r.Get("/presence", h.Presence)
			r.Get("/stats", h.Stats)
			r.Get("/export.xlsx", h.Export)
		})
	})

	return r
}

func healthHandler(check func(ctx context.Context) error, logger *slog.Logger) http.HandlerFunc {
	responder := newResponder(logger)
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
				return
			}
		}
		responder.writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
