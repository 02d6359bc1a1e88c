package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/example/staffplan/internal/application"
	"github.com/example/staffplan/internal/logging"
)

// WorkspaceResolver looks up open workspaces by session id.
type WorkspaceResolver interface {
	Get(sessionID string) (*application.Workspace, error)
}

// RequireWorkspace resolves the {session} path parameter to an open
// workspace and stores it in the request context.
func RequireWorkspace(resolver WorkspaceResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := strings.TrimSpace(chi.URLParam(r, "session"))
			if sessionID == "" {
				responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
				return
			}

			ws, err := resolver.Get(sessionID)
			if err != nil {
				if errors.Is(err, application.ErrNotFound) {
					responder.writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{ErrorCode: "WORKSPACE_NOT_FOUND", Message: "workspace not found or expired"})
					return
				}
				responder.handleServiceError(r.Context(), w, err)
				return
			}

			ctx := ContextWithWorkspace(r.Context(), ws)
			ctx = logging.ContextWithLogger(ctx, responder.loggerFor(ctx).With("session_id", sessionID, "tenant", ws.ID().Tenant))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger attaches a request scoped logger and logs every request
// with its status and duration.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	base = defaultLogger(base)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := logging.ContextWithLogger(r.Context(), logger)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			logger.DebugContext(ctx, "request started")
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.InfoContext(ctx, "request completed",
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}

// CORS allows the planning front-end origins. An empty list or "*" allows
// any origin without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"Cache-Control",
			"X-User-ID",
			"X-Requested-With",
		},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(allowedOrigins) == 0 || allowedOrigins[0] == "*" {
		opts.AllowedOrigins = []string{"*"}
		opts.AllowCredentials = false
	}
	return cors.Handler(opts)
}
