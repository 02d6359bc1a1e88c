package http

import (
	"context"

	"github.com/example/staffplan/internal/application"
)

type contextKey string

const workspaceContextKey contextKey = "workspace"

// ContextWithWorkspace returns a derived context carrying the workspace resolved from the request path.
func ContextWithWorkspace(ctx context.Context, ws *application.Workspace) context.Context {
	return context.WithValue(ctx, workspaceContextKey, ws)
}

// WorkspaceFromContext extracts the workspace previously attached to the context.
func WorkspaceFromContext(ctx context.Context) (*application.Workspace, bool) {
	ws, ok := ctx.Value(workspaceContextKey).(*application.Workspace)
	return ws, ok && ws != nil
}
