package http

import (
	"context"
	"log/slog"

	"github.com/example/staffplan/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	return logging.Default(logger)
}

// handlerLogger tags the request scoped logger, or fallback, with the
// handler and operation names.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	return logging.Component(ctx, fallback, handlerName, operation, attrs...)
}
