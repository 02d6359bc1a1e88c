package application

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/example/staffplan/internal/logging"
)

func TestServiceLoggerPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var base, scoped bytes.Buffer
	baseLogger := slog.New(slog.NewJSONHandler(&base, nil))
	ctx := logging.ContextWithLogger(context.Background(), slog.New(slog.NewJSONHandler(&scoped, nil)))

	serviceLogger(ctx, baseLogger, "AvailabilityService", "Create", "tenant", "acme").Info("record created")

	if base.Len() != 0 {
		t.Fatalf("expected base logger unused, got %s", base.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(scoped.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "AvailabilityService" || entry["operation"] != "Create" || entry["tenant"] != "acme" {
		t.Fatalf("unexpected log attributes %v", entry)
	}
}
