package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/staffplan/internal/docstore"
)

// mapError translates driver errors into docstore errors and stable
// messages that docstore.IsTransient can classify.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.ErrNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "unique constraint failed", "duplicate key value"):
		return fmt.Errorf("duplicate record: %w", err)
	case containsAny(msg, "foreign key constraint"):
		return fmt.Errorf("foreign key violation: %w", err)
	case containsAny(msg, "check constraint"):
		return fmt.Errorf("constraint violation: %w", err)
	case containsAny(msg, "database is locked", "database locked", "sqlite_busy"):
		return fmt.Errorf("database is locked: %w", err)
	case errors.Is(err, sql.ErrConnDone), containsAny(msg, "driver: bad connection"):
		return fmt.Errorf("connection unavailable: %w", err)
	}
	return err
}

func containsAny(s string, substrings ...string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
