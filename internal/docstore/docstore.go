// Package docstore defines the document/realtime store the planning core is
// built on, plus the query evaluation and change notification shared by the
// store implementations.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("docstore: not found")
	// ErrInvalidPath is returned for malformed document or collection paths.
	ErrInvalidPath = errors.New("docstore: invalid path")
)

// Store is a hierarchical document store with live queries. Paths alternate
// collection and document segments: "tenants/acme/collaborators/c1".
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	Set(ctx context.Context, path string, data map[string]any) error
	Update(ctx context.Context, path string, partial map[string]any) error
	Remove(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) (Snapshot, error)
	// Subscribe delivers an initial snapshot and then a fresh snapshot after
	// every write to the queried collection. Delivery happens on a goroutine
	// owned by the subscription; the returned cancel stops it.
	Subscribe(ctx context.Context, q Query, fn func(Snapshot)) (cancel func(), err error)
	Close() error
}

// Document is a stored record.
type Document struct {
	Path       string
	ID         string
	Data       map[string]any
	UpdateTime time.Time
}

// Snapshot is the result of a query at one point in time.
type Snapshot struct {
	Collection string
	Docs       []Document
	ReadTime   time.Time
}

// Len reports the number of documents in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Docs)
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split separates a document path into its collection path and document id.
func Split(path string) (collection, id string, err error) {
	path = strings.Trim(path, "/")
	segments := strings.Split(path, "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	last := len(segments) - 1
	return strings.Join(segments[:last], "/"), segments[last], nil
}

// ValidCollection reports whether path addresses a collection.
func ValidCollection(path string) bool {
	path = strings.Trim(path, "/")
	if path == "" {
		return false
	}
	segments := strings.Split(path, "/")
	if len(segments)%2 != 1 {
		return false
	}
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			return false
		}
	}
	return true
}
