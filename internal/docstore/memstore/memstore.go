// Package memstore is an in-memory docstore.Store used for tests and for
// single-process deployments without durable storage.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/staffplan/internal/docstore"
)

// Store keeps documents in a map keyed by path.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]docstore.Document
	now      func() time.Time
	notifier *docstore.Notifier
	closed   bool
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty Store.
func New(logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		docs: make(map[string]docstore.Document),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.notifier = docstore.NewNotifier(s.Query, logger)
	return s
}

// Get retrieves a document by path.
func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	if _, _, err := docstore.Split(path); err != nil {
		return docstore.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[clean(path)]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return cloneDocument(doc), nil
}

// Set creates or replaces a document.
func (s *Store) Set(ctx context.Context, path string, data map[string]any) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	now := s.now()
	normalized, err := docstore.Normalize(docstore.Resolve(data, now))
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	s.docs[clean(path)] = docstore.Document{Path: clean(path), ID: id, Data: normalized, UpdateTime: now}
	s.mu.Unlock()

	s.notifier.Notify(collection)
	return nil
}

// Update merges partial into an existing document.
func (s *Store) Update(ctx context.Context, path string, partial map[string]any) error {
	collection, _, err := docstore.Split(path)
	if err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	doc, ok := s.docs[clean(path)]
	if !ok {
		s.mu.Unlock()
		return docstore.ErrNotFound
	}
	merged, err := docstore.Normalize(docstore.Merge(doc.Data, partial, now))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	doc.Data = merged
	doc.UpdateTime = now
	s.docs[clean(path)] = doc
	s.mu.Unlock()

	s.notifier.Notify(collection)
	return nil
}

// Remove deletes a document. Removing a missing document is not an error.
func (s *Store) Remove(ctx context.Context, path string) error {
	collection, _, err := docstore.Split(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, existed := s.docs[clean(path)]
	delete(s.docs, clean(path))
	s.mu.Unlock()

	if existed {
		s.notifier.Notify(collection)
	}
	return nil
}

// Query evaluates q against the documents of one collection.
func (s *Store) Query(ctx context.Context, q docstore.Query) (docstore.Snapshot, error) {
	if !docstore.ValidCollection(q.Collection) {
		return docstore.Snapshot{}, fmt.Errorf("%w: collection %q", docstore.ErrInvalidPath, q.Collection)
	}
	if err := ctx.Err(); err != nil {
		return docstore.Snapshot{}, err
	}
	collection := strings.Trim(q.Collection, "/")
	prefix := collection + "/"

	s.mu.RLock()
	candidates := make([]docstore.Document, 0)
	for path, doc := range s.docs {
		if !strings.HasPrefix(path, prefix) || strings.Contains(path[len(prefix):], "/") {
			continue
		}
		candidates = append(candidates, cloneDocument(doc))
	}
	s.mu.RUnlock()

	return docstore.Snapshot{
		Collection: collection,
		Docs:       docstore.Apply(q, candidates),
		ReadTime:   s.now(),
	}, nil
}

// Subscribe registers a live query.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn func(docstore.Snapshot)) (func(), error) {
	if !docstore.ValidCollection(q.Collection) {
		return nil, fmt.Errorf("%w: collection %q", docstore.ErrInvalidPath, q.Collection)
	}
	if fn == nil {
		return nil, fmt.Errorf("memstore: nil subscriber")
	}
	return s.notifier.Add(q, fn), nil
}

// Close stops every live query.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notifier.Close()
	return nil
}

// Subscriptions reports the number of live queries.
func (s *Store) Subscriptions() int {
	return s.notifier.Len()
}

var errClosed = fmt.Errorf("memstore: store closed")

func clean(path string) string {
	return strings.Trim(path, "/")
}

func cloneDocument(doc docstore.Document) docstore.Document {
	return docstore.Document{
		Path:       doc.Path,
		ID:         doc.ID,
		Data:       cloneMap(doc.Data),
		UpdateTime: doc.UpdateTime,
	}
}

func cloneMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case map[string]any:
			out[key] = cloneMap(v)
		case []any:
			items := make([]any, len(v))
			copy(items, v)
			out[key] = items
		default:
			out[key] = value
		}
	}
	return out
}
