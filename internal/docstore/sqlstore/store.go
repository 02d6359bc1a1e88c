// Package sqlstore implements docstore.Store on a relational database. Every
// document lives in one table keyed by its full path; query filters are
// evaluated in Go with docstore.Apply after a collection scan.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/example/staffplan/internal/docstore"
)

// Store is a docstore.Store backed by database/sql. Live queries are served
// by an in-process notifier, so only writes made through this Store wake
// subscribers.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	retry    docstore.RetryConfig
	now      func() time.Time
	logger   *slog.Logger
	notifier *docstore.Notifier
}

// Option customises a Store.
type Option func(*Store)

// WithRetryConfig overrides the retry policy for writes.
func WithRetryConfig(cfg docstore.RetryConfig) Option {
	return func(s *Store) { s.retry = cfg }
}

// WithClock overrides the time source used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open connects, migrates, and returns a ready Store.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	db, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := NewWithDB(db, Dialect(cfg.Driver), opts...)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an existing connection pool. The schema is not migrated.
func NewWithDB(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		retry:   docstore.DefaultRetryConfig(),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sqlstore", "dialect", string(dialect))
	s.notifier = docstore.NewNotifier(s.Query, s.logger)
	return s
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get retrieves a document by path.
func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	_, id, err := docstore.Split(path)
	if err != nil {
		return docstore.Document{}, err
	}
	path = clean(path)

	var (
		payload string
		updated int64
	)
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT data, update_time FROM documents WHERE path = ?`), path)
	if err := row.Scan(&payload, &updated); err != nil {
		return docstore.Document{}, mapError(err)
	}
	data, err := docstore.Decode([]byte(payload))
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{Path: path, ID: id, Data: data, UpdateTime: time.UnixMilli(updated)}, nil
}

// Set creates or replaces a document.
func (s *Store) Set(ctx context.Context, path string, data map[string]any) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	now := s.now()
	payload, err := docstore.Encode(docstore.Resolve(data, now))
	if err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO documents (path, collection, doc_id, data, update_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET data = excluded.data, update_time = excluded.update_time`)

	err = docstore.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, clean(path), collection, id, string(payload), now.UnixMilli())
		return mapError(err)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	s.notifier.Notify(collection)
	return nil
}

// Update merges partial into an existing document inside a transaction.
func (s *Store) Update(ctx context.Context, path string, partial map[string]any) error {
	collection, _, err := docstore.Split(path)
	if err != nil {
		return err
	}
	path = clean(path)

	selectQuery := `SELECT data FROM documents WHERE path = ?`
	if s.dialect == DialectPostgres {
		selectQuery += ` FOR UPDATE`
	}
	selectQuery = s.rebind(selectQuery)
	updateQuery := s.rebind(`UPDATE documents SET data = ?, update_time = ? WHERE path = ?`)

	err = docstore.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		return s.withTransaction(ctx, func(tx *sql.Tx) error {
			var payload string
			if err := tx.QueryRowContext(ctx, selectQuery, path).Scan(&payload); err != nil {
				return mapError(err)
			}
			current, err := docstore.Decode([]byte(payload))
			if err != nil {
				return err
			}
			now := s.now()
			merged, err := docstore.Encode(docstore.Merge(current, partial, now))
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, updateQuery, string(merged), now.UnixMilli(), path)
			return mapError(err)
		})
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	s.notifier.Notify(collection)
	return nil
}

// Remove deletes a document. Removing a missing document is not an error.
func (s *Store) Remove(ctx context.Context, path string) error {
	collection, _, err := docstore.Split(path)
	if err != nil {
		return err
	}

	var affected int64
	query := s.rebind(`DELETE FROM documents WHERE path = ?`)
	err = docstore.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, query, clean(path))
		if err != nil {
			return mapError(err)
		}
		affected, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if affected > 0 {
		s.notifier.Notify(collection)
	}
	return nil
}

// Query loads one collection and evaluates q over it.
func (s *Store) Query(ctx context.Context, q docstore.Query) (docstore.Snapshot, error) {
	if !docstore.ValidCollection(q.Collection) {
		return docstore.Snapshot{}, fmt.Errorf("%w: collection %q", docstore.ErrInvalidPath, q.Collection)
	}
	collection := strings.Trim(q.Collection, "/")

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT path, doc_id, data, update_time FROM documents WHERE collection = ?`), collection)
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("query %s: %w", collection, mapError(err))
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var (
			doc     docstore.Document
			payload string
			updated int64
		)
		if err := rows.Scan(&doc.Path, &doc.ID, &payload, &updated); err != nil {
			return docstore.Snapshot{}, fmt.Errorf("scan document: %w", err)
		}
		if doc.Data, err = docstore.Decode([]byte(payload)); err != nil {
			s.logger.Warn("skipping undecodable document", "path", doc.Path, "error", err)
			continue
		}
		doc.UpdateTime = time.UnixMilli(updated)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return docstore.Snapshot{}, fmt.Errorf("iterate documents: %w", err)
	}

	return docstore.Snapshot{
		Collection: collection,
		Docs:       docstore.Apply(q, docs),
		ReadTime:   s.now(),
	}, nil
}

// Subscribe registers a live query.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn func(docstore.Snapshot)) (func(), error) {
	if !docstore.ValidCollection(q.Collection) {
		return nil, fmt.Errorf("%w: collection %q", docstore.ErrInvalidPath, q.Collection)
	}
	if fn == nil {
		return nil, fmt.Errorf("sqlstore: nil subscriber")
	}
	return s.notifier.Add(q, fn), nil
}

// Close stops live queries and closes the pool.
func (s *Store) Close() error {
	s.notifier.Close()
	return s.db.Close()
}

func (s *Store) withTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func clean(path string) string {
	return strings.Trim(path, "/")
}
