// Package pgstore is a document store on a PostgreSQL jsonb table. Live
// queries are re-run when a change feed reports a write to their
// collection.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/panjf2000/ants/v2"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/internal/metrics"
)

// submitRetry is the pause before resubmitting to a saturated worker pool.
const submitRetry = 10 * time.Millisecond

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the documents table up to date.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// ChangeFeed reports writes to the store. notify receives the collection
// that changed, or "" when every collection may have changed.
type ChangeFeed interface {
	Run(ctx context.Context, notify func(collection string)) error
}

// Options tune a Store.
type Options struct {
	// Workers bounds the number of snapshot queries running at once.
	Workers int
	Logger  *zap.Logger
}

type watcher struct {
	collection string
	signal     chan struct{}
}

// Store implements docstore.Store on PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	log     *zap.Logger
	workers *ants.Pool

	mu       sync.RWMutex
	watchers map[string]map[*watcher]struct{}
}

var _ docstore.Store = (*Store)(nil)

func New(pool *pgxpool.Pool, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	size := opts.Workers
	if size <= 0 {
		size = 16
	}
	workers, err := ants.NewPool(size, ants.WithNonblocking(true), ants.WithPanicHandler(func(v any) {
		log.Error("snapshot worker panic", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("pgstore: worker pool: %w", err)
	}
	return &Store{
		pool:     pool,
		log:      log,
		workers:  workers,
		watchers: make(map[string]map[*watcher]struct{}),
	}, nil
}

// Close releases the worker pool. The connection pool belongs to the caller.
func (s *Store) Close() { s.workers.Release() }

// Follow runs feed until ctx is done, re-running the watches of every
// collection it reports.
func (s *Store) Follow(ctx context.Context, feed ChangeFeed) error {
	return feed.Run(ctx, s.Notify)
}

// Notify marks a collection as changed; "" marks all of them.
func (s *Store) Notify(collection string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	signal := func(ws map[*watcher]struct{}) {
		for w := range ws {
			select {
			case w.signal <- struct{}{}:
			default:
			}
		}
	}
	if collection == "" {
		for _, ws := range s.watchers {
			signal(ws)
		}
		return
	}
	signal(s.watchers[collection])
}

// ActiveWatches returns the number of registered watchers.
func (s *Store) ActiveWatches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ws := range s.watchers {
		n += len(ws)
	}
	return n
}

// Watch implements docstore.Watcher.
func (s *Store) Watch(ctx context.Context, q docstore.Query, out chan<- docstore.Snapshot) error {
	// Surface untranslatable filters before registering.
	if _, _, err := selectSQL(q); err != nil {
		return err
	}

	w := &watcher{collection: q.Collection, signal: make(chan struct{}, 1)}
	s.subscribe(w)
	defer s.unsubscribe(w)

	var last docstore.Snapshot
	first := true
	for {
		snap, err := s.snapshot(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if first || !docstore.SameSnapshot(last, snap) {
			select {
			case out <- snap:
			case <-ctx.Done():
				return ctx.Err()
			}
			last, first = snap, false
		}

		select {
		case <-w.signal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// snapshot runs q on the worker pool.
func (s *Store) snapshot(ctx context.Context, q docstore.Query) (docstore.Snapshot, error) {
	type result struct {
		snap docstore.Snapshot
		err  error
	}
	done := make(chan result, 1)
	task := func() {
		snap, err := s.run(ctx, q)
		done <- result{snap, err}
	}
	// The pool never blocks; while it is saturated, wait for ctx or retry.
	for {
		err := s.workers.Submit(task)
		if err == nil {
			break
		}
		if !errors.Is(err, ants.ErrPoolOverload) {
			return nil, fmt.Errorf("pgstore: submit: %w", err)
		}
		select {
		case <-time.After(submitRetry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	select {
	case r := <-done:
		return r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) run(ctx context.Context, q docstore.Query) (docstore.Snapshot, error) {
	docs, err := s.fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	// Re-apply in Go so both stores agree on edge cases such as numeric
	// precision. A limited fetch that lost rows here is short, so it is
	// repeated without the limit.
	snap := docstore.Execute(q, docs)
	if q.Limit > 0 && len(docs) == q.Limit && len(snap) < len(docs) {
		s.log.Debug("limited snapshot came up short, refetching", zap.Stringer("query", q))
		unlimited := q
		unlimited.Limit = 0
		if docs, err = s.fetch(ctx, unlimited); err != nil {
			return nil, err
		}
		snap = docstore.Execute(q, docs)
	}
	return snap, nil
}

func (s *Store) fetch(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	query, args, err := selectSQL(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %s: %w", q, err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (docstore.Document, error) {
		var d docstore.Document
		err := row.Scan(&d.Key, &d.Data)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: %s: %w", q, err)
	}
	return docs, nil
}

// Put implements docstore.Store.
func (s *Store) Put(ctx context.Context, collection, key string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, key, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, key, data)
	if err != nil {
		return fmt.Errorf("pgstore: put %s/%s: %w", collection, key, err)
	}
	s.Notify(collection)
	return nil
}

// SetField implements docstore.Store.
func (s *Store) SetField(ctx context.Context, collection, key, field string, value any) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var data map[string]any
		err := tx.QueryRow(ctx,
			`SELECT data FROM documents WHERE collection = $1 AND key = $2 FOR UPDATE`,
			collection, key).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.ErrNotFound
		}
		if err != nil {
			return err
		}
		if data == nil {
			data = map[string]any{}
		}
		setPath(data, strings.Split(field, "."), value)
		_, err = tx.Exec(ctx,
			`UPDATE documents SET data = $3, updated_at = now() WHERE collection = $1 AND key = $2`,
			collection, key, data)
		return err
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("pgstore: set %s/%s.%s: %w", collection, key, field, err)
	}
	s.Notify(collection)
	return nil
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND key = $2`, collection, key); err != nil {
		return fmt.Errorf("pgstore: delete %s/%s: %w", collection, key, err)
	}
	s.Notify(collection)
	return nil
}

func setPath(m map[string]any, parts []string, value any) {
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[p] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
}

func (s *Store) subscribe(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers[w.collection] == nil {
		s.watchers[w.collection] = make(map[*watcher]struct{})
	}
	s.watchers[w.collection][w] = struct{}{}
}

func (s *Store) unsubscribe(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws := s.watchers[w.collection]; ws != nil {
		delete(ws, w)
		if len(ws) == 0 {
			delete(s.watchers, w.collection)
		}
	}
}

// countChange records a feed notification; feeds call it once per event.
func countChange(feed string) { metrics.ChangeEvents.WithLabelValues(feed).Inc() }
