// Package memstore is an in-memory document store with live queries.
//
// Writers fan out a change signal to every watcher of the touched
// collection; each watcher recomputes its query and emits a snapshot only
// when the match set actually changed.
package memstore

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/docstore"
)

type watcher struct {
	q      docstore.Query
	signal chan struct{} // capacity 1, coalesces bursts
}

// Store implements docstore.Store in memory.
type Store struct {
	log *zap.Logger

	mu       sync.RWMutex
	docs     map[string]map[string]map[string]any // collection -> key -> data
	watchers map[string]map[*watcher]struct{}     // collection -> watchers
}

var _ docstore.Store = (*Store)(nil)

func New(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		log:      log,
		docs:     make(map[string]map[string]map[string]any),
		watchers: make(map[string]map[*watcher]struct{}),
	}
}

// Put inserts or replaces a document.
func (s *Store) Put(_ context.Context, collection, key string, data map[string]any) error {
	s.mu.Lock()
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]map[string]any)
	}
	s.docs[collection][key] = cloneMap(data)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

// SetField implements docstore.Store.
func (s *Store) SetField(_ context.Context, collection, key, field string, value any) error {
	s.mu.Lock()
	cur, ok := s.docs[collection][key]
	if !ok {
		s.mu.Unlock()
		return docstore.ErrNotFound
	}
	// Copy on write: snapshots already handed out share the old maps.
	next := cloneMap(cur)
	parts := strings.Split(field, ".")
	m := next
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[p] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = cloneValue(value)
	s.docs[collection][key] = next
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

// Delete removes a document; deleting a missing key is not an error.
func (s *Store) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	delete(s.docs[collection], key)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

// Watch implements docstore.Watcher.
func (s *Store) Watch(ctx context.Context, q docstore.Query, out chan<- docstore.Snapshot) error {
	w := &watcher{q: q, signal: make(chan struct{}, 1)}
	s.subscribe(w)
	defer s.unsubscribe(w)

	var last docstore.Snapshot
	first := true
	for {
		snap := s.run(q)
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

// Collections returns the names of non-empty collections.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for c, docs := range s.docs {
		if len(docs) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) run(q docstore.Query) docstore.Snapshot {
	s.mu.RLock()
	all := make([]docstore.Document, 0, len(s.docs[q.Collection]))
	for k, d := range s.docs[q.Collection] {
		all = append(all, docstore.Document{Key: k, Data: d})
	}
	s.mu.RUnlock()
	return docstore.Execute(q, all)
}

func (s *Store) subscribe(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers[w.q.Collection] == nil {
		s.watchers[w.q.Collection] = make(map[*watcher]struct{})
	}
	s.watchers[w.q.Collection][w] = struct{}{}
	s.log.Debug("watch started", zap.String("collection", w.q.Collection), zap.Stringer("query", w.q))
}

func (s *Store) unsubscribe(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws := s.watchers[w.q.Collection]; ws != nil {
		delete(ws, w)
		if len(ws) == 0 {
			delete(s.watchers, w.q.Collection)
		}
	}
	s.log.Debug("watch stopped", zap.String("collection", w.q.Collection))
}

func (s *Store) notify(collection string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for w := range s.watchers[collection] {
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
}

// cloneMap deep-copies nested maps and slices so stored documents cannot
// be mutated through the caller's reference.
func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = cloneValue(t[i])
		}
		return cp
	}
	return v
}
