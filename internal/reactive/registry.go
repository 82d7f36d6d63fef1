package reactive

import (
	"sort"
	"sync"
)

// Registry tracks the live subscriptions of an engine.
type Registry struct {
	mu   sync.RWMutex
	data map[string]*Subscription
}

func NewRegistry() *Registry {
	return &Registry{data: make(map[string]*Subscription)}
}

func (r *Registry) Register(s *Subscription) {
	r.mu.Lock()
	r.data[s.ID] = s
	r.mu.Unlock()
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.data, id)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.data[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func (r *Registry) Snapshot() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.data))
	for _, s := range r.data {
		out = append(out, s)
	}
	return out
}

func (r *Registry) ForEach(fn func(*Subscription) bool) {
	for _, s := range r.Snapshot() {
		if !fn(s) {
			break
		}
	}
}

// SnapshotView describes every subscription for the /api/live endpoint,
// oldest first.
func (r *Registry) SnapshotView() []map[string]any {
	subs := r.Snapshot()
	sort.Slice(subs, func(i, j int) bool { return subs[i].Created.Before(subs[j].Created) })

	out := make([]map[string]any, 0, len(subs))
	for _, s := range subs {
		queries := make([]string, len(s.Plan.Queries))
		for i, q := range s.Plan.Queries {
			queries[i] = q.String()
		}
		out = append(out, map[string]any{
			"id":         s.ID,
			"sql":        s.SQL,
			"queries":    queries,
			"resultSets": s.Emitted(),
			"created":    s.Created,
		})
	}
	return out
}
