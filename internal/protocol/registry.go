package protocol

import (
	"fmt"
	"sync"
)

// Subscription is one live query owned by a connection.
type Subscription struct {
	ID     string
	SQL    string
	Cancel func()
}

// Registry holds the subscriptions of a single connection.
type Registry struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscription)}
}

func (r *Registry) Add(sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; ok {
		return fmt.Errorf("subscription %q already exists", sub.ID)
	}
	r.subs[sub.ID] = sub
	return nil
}

// Remove cancels and forgets id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	if ok && sub.Cancel != nil {
		sub.Cancel()
	}
	return ok
}

// Forget drops sub without cancelling it, for subscriptions that ended on
// their own. A newer subscription reusing the id is left alone.
func (r *Registry) Forget(sub *Subscription) {
	r.mu.Lock()
	if r.subs[sub.ID] == sub {
		delete(r.subs, sub.ID)
	}
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// CancelAll cancels every subscription, on disconnect.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*Subscription)
	r.mu.Unlock()
	for _, s := range subs {
		if s.Cancel != nil {
			s.Cancel()
		}
	}
}
