// Package docstore defines the native query surface of a document store:
// conjunctive query descriptors, document snapshots, and the live Watch
// primitive the reactive engine subscribes to.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a write addresses a missing document.
var ErrNotFound = errors.New("document not found")

// Op is a native filter operator.
type Op string

const (
	Eq  Op = "=="
	Lt  Op = "<"
	Lte Op = "<="
	Gt  Op = ">"
	Gte Op = ">="
)

// IsRange reports whether op is an inequality.
func (op Op) IsRange() bool { return op == Lt || op == Lte || op == Gt || op == Gte }

// Filter is one native predicate. A nil Value with Eq matches documents
// where the field is null or absent.
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Order is one native sort key.
type Order struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query is a native query descriptor: one collection, a conjunction of
// filters, an optional ordering and limit.
type Query struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters,omitempty"`
	OrderBy    []Order  `json:"orderBy,omitempty"`
	Limit      int      `json:"limit,omitempty"`

	// Branch is the UNION branch the descriptor was generated for.
	Branch int `json:"branch"`
}

func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " where(%s %s %#v)", f.Field, f.Op, f.Value)
	}
	for _, o := range q.OrderBy {
		dir := "asc"
		if o.Desc {
			dir = "desc"
		}
		fmt.Fprintf(&b, " orderBy(%s %s)", o.Field, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit(%d)", q.Limit)
	}
	return b.String()
}

// Document is an immutable view of one stored document.
type Document struct {
	Key  string         `json:"key"`
	Data map[string]any `json:"data"`

	origin int
	src    map[string]any
	final  bool
}

// Origin is the index of the descriptor whose snapshot carried the document.
func (d Document) Origin() int { return d.origin }

// WithOrigin returns a copy tagged with a descriptor index.
func (d Document) WithOrigin(i int) Document {
	d.origin = i
	return d
}

// Source returns the fields the document had before any projection.
func (d Document) Source() map[string]any {
	if d.src != nil {
		return d.src
	}
	return d.Data
}

// Projected returns a copy whose Data is replaced by a projection of its
// source. The source is retained so the result can be processed again.
func (d Document) Projected(data map[string]any) Document {
	d.src = d.Source()
	d.Data = data
	d.final = true
	return d
}

// Final reports whether the document came out of post-processing.
func (d Document) Final() bool { return d.final }

// Snapshot is the complete current match set of one query.
type Snapshot []Document

// Watcher is the live-query primitive. Watch sends an initial full snapshot
// for q and a new full snapshot whenever its match set changes, until ctx
// is done. It returns ctx.Err() after cancellation, or the store failure.
// Every store-side listener is released before Watch returns.
type Watcher interface {
	Watch(ctx context.Context, q Query, out chan<- Snapshot) error
}

// Store is a document store with a live-query primitive.
type Store interface {
	Watcher
	Put(ctx context.Context, collection, key string, data map[string]any) error
	// SetField sets one dotted field path of an existing document,
	// creating intermediate maps. It returns ErrNotFound for a missing key.
	SetField(ctx context.Context, collection, key, field string, value any) error
	Delete(ctx context.Context, collection, key string) error
}
