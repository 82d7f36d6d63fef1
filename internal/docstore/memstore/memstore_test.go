package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoravur/livesql/internal/docstore"
)

func recv(t *testing.T, ch <-chan docstore.Snapshot) docstore.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
		return nil
	}
}

func quiet(t *testing.T, ch <-chan docstore.Snapshot) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected snapshot %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func startWatch(t *testing.T, s *Store, q docstore.Query) (<-chan docstore.Snapshot, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan docstore.Snapshot)
	errc := make(chan error, 1)
	go func() { errc <- s.Watch(ctx, q, out) }()
	return out, cancel, errc
}

func TestWatchEmitsInitialThenChanges(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_ = s.Put(ctx, "items", "a", map[string]any{"price": 5})
	_ = s.Put(ctx, "items", "b", map[string]any{"price": 50})

	q := docstore.Query{Collection: "items", Filters: []docstore.Filter{{Field: "price", Op: docstore.Lt, Value: 10}}}
	out, cancel, errc := startWatch(t, s, q)

	if snap := recv(t, out); len(snap) != 1 || snap[0].Key != "a" {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	// Outside the match set: no emission.
	_ = s.Put(ctx, "items", "b", map[string]any{"price": 60})
	quiet(t, out)

	_ = s.Put(ctx, "items", "c", map[string]any{"price": 1})
	if snap := recv(t, out); len(snap) != 2 {
		t.Fatalf("after insert = %+v", snap)
	}

	_ = s.Delete(ctx, "items", "a")
	if snap := recv(t, out); len(snap) != 1 || snap[0].Key != "c" {
		t.Fatalf("after delete = %+v", snap)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch returned %v", err)
	}
	if n := s.ActiveWatches(); n != 0 {
		t.Fatalf("ActiveWatches = %d after cancel", n)
	}
}

func TestWatchEmptyCollection(t *testing.T) {
	s := New(nil)
	out, cancel, _ := startWatch(t, s, docstore.Query{Collection: "nothing"})
	defer cancel()
	if snap := recv(t, out); len(snap) != 0 {
		t.Fatalf("expected an empty initial snapshot, got %+v", snap)
	}
}

func TestWatchCancelBeforeFirstRead(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Watch(ctx, docstore.Query{Collection: "items"}, make(chan docstore.Snapshot))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch returned %v", err)
	}
	if s.ActiveWatches() != 0 {
		t.Fatal("watcher leaked")
	}
}

func TestSetField(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	if err := s.SetField(ctx, "items", "x", "price", 1); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("SetField on a missing doc = %v", err)
	}
	_ = s.Put(ctx, "items", "x", map[string]any{"price": 1})

	out, cancel, _ := startWatch(t, s, docstore.Query{Collection: "items"})
	defer cancel()
	first := recv(t, out)

	if err := s.SetField(ctx, "items", "x", "dims.w", 3); err != nil {
		t.Fatal(err)
	}
	snap := recv(t, out)
	if v, _ := docstore.Lookup(snap[0].Data, "dims.w"); v != 3 {
		t.Fatalf("dims.w = %v", v)
	}
	if _, ok := first[0].Data["dims"]; ok {
		t.Fatal("an earlier snapshot was mutated")
	}
}

func TestPutCopiesInput(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	in := map[string]any{"tags": []any{"a"}}
	_ = s.Put(ctx, "items", "k", in)
	in["tags"].([]any)[0] = "changed"

	out, cancel, _ := startWatch(t, s, docstore.Query{Collection: "items"})
	defer cancel()
	snap := recv(t, out)
	if snap[0].Data["tags"].([]any)[0] != "a" {
		t.Fatal("stored document shares memory with the caller")
	}
}
