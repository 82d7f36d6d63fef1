package pgstore_test

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/internal/docstore/pgstore"
	"github.com/zoravur/livesql/internal/reactive"
	"github.com/zoravur/livesql/pkg/fixgres"
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}
	if err := fixgres.Boot(fixgres.WithMigrations(pgstore.Migrate)); err != nil {
		log.Fatalf("fixgres.Boot: %v", err)
	}
	code := m.Run()
	_ = fixgres.ShutdownNow()
	os.Exit(code)
}

func newStore(t *testing.T) (*pgstore.Store, *fixgres.Sandbox) {
	t.Helper()
	if testing.Short() {
		t.Skip("needs a postgres container")
	}
	sbx := fixgres.NewSandbox(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, sbx.DSN)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(pool, pgstore.Options{Workers: 4})
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s, sbx
}

func recv(t *testing.T, ch <-chan docstore.Snapshot) docstore.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
		return nil
	}
}

func keys(snap docstore.Snapshot) []string {
	out := make([]string, len(snap))
	for i, d := range snap {
		out[i] = d.Key
	}
	return out
}

func TestWatchFollowsWrites(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	must(t, s.Put(ctx, "items", "a", map[string]any{"price": 5, "tag": "x"}))
	must(t, s.Put(ctx, "items", "b", map[string]any{"price": 50, "tag": "y"}))
	must(t, s.Put(ctx, "items", "c", map[string]any{"price": "cheap"}))

	q := docstore.Query{
		Collection: "items",
		Filters:    []docstore.Filter{{Field: "price", Op: docstore.Lt, Value: 100}},
		OrderBy:    []docstore.Order{{Field: "price", Desc: true}},
	}
	out := make(chan docstore.Snapshot)
	errc := make(chan error, 1)
	go func() { errc <- s.Watch(ctx, q, out) }()

	// "cheap" is a string and never compares with a number.
	if got := keys(recv(t, out)); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("initial snapshot = %v", got)
	}

	must(t, s.SetField(ctx, "items", "a", "price", 500))
	if got := keys(recv(t, out)); len(got) != 1 || got[0] != "b" {
		t.Fatalf("after update = %v", got)
	}

	must(t, s.Delete(ctx, "items", "b"))
	if got := recv(t, out); len(got) != 0 {
		t.Fatalf("after delete = %v", keys(got))
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch returned %v", err)
	}
	if n := s.ActiveWatches(); n != 0 {
		t.Fatalf("%d watches left registered", n)
	}
}

func TestSetFieldMissingDocument(t *testing.T) {
	s, _ := newStore(t)
	err := s.SetField(context.Background(), "items", "ghost", "price", 1)
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("SetField = %v, want ErrNotFound", err)
	}
}

func TestSetFieldNested(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	must(t, s.Put(ctx, "people", "p1", map[string]any{"name": "Ana"}))
	must(t, s.SetField(ctx, "people", "p1", "address.city", "Porto"))

	out := make(chan docstore.Snapshot, 1)
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = s.Watch(wctx, docstore.Query{Collection: "people", Filters: []docstore.Filter{
			{Field: "address.city", Op: docstore.Eq, Value: "Porto"},
		}}, out)
	}()
	snap := recv(t, out)
	if len(snap) != 1 || snap[0].Data["name"] != "Ana" {
		t.Fatalf("got %+v", snap)
	}
}

func TestDottedKeyLimitAgreesWithLookup(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// "x" holds a literal "a.b" key that shadows its nested a.b.
	must(t, s.Put(ctx, "dots", "x", map[string]any{"a.b": 10, "a": map[string]any{"b": 1}}))
	must(t, s.Put(ctx, "dots", "y", map[string]any{"a": map[string]any{"b": 2}}))

	out := make(chan docstore.Snapshot, 1)
	go func() {
		_ = s.Watch(ctx, docstore.Query{
			Collection: "dots",
			Filters:    []docstore.Filter{{Field: "a.b", Op: docstore.Lt, Value: 5}},
			OrderBy:    []docstore.Order{{Field: "a.b"}},
			Limit:      1,
		}, out)
	}()
	if got := keys(recv(t, out)); len(got) != 1 || got[0] != "y" {
		t.Fatalf("got %v, want [y]", got)
	}
}

func TestNotifyFeedWakesWatchers(t *testing.T) {
	s, sbx := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = s.Follow(ctx, &pgstore.NotifyFeed{DSN: sbx.DSN}) }()

	out := make(chan docstore.Snapshot)
	go func() { _ = s.Watch(ctx, docstore.Query{Collection: "notes"}, out) }()
	if got := recv(t, out); len(got) != 0 {
		t.Fatalf("initial = %v", keys(got))
	}

	// Written behind the store's back: only the trigger can report it. The
	// listener may not be up yet, so keep touching the row until it is.
	for i := 0; i < 20; i++ {
		if _, err := sbx.DB.ExecContext(ctx, `
			INSERT INTO documents (collection, key, data) VALUES ('notes', 'n1', jsonb_build_object('body', $1::int))
			ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data`, i); err != nil {
			t.Fatal(err)
		}
		select {
		case got := <-out:
			if k := keys(got); len(k) != 1 || k[0] != "n1" {
				t.Fatalf("after external insert = %v", k)
			}
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
	t.Fatal("no snapshot after external writes")
}

func TestEngineOverPostgres(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	for k, v := range map[string]map[string]any{
		"pen":   {"price": 3, "category": "office"},
		"mug":   {"price": 8, "category": "sale"},
		"chair": {"price": 120, "category": "sale"},
		"lamp":  {"price": 15, "category": "home"},
	} {
		must(t, s.Put(ctx, "items", k, v))
	}

	e, err := reactive.NewEngine(s, reactive.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	rs, err := e.Query(ctx, "SELECT * FROM items WHERE price < 10 OR category = 'sale' ORDER BY price")
	if err != nil {
		t.Fatal(err)
	}
	got := rs.Keys()
	want := []string{"pen", "mug", "chair"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
