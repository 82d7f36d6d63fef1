package query

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/zoravur/livesql/internal/docstore"
)

func doc(key string, data map[string]any) docstore.Document {
	return docstore.Document{Key: key, Data: data}
}

func mustPlan(t *testing.T, sql string, opts Options) *Plan {
	t.Helper()
	p, err := NewPlan("", mustParse(t, sql), opts)
	if err != nil {
		t.Fatalf("plan %q: %v", sql, err)
	}
	return p
}

func TestProcessSortsAscending(t *testing.T) {
	p := mustPlan(t, "SELECT name FROM people ORDER BY age", Options{})
	in := []docstore.Document{
		doc("a", map[string]any{"name": "A", "age": int64(30)}),
		doc("b", map[string]any{"name": "B", "age": int64(10)}),
		doc("c", map[string]any{"name": "C", "age": int64(20)}),
	}
	got := p.Process(in)
	if want := []string{"b", "c", "a"}; !reflect.DeepEqual(keys(got), want) {
		t.Fatalf("order = %v, want %v", keys(got), want)
	}
	if !reflect.DeepEqual(got[0].Data, map[string]any{"name": "B"}) {
		t.Fatalf("projection = %v", got[0].Data)
	}
}

func TestProcessSortIsStable(t *testing.T) {
	p := mustPlan(t, "SELECT * FROM people ORDER BY age DESC", Options{})
	in := []docstore.Document{
		doc("z", map[string]any{"age": 5}),
		doc("y", map[string]any{"age": 9}),
		doc("x", map[string]any{"age": 5}),
		doc("w", map[string]any{}),
	}
	got := keys(p.Process(in))
	if want := []string{"y", "z", "x", "w"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}

	p = mustPlan(t, "SELECT * FROM people ORDER BY age", Options{})
	got = keys(p.Process(in))
	if want := []string{"w", "z", "x", "y"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("absent field should sort first: %v, want %v", got, want)
	}
}

func TestProcessDedupsAcrossDescriptors(t *testing.T) {
	p := mustPlan(t, "SELECT * FROM items WHERE category = 'tools' OR price < 5", Options{})
	d := doc("k", map[string]any{"category": "tools", "price": 1})
	got := p.Process([]docstore.Document{d.WithOrigin(0), d.WithOrigin(1)})
	if len(got) != 1 {
		t.Fatalf("got %d documents, want 1", len(got))
	}
}

func TestProcessFiltersResidual(t *testing.T) {
	p := mustPlan(t, "SELECT * FROM items WHERE price > 1 AND stock < 5", Options{})
	in := []docstore.Document{
		doc("in", map[string]any{"price": 2, "stock": 1}),
		doc("out", map[string]any{"price": 2, "stock": 9}),
	}
	if got := keys(p.Process(in)); !reflect.DeepEqual(got, []string{"in"}) {
		t.Fatalf("got %v", got)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	for _, sql := range []string{
		"SELECT name AS n, price FROM items WHERE price > 1 ORDER BY price",
		"SELECT * FROM items ORDER BY price DESC LIMIT 3",
		"SELECT name FROM items ORDER BY price LIMIT 2 OFFSET 2",
		"SELECT name FROM items WHERE price < 3 UNION SELECT name FROM items WHERE price > 7 ORDER BY name OFFSET 1",
		"SELECT __name__, name FROM items OFFSET 100",
	} {
		t.Run(sql, func(t *testing.T) {
			p := mustPlan(t, sql, Options{IncludeKey: "_key"})
			once := runPlan(p, fixtures())
			twice := p.Process(once)
			if !reflect.DeepEqual(keys(once), keys(twice)) {
				t.Fatalf("keys changed: %v -> %v", keys(once), keys(twice))
			}
			for i := range once {
				if !reflect.DeepEqual(once[i].Data, twice[i].Data) {
					t.Fatalf("row %d changed: %v -> %v", i, once[i].Data, twice[i].Data)
				}
			}
		})
	}
}

func TestProcessOffsetLimit(t *testing.T) {
	p := mustPlan(t, "SELECT * FROM items ORDER BY price LIMIT 2 OFFSET 1", Options{})
	in := []docstore.Document{
		doc("a", map[string]any{"price": 1}),
		doc("b", map[string]any{"price": 2}),
		doc("c", map[string]any{"price": 3}),
		doc("d", map[string]any{"price": 4}),
	}
	if got := keys(p.Process(in)); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("got %v", got)
	}

	p = mustPlan(t, "SELECT * FROM items LIMIT 0", Options{})
	if got := p.Process(in); len(got) != 0 {
		t.Fatalf("LIMIT 0 returned %d rows", len(got))
	}
}

func TestProcessProjection(t *testing.T) {
	d := doc("k1", map[string]any{
		"name":    "Ana",
		"address": map[string]any{"city": "Porto"},
		"secret":  "x",
	})
	p := mustPlan(t, "SELECT __name__ AS id, name AS who, address.city, missing FROM people", Options{})
	got := p.Process([]docstore.Document{d})
	want := map[string]any{"id": "k1", "who": "Ana", "address.city": "Porto"}
	if !reflect.DeepEqual(got[0].Data, want) {
		t.Fatalf("row = %v, want %v", got[0].Data, want)
	}

	p = mustPlan(t, "SELECT * FROM people", Options{IncludeKey: "id"})
	got = p.Process([]docstore.Document{d})
	if got[0].Data["id"] != "k1" || got[0].Data["secret"] != "x" {
		t.Fatalf("row = %v", got[0].Data)
	}
	if _, leaked := d.Data["id"]; leaked {
		t.Fatal("projection mutated the source document")
	}
}

func unionDocs(p *Plan) []docstore.Document {
	// price < 3 branch returns a, c; category = 'x' branch returns c, b.
	a := doc("a", map[string]any{"price": 1, "category": "y"})
	b := doc("b", map[string]any{"price": 9, "category": "x"})
	c := doc("c", map[string]any{"price": 2, "category": "x"})
	var out []docstore.Document
	for i, q := range p.Queries {
		if q.Branch == 0 {
			out = append(out, a.WithOrigin(i), c.WithOrigin(i))
		} else {
			out = append(out, c.WithOrigin(i), b.WithOrigin(i))
		}
	}
	return out
}

func TestProcessUnionDedup(t *testing.T) {
	p := mustPlan(t, "SELECT * FROM items WHERE price < 3 UNION SELECT * FROM items WHERE category = 'x'", Options{})
	if got := keys(p.Process(unionDocs(p))); !reflect.DeepEqual(got, []string{"a", "c", "b"}) {
		t.Fatalf("UNION = %v", got)
	}

	p = mustPlan(t, "SELECT * FROM items WHERE price < 3 UNION ALL SELECT * FROM items WHERE category = 'x'", Options{})
	if got := keys(p.Process(unionDocs(p))); !reflect.DeepEqual(got, []string{"a", "c", "c", "b"}) {
		t.Fatalf("UNION ALL = %v", got)
	}
}

func TestUnionOrderingModes(t *testing.T) {
	sql := "SELECT * FROM items WHERE price < 3 UNION SELECT * FROM items WHERE category = 'x' ORDER BY price DESC LIMIT 2"

	whole := mustPlan(t, sql, Options{UnionOrdering: UnionOrderWhole})
	for _, q := range whole.Queries {
		if q.Limit != 2 {
			t.Fatalf("whole: descriptor %s should carry the limit", q)
		}
	}
	if got := keys(whole.Process(unionDocs(whole))); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("whole = %v", got)
	}

	last := mustPlan(t, sql, Options{UnionOrdering: UnionOrderLastBranch})
	for _, q := range last.Queries {
		pushed := q.Limit == 2 && len(q.OrderBy) == 1
		if pushed != (q.Branch == 1) {
			t.Fatalf("last-branch: descriptor %s (branch %d) pushed=%v", q, q.Branch, pushed)
		}
	}
	if got := keys(last.Process(unionDocs(last))); !reflect.DeepEqual(got, []string{"a", "c", "b"}) {
		t.Fatalf("last-branch = %v", got)
	}
}

func TestLastBranchWindowsItsOwnRows(t *testing.T) {
	catalog := []docstore.Document{
		doc("a", map[string]any{"name": "a", "price": 1, "category": "y"}),
		doc("b", map[string]any{"name": "b", "price": 9, "category": "x"}),
		doc("c", map[string]any{"name": "c", "price": 2, "category": "x"}),
		doc("d", map[string]any{"name": "d", "price": 5, "category": "z"}),
	}
	cases := []struct {
		sql  string
		want []string
	}{
		// Two descriptors each keep their own top row; only one survives.
		{"SELECT * FROM items WHERE price < 2 UNION SELECT * FROM items WHERE category = 'x' OR category = 'z' ORDER BY price DESC LIMIT 1", []string{"a", "b"}},
		{"SELECT * FROM items WHERE price < 2 UNION SELECT * FROM items WHERE category = 'x' OR category = 'z' ORDER BY price LIMIT 1", []string{"a", "c"}},
		// Nothing is pushed for a residual branch, so the limit is applied here.
		{"SELECT * FROM items WHERE price < 2 UNION SELECT * FROM items WHERE name IS NOT NULL ORDER BY price DESC LIMIT 1", []string{"a", "b"}},
		{"SELECT * FROM items WHERE price < 2 UNION ALL SELECT * FROM items WHERE name IS NOT NULL ORDER BY price LIMIT 2 OFFSET 1", []string{"a", "c", "d"}},
	}
	for _, c := range cases {
		t.Run(c.sql, func(t *testing.T) {
			p := mustPlan(t, c.sql, Options{UnionOrdering: UnionOrderLastBranch})
			once := runPlan(p, catalog)
			if got := keys(once); !reflect.DeepEqual(got, c.want) {
				t.Fatalf("got %v, want %v", got, c.want)
			}
			if got := keys(p.Process(once)); !reflect.DeepEqual(got, c.want) {
				t.Fatalf("processing again gave %v", got)
			}
		})
	}
}

func TestParseUnionOrdering(t *testing.T) {
	for in, want := range map[string]UnionOrdering{"": UnionOrderWhole, "whole": UnionOrderWhole, "Last-Branch": UnionOrderLastBranch} {
		got, err := ParseUnionOrdering(in)
		if err != nil || got != want {
			t.Errorf("ParseUnionOrdering(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseUnionOrdering("first"); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}

func TestMatchesThreeValued(t *testing.T) {
	d := doc("k", map[string]any{"a": nil, "b": 3, "s": "hello"})
	cases := map[string]bool{
		"a = 1":                 false,
		"NOT (a = 1)":           false,
		"a IS NULL":             true,
		"missing IS NULL":       true,
		"b IS NOT NULL":         true,
		"b = 3 OR a = 1":        true,
		"NOT (b = 3 AND a = 1)": false,
		"s LIKE 'h_ll%'":        true,
		"s LIKE 'H%'":           false,
		"b IN (1, 2, 3)":        true,
		"b NOT IN (1, 2)":       true,
		"b BETWEEN 3 AND 4":     true,
		"b = 'three'":           false,
		"NOT (b = 'three')":     false,
	}
	for where, want := range cases {
		st := mustParse(t, "SELECT * FROM t WHERE "+where)
		if got := Matches(st.Where, d); got != want {
			t.Errorf("%s = %v, want %v", where, got, want)
		}
	}
}

func TestLikeCacheIsBounded(t *testing.T) {
	d := doc("k", map[string]any{"s": "pin"})
	for i := 0; i < 3*likeCacheSize; i++ {
		st := mustParse(t, fmt.Sprintf("SELECT * FROM t WHERE s LIKE '%%i%%%d'", i))
		if Matches(st.Where, d) {
			t.Fatalf("pattern %d matched", i)
		}
	}
	if n := likeCache.Len(); n > likeCacheSize {
		t.Fatalf("%d cached patterns, want at most %d", n, likeCacheSize)
	}
	if !Matches(mustParse(t, "SELECT * FROM t WHERE s LIKE '%i%'").Where, d) {
		t.Fatal("cached pattern stopped matching")
	}
}
