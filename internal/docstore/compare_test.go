package docstore

import (
	"testing"
	"time"
)

func TestCompareRanks(t *testing.T) {
	ordered := []any{nil, false, true, int64(-3), 2.5, 10, "apple", "banana", time.Unix(0, 0), time.Unix(10, 0)}
	for i := range ordered {
		for j := range ordered {
			got := Compare(ordered[i], ordered[j])
			want := cmpInt(i, j)
			if got != want {
				t.Errorf("Compare(%#v, %#v) = %d, want %d", ordered[i], ordered[j], got, want)
			}
		}
	}
}

func TestCompareNumbersAcrossGoTypes(t *testing.T) {
	if Compare(int64(10), 10.0) != 0 {
		t.Fatal("int64(10) and 10.0 should compare equal")
	}
	if Compare(uint8(3), int32(4)) != -1 {
		t.Fatal("uint8(3) should sort before int32(4)")
	}
}

func TestLookupNestedAndDotted(t *testing.T) {
	data := map[string]any{
		"address": map[string]any{"city": "Lisbon"},
		"a.b":     1,
	}
	if v, ok := Lookup(data, "address.city"); !ok || v != "Lisbon" {
		t.Fatalf("address.city = %v, %v", v, ok)
	}
	if v, ok := Lookup(data, "a.b"); !ok || v != 1 {
		t.Fatalf("literal dotted key = %v, %v", v, ok)
	}
	if _, ok := Lookup(data, "address.zip"); ok {
		t.Fatal("address.zip should be absent")
	}
}

func TestMatchFilter(t *testing.T) {
	doc := Document{Key: "k1", Data: map[string]any{"price": 5.0, "name": "pen", "gone": nil}}

	cases := []struct {
		f    Filter
		want bool
	}{
		{Filter{"price", Lt, int64(10)}, true},
		{Filter{"price", Gte, 5}, true},
		{Filter{"price", Gt, 5}, false},
		{Filter{"price", Lt, "10"}, false}, // different type never matches a range
		{Filter{"name", Eq, "pen"}, true},
		{Filter{"gone", Eq, nil}, true},
		{Filter{"missing", Eq, nil}, true},
		{Filter{"missing", Gt, 0}, false},
		{Filter{KeyField, Eq, "k1"}, true},
	}
	for _, c := range cases {
		if got := MatchFilter(c.f, doc); got != c.want {
			t.Errorf("MatchFilter(%+v) = %v, want %v", c.f, got, c.want)
		}
	}
}

func TestExecuteOrdersAndLimits(t *testing.T) {
	docs := []Document{
		{Key: "c", Data: map[string]any{"age": 30}},
		{Key: "a", Data: map[string]any{"age": 10}},
		{Key: "b", Data: map[string]any{"age": 20}},
		{Key: "d", Data: map[string]any{}},
	}
	got := Execute(Query{OrderBy: []Order{{Field: "age", Desc: true}}, Limit: 2}, docs)
	if len(got) != 2 || got[0].Key != "c" || got[1].Key != "b" {
		t.Fatalf("unexpected result %+v", got)
	}
	got = Execute(Query{OrderBy: []Order{{Field: "age"}}}, docs)
	if got[0].Key != "d" {
		t.Fatalf("absent field should sort first, got %s", got[0].Key)
	}
}

func TestSameSnapshot(t *testing.T) {
	a := Snapshot{{Key: "1", Data: map[string]any{"n": 1, "tags": []any{"x"}}}}
	b := Snapshot{{Key: "1", Data: map[string]any{"n": 1.0, "tags": []any{"x"}}}}
	if !SameSnapshot(a, b) {
		t.Fatal("numerically equal snapshots should be the same")
	}
	c := Snapshot{{Key: "1", Data: map[string]any{"n": 2}}}
	if SameSnapshot(a, c) {
		t.Fatal("different data should differ")
	}
}

func TestProjectedKeepsSource(t *testing.T) {
	d := Document{Key: "1", Data: map[string]any{"a": 1, "b": 2}}
	p := d.Projected(map[string]any{"a": 1})
	if _, ok := Field(p, "b"); !ok {
		t.Fatal("projected document lost its source field")
	}
	if !p.Final() || d.Final() {
		t.Fatal("only the projected copy is final")
	}
}
