package docstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// KeyField addresses the document key as if it were a field.
const KeyField = "__name__"

// Field resolves a dotted path against a document's source fields.
func Field(d Document, path string) (any, bool) {
	if path == KeyField {
		return d.Key, true
	}
	return Lookup(d.Source(), path)
}

// Lookup resolves a dotted path into nested maps.
func Lookup(data map[string]any, path string) (any, bool) {
	if v, ok := data[path]; ok {
		return v, true
	}
	cur := any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Type ranks, lowest first. Values of different ranks never compare equal
// and order by rank.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankTime
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case string:
		return rankString
	case time.Time:
		return rankTime
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	return rankOther
}

// Comparable reports whether a and b share a type rank.
func Comparable(a, b any) bool { return rank(a) == rank(b) }

// Compare orders two values: -1, 0 or 1. Mixed types order by rank
// null < bool < number < string < time < other.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case rankNumber:
		x, _ := toFloat(a)
		y, _ := toFloat(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

// CompareField orders two possibly-absent field values; absent sorts
// before every present value, including null.
func CompareField(a any, aok bool, b any, bok bool) int {
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	return Compare(a, b)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// MatchFilter evaluates one native filter against a document.
func MatchFilter(f Filter, d Document) bool {
	v, ok := Field(d, f.Field)
	if f.Op == Eq && f.Value == nil {
		return !ok || v == nil
	}
	if !ok || v == nil || !Comparable(v, f.Value) {
		return false
	}
	c := Compare(v, f.Value)
	switch f.Op {
	case Eq:
		return c == 0
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	}
	return false
}

// Match reports whether d satisfies every filter of q.
func Match(q Query, d Document) bool {
	for _, f := range q.Filters {
		if !MatchFilter(f, d) {
			return false
		}
	}
	return true
}

// SortDocuments sorts docs in place by the given keys, stable, with the
// document key as the final tie breaker.
func SortDocuments(docs []Document, orders []Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orders {
			a, aok := Field(docs[i], o.Field)
			b, bok := Field(docs[j], o.Field)
			c := CompareField(a, aok, b, bok)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return docs[i].Key < docs[j].Key
	})
}

// Execute runs q against an unordered set of documents, the way a store
// without indexes would.
func Execute(q Query, docs []Document) Snapshot {
	out := make(Snapshot, 0, len(docs))
	for _, d := range docs {
		if Match(q, d) {
			out = append(out, d)
		}
	}
	SortDocuments(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// SameSnapshot reports whether two snapshots hold the same documents, in
// the same order, with equal data.
func SameSnapshot(a, b Snapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key || !equalValue(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !equalValue(v, w) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equalValue(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	if Comparable(a, b) && rank(a) != rankOther {
		return Compare(a, b) == 0
	}
	return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
}
