package query

import (
	"fmt"
	"sort"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/pkg/sqlast"
)

// Process turns the flattened documents of every descriptor of st into its
// SQL result set:
//
//  1. drop documents that fail the full WHERE of the branch they came from
//  2. drop repeated keys (per branch for UNION ALL)
//  3. stable-sort by ORDER BY
//  4. apply OFFSET and LIMIT
//  5. project the selected columns
//
// In last-branch mode steps 3 and 4 run on the last branch alone, before it
// is merged after the earlier branches.
//
// Documents carry their source fields through projection, so processing a
// result set again returns it unchanged.
func Process(st *sqlast.Statement, queries []docstore.Query, docs []docstore.Document, opts Options) []docstore.Document {
	if st == nil {
		return nil
	}
	branches := st.Branches()
	last := len(branches) - 1
	split := last > 0 && opts.UnionOrdering == UnionOrderLastBranch

	var head, tail []docstore.Document
	for _, d := range docs {
		branch, known := branchOf(d, queries, len(branches))
		if known {
			if !Matches(branches[branch].Where, d) {
				continue
			}
		} else if !matchesAny(branches, d) {
			continue
		}
		if split && known && branch == last {
			tail = append(tail, d)
		} else {
			head = append(head, d)
		}
	}

	var kept []docstore.Document
	if split {
		tail = dedup(tail, queries, len(branches), false)
		sortStable(tail, st.OrderBy)
		tail = window(tail, st.Limit, st.Offset)
		kept = dedup(append(head, tail...), queries, len(branches), st.UnionAll)
	} else {
		kept = dedup(head, queries, len(branches), st.UnionAll)
		sortStable(kept, st.OrderBy)
		kept = window(kept, st.Limit, st.Offset)
	}

	out := make([]docstore.Document, len(kept))
	for i, d := range kept {
		out[i] = d.Projected(project(st, d, opts.IncludeKey))
	}
	return out
}

// dedup keeps the first document of every key, or of every branch and key
// when perBranch is set.
func dedup(docs []docstore.Document, queries []docstore.Query, n int, perBranch bool) []docstore.Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]docstore.Document, 0, len(docs))
	for _, d := range docs {
		id := d.Key
		if perBranch {
			branch, _ := branchOf(d, queries, n)
			id = fmt.Sprintf("%d\x00%s", branch, d.Key)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, d)
	}
	return out
}

func branchOf(d docstore.Document, queries []docstore.Query, n int) (int, bool) {
	i := d.Origin()
	if i < 0 || i >= len(queries) {
		return 0, false
	}
	b := queries[i].Branch
	if b < 0 || b >= n {
		return 0, false
	}
	return b, true
}

func matchesAny(branches []*sqlast.Statement, d docstore.Document) bool {
	for _, b := range branches {
		if Matches(b.Where, d) {
			return true
		}
	}
	return false
}

func sortStable(docs []docstore.Document, order []sqlast.OrderTerm) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range order {
			a, aok := docstore.Field(docs[i], o.Field)
			b, bok := docstore.Field(docs[j], o.Field)
			c := docstore.CompareField(a, aok, b, bok)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// window applies OFFSET then LIMIT. A set that is already a processed
// result has had its offset applied and is only limited.
func window(docs []docstore.Document, limit, offset *int64) []docstore.Document {
	if offset != nil && *offset > 0 && !allFinal(docs) {
		if int(*offset) >= len(docs) {
			return docs[:0]
		}
		docs = docs[*offset:]
	}
	if limit != nil && int(*limit) < len(docs) {
		docs = docs[:*limit]
	}
	return docs
}

func allFinal(docs []docstore.Document) bool {
	if len(docs) == 0 {
		return false
	}
	for _, d := range docs {
		if !d.Final() {
			return false
		}
	}
	return true
}

func project(st *sqlast.Statement, d docstore.Document, includeKey string) map[string]any {
	src := d.Source()
	var out map[string]any
	if st.IsStar() {
		out = make(map[string]any, len(src)+1)
		for k, v := range src {
			out[k] = v
		}
	} else {
		out = make(map[string]any, len(st.Columns)+1)
		for _, c := range st.Columns {
			if v, ok := docstore.Field(d, c.Field); ok {
				out[c.Name()] = v
			}
		}
	}
	if includeKey != "" {
		out[includeKey] = d.Key
	}
	return out
}
