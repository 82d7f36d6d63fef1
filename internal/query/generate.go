// Package query translates SQL statements into native document queries and
// re-applies, on the client side, the SQL semantics those queries cannot
// express.
package query

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/pkg/sqlast"
)

// likeUpperBound closes a prefix range; it sorts after any other code point.
const likeUpperBound = "\U0010FFFF"

// atom is one conjunct member. Residual atoms are enforced after the fact
// by Process instead of by the store.
type atom struct {
	f        docstore.Filter
	residual bool
}

type conjunct []atom

type dnf []conjunct

// Generate translates one SELECT (its UNION continuation is ignored) into
// native query descriptors whose union matches exactly its WHERE clause.
// root prefixes the collection named in FROM.
func Generate(root string, st *sqlast.Statement, opts Options) ([]docstore.Query, error) {
	if err := validateBranch(st, 0); err != nil {
		return nil, err
	}
	qs, residual, err := generateBranch(root, st, 0, opts)
	if err != nil {
		return nil, err
	}
	if !residual {
		pushWindow(qs, st.OrderBy, st.Limit, st.Offset)
	}
	return qs, nil
}

func generateBranch(root string, st *sqlast.Statement, branch int, opts Options) ([]docstore.Query, bool, error) {
	collection, err := ResolveCollection(root, st.Collection)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Branch = branch
		}
		return nil, false, err
	}

	terms := dnf{conjunct{}}
	if st.Where != nil {
		terms, err = normalize(st.Where, false, opts.maxQueries())
		if err != nil {
			return nil, false, &TranslationError{Branch: branch, Clause: "WHERE", Reason: err.Error()}
		}
	}
	terms = dedupe(terms)
	if len(terms) > opts.maxQueries() {
		return nil, false, &TranslationError{
			Branch: branch,
			Clause: "WHERE",
			Reason: fmt.Sprintf("expands to %d native queries, more than the limit of %d", len(terms), opts.maxQueries()),
		}
	}

	residual := false
	qs := make([]docstore.Query, 0, len(terms))
	for _, c := range terms {
		q := docstore.Query{Collection: collection, Branch: branch}
		rangeField := ""
		for _, a := range c {
			if a.residual {
				residual = true
				continue
			}
			if a.f.Op.IsRange() {
				if rangeField == "" {
					rangeField = a.f.Field
				} else if rangeField != a.f.Field {
					// Native queries filter ranges on one field only.
					residual = true
					continue
				}
			}
			q.Filters = append(q.Filters, a.f)
		}
		qs = append(qs, q)
	}
	return qs, residual, nil
}

// ResolveCollection places a collection name under root. Names that are
// absolute or climb with ".." are rejected so no statement can reach a
// collection outside root.
func ResolveCollection(root, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return "", &ValidationError{Reason: fmt.Sprintf("invalid collection %q", name)}
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", &ValidationError{Reason: fmt.Sprintf("collection %q leaves its root", name)}
		}
	}
	if root == "" {
		return path.Clean(name), nil
	}
	return path.Join(root, name), nil
}

// WithinRoot reports whether collection is a clean name under root.
func WithinRoot(root, collection string) bool {
	rel := collection
	if root != "" {
		var ok bool
		if rel, ok = strings.CutPrefix(collection, path.Clean(root)+"/"); !ok {
			return false
		}
	}
	_, err := ResolveCollection("", rel)
	return err == nil && path.Clean(rel) == rel
}

// pushWindow copies ORDER BY and offset+limit into every descriptor whose
// range field, if it has one, is the leading sort field. The union of
// per-descriptor top-n always contains the overall top-n; descriptors left
// out return their whole match set.
func pushWindow(qs []docstore.Query, order []sqlast.OrderTerm, limit, offset *int64) {
	if len(order) == 0 && limit == nil {
		return
	}
	n := 0
	if limit != nil {
		n = int(*limit)
		if offset != nil {
			n += int(*offset)
		}
		if n == 0 {
			// LIMIT 0 has nothing to fetch, but a store limit of 0 means none.
			n = 1
		}
	}
	for i := range qs {
		if !orderFits(qs[i], order) {
			continue
		}
		qs[i].OrderBy = nativeOrder(order)
		qs[i].Limit = n
	}
}

// orderFits reports whether a store can sort q by order: a range filter
// pins the first sort field to the filtered one.
func orderFits(q docstore.Query, order []sqlast.OrderTerm) bool {
	if len(order) == 0 {
		return true
	}
	for _, f := range q.Filters {
		if f.Op.IsRange() {
			return f.Field == order[0].Field
		}
	}
	return true
}

func nativeOrder(order []sqlast.OrderTerm) []docstore.Order {
	if len(order) == 0 {
		return nil
	}
	out := make([]docstore.Order, len(order))
	for i, o := range order {
		out[i] = docstore.Order{Field: o.Field, Desc: o.Desc}
	}
	return out
}

// normalize rewrites e (negated when neg is set) into disjunctive normal
// form over native filters.
func normalize(e sqlast.Expr, neg bool, max int) (dnf, error) {
	switch x := e.(type) {
	case sqlast.And:
		if neg {
			return normalize(sqlast.Or{Args: negateAll(x.Args)}, false, max)
		}
		out := dnf{conjunct{}}
		for _, a := range x.Args {
			d, err := normalize(a, false, max)
			if err != nil {
				return nil, err
			}
			if out, err = product(out, d, max); err != nil {
				return nil, err
			}
		}
		return out, nil

	case sqlast.Or:
		if neg {
			return normalize(sqlast.And{Args: negateAll(x.Args)}, false, max)
		}
		var out dnf
		for _, a := range x.Args {
			d, err := normalize(a, false, max)
			if err != nil {
				return nil, err
			}
			out = append(out, d...)
		}
		return out, nil

	case sqlast.Not:
		return normalize(x.Arg, !neg, max)

	case sqlast.Compare:
		op := x.Op
		if neg {
			op = op.Negate()
		}
		if x.Value == nil {
			return nil, fmt.Errorf("%s compares with NULL and never matches; use IS NULL", x)
		}
		if op == sqlast.OpNe {
			return dnf{
				{{f: docstore.Filter{Field: x.Field, Op: docstore.Lt, Value: x.Value}}},
				{{f: docstore.Filter{Field: x.Field, Op: docstore.Gt, Value: x.Value}}},
			}, nil
		}
		return dnf{{{f: docstore.Filter{Field: x.Field, Op: nativeOp(op), Value: x.Value}}}}, nil

	case sqlast.In:
		if len(x.Values) == 0 {
			return nil, fmt.Errorf("%s has an empty value list", x)
		}
		args := make([]sqlast.Expr, len(x.Values))
		for i, v := range x.Values {
			if v == nil {
				return nil, fmt.Errorf("%s contains NULL", x)
			}
			args[i] = sqlast.Compare{Field: x.Field, Op: sqlast.OpEq, Value: v}
		}
		if x.Negate != neg {
			return normalize(sqlast.And{Args: negateAll(args)}, false, max)
		}
		return normalize(sqlast.Or{Args: args}, false, max)

	case sqlast.Between:
		lo := sqlast.Compare{Field: x.Field, Op: sqlast.OpGte, Value: x.Lo}
		hi := sqlast.Compare{Field: x.Field, Op: sqlast.OpLte, Value: x.Hi}
		if x.Negate != neg {
			return normalize(sqlast.Or{Args: []sqlast.Expr{sqlast.Not{Arg: lo}, sqlast.Not{Arg: hi}}}, false, max)
		}
		return normalize(sqlast.And{Args: []sqlast.Expr{lo, hi}}, false, max)

	case sqlast.Like:
		if x.Negate != neg {
			return nil, fmt.Errorf("%s: NOT LIKE is not supported", x)
		}
		prefix, exact, ok := likePrefix(x.Pattern)
		if !ok {
			return nil, fmt.Errorf("%s: only prefix patterns ('abc%%') are supported", x)
		}
		if exact {
			return dnf{{{f: docstore.Filter{Field: x.Field, Op: docstore.Eq, Value: prefix}}}}, nil
		}
		return dnf{{
			{f: docstore.Filter{Field: x.Field, Op: docstore.Gte, Value: prefix}},
			{f: docstore.Filter{Field: x.Field, Op: docstore.Lt, Value: prefix + likeUpperBound}},
		}}, nil

	case sqlast.IsNull:
		if x.Negate != neg {
			// Not expressible natively; any document may qualify.
			return dnf{{{residual: true}}}, nil
		}
		return dnf{{{f: docstore.Filter{Field: x.Field, Op: docstore.Eq, Value: nil}}}}, nil
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func negateAll(args []sqlast.Expr) []sqlast.Expr {
	out := make([]sqlast.Expr, len(args))
	for i, a := range args {
		out[i] = sqlast.Not{Arg: a}
	}
	return out
}

func product(a, b dnf, max int) (dnf, error) {
	if len(a)*len(b) > max {
		return nil, fmt.Errorf("expands to more than %d native queries", max)
	}
	out := make(dnf, 0, len(a)*len(b))
	for _, x := range a {
		for _, y := range b {
			c := make(conjunct, 0, len(x)+len(y))
			c = append(c, x...)
			c = append(c, y...)
			out = append(out, c)
		}
	}
	return out, nil
}

// dedupe drops repeated atoms within a conjunct and repeated conjuncts,
// keeping first occurrences in order.
func dedupe(d dnf) dnf {
	seen := map[string]struct{}{}
	out := make(dnf, 0, len(d))
	for _, c := range d {
		atoms := map[string]struct{}{}
		kept := make(conjunct, 0, len(c))
		keys := make([]string, 0, len(c))
		for _, a := range c {
			k := atomKey(a)
			if _, dup := atoms[k]; dup {
				continue
			}
			atoms[k] = struct{}{}
			kept = append(kept, a)
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ck := strings.Join(keys, "\x00")
		if _, dup := seen[ck]; dup {
			continue
		}
		seen[ck] = struct{}{}
		out = append(out, kept)
	}
	return out
}

func atomKey(a atom) string {
	if a.residual {
		return "residual"
	}
	return fmt.Sprintf("%s\x01%s\x01%T\x01%v", a.f.Field, a.f.Op, a.f.Value, a.f.Value)
}

func nativeOp(op sqlast.CompareOp) docstore.Op {
	switch op {
	case sqlast.OpLt:
		return docstore.Lt
	case sqlast.OpLte:
		return docstore.Lte
	case sqlast.OpGt:
		return docstore.Gt
	case sqlast.OpGte:
		return docstore.Gte
	}
	return docstore.Eq
}

// likePrefix accepts 'abc%' and wildcard-free patterns.
func likePrefix(p string) (prefix string, exact, ok bool) {
	body := p
	if strings.HasSuffix(body, "%") {
		body = strings.TrimSuffix(body, "%")
	} else {
		exact = true
	}
	if strings.ContainsAny(body, "%_\\") {
		return "", false, false
	}
	return body, exact, true
}
