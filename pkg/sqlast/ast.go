// Package sqlast turns SQL text into a small, immutable statement tree that
// the live query engine can reason about. Parsing is delegated to the
// PostgreSQL parser (pg_query); this package only keeps the shapes a
// document query can use.
package sqlast

import (
	"fmt"
	"strings"
)

// Kind is the statement kind of a parsed statement.
type Kind string

const (
	KindSelect Kind = "select"
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindOther  Kind = "other"
)

// KeyField is the pseudo-field that addresses a document's key.
const KeyField = "__name__"

// Statement is one SELECT. A UNION is a chain of statements linked by Next.
type Statement struct {
	Kind       Kind
	Columns    []Column // empty means *
	Collection string
	Alias      string
	Where      Expr
	OrderBy    []OrderTerm
	Limit      *int64
	Offset     *int64

	// Next is the UNION continuation; UnionAll tells how it is joined.
	Next     *Statement
	UnionAll bool

	// Unsupported records clauses that parsed fine but that a document
	// query cannot express (GROUP BY, joins, ...). Validation reports them.
	Unsupported []string
}

// Column is one projected field.
type Column struct {
	Field string
	Alias string
}

// Name is the output name of the column.
func (c Column) Name() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Field
}

// OrderTerm is one ORDER BY key.
type OrderTerm struct {
	Field string
	Desc  bool
}

// Branches returns the statement and every UNION continuation, in order.
func (s *Statement) Branches() []*Statement {
	var out []*Statement
	for b := s; b != nil; b = b.Next {
		out = append(out, b)
	}
	return out
}

// IsStar reports whether the statement selects every field.
func (s *Statement) IsStar() bool { return len(s.Columns) == 0 }

// Expr is a node of a WHERE tree.
type Expr interface {
	fmt.Stringer
	expr()
}

// And is a conjunction.
type And struct{ Args []Expr }

// Or is a disjunction.
type Or struct{ Args []Expr }

// Not negates its argument.
type Not struct{ Arg Expr }

// CompareOp is a binary comparison operator.
type CompareOp string

const (
	OpEq  CompareOp = "="
	OpNe  CompareOp = "!="
	OpLt  CompareOp = "<"
	OpLte CompareOp = "<="
	OpGt  CompareOp = ">"
	OpGte CompareOp = ">="
)

// Negate returns the operator matching exactly the complement.
func (op CompareOp) Negate() CompareOp {
	switch op {
	case OpEq:
		return OpNe
	case OpNe:
		return OpEq
	case OpLt:
		return OpGte
	case OpLte:
		return OpGt
	case OpGt:
		return OpLte
	case OpGte:
		return OpLt
	}
	return op
}

// Compare is `field op value`.
type Compare struct {
	Field string
	Op    CompareOp
	Value any
}

// In is `field [NOT] IN (values...)`.
type In struct {
	Field  string
	Values []any
	Negate bool
}

// Between is `field [NOT] BETWEEN lo AND hi`.
type Between struct {
	Field  string
	Lo, Hi any
	Negate bool
}

// Like is `field [NOT] LIKE pattern`.
type Like struct {
	Field   string
	Pattern string
	Negate  bool
}

// IsNull is `field IS [NOT] NULL`.
type IsNull struct {
	Field  string
	Negate bool
}

func (And) expr()     {}
func (Or) expr()      {}
func (Not) expr()     {}
func (Compare) expr() {}
func (In) expr()      {}
func (Between) expr() {}
func (Like) expr()    {}
func (IsNull) expr()  {}

func (e And) String() string { return joinExprs(e.Args, " AND ") }
func (e Or) String() string  { return joinExprs(e.Args, " OR ") }
func (e Not) String() string { return "NOT (" + e.Arg.String() + ")" }

func (e Compare) String() string {
	return fmt.Sprintf("%s %s %s", e.Field, e.Op, literal(e.Value))
}

func (e In) String() string {
	vals := make([]string, len(e.Values))
	for i, v := range e.Values {
		vals[i] = literal(v)
	}
	return fmt.Sprintf("%s %sIN (%s)", e.Field, not(e.Negate), strings.Join(vals, ", "))
}

func (e Between) String() string {
	return fmt.Sprintf("%s %sBETWEEN %s AND %s", e.Field, not(e.Negate), literal(e.Lo), literal(e.Hi))
}

func (e Like) String() string {
	return fmt.Sprintf("%s %sLIKE %s", e.Field, not(e.Negate), literal(e.Pattern))
}

func (e IsNull) String() string {
	return fmt.Sprintf("%s IS %sNULL", e.Field, not(e.Negate))
}

func joinExprs(args []Expr, sep string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = "(" + a.String() + ")"
	}
	return strings.Join(parts, sep)
}

func not(b bool) string {
	if b {
		return "NOT "
	}
	return ""
}

func literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", t)
	}
}
