package sqlast

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ErrEmptyQuery is returned for blank SQL text.
var ErrEmptyQuery = errors.New("query text must be a non-empty string")

// ParseError wraps a syntax error reported by the parser.
type ParseError struct {
	SQL string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse error: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Parse parses a single SQL statement. Non-SELECT statements parse
// successfully with the matching Kind so callers can reject them with a
// precise message. For a UNION, the root statement's OrderBy, Limit and
// Offset hold the clauses trailing the whole UNION.
func Parse(sql string) (*Statement, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, ErrEmptyQuery
	}
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, &ParseError{SQL: sql, Err: err}
	}
	stmts := tree.GetStmts()
	if len(stmts) != 1 {
		return nil, &ParseError{SQL: sql, Err: fmt.Errorf("expected exactly one statement, got %d", len(stmts))}
	}

	node := stmts[0].GetStmt()
	switch {
	case node.GetSelectStmt() != nil:
		return fromSelect(node.GetSelectStmt()), nil
	case node.GetInsertStmt() != nil:
		return &Statement{Kind: KindInsert}, nil
	case node.GetUpdateStmt() != nil:
		return &Statement{Kind: KindUpdate}, nil
	case node.GetDeleteStmt() != nil:
		return &Statement{Kind: KindDelete}, nil
	default:
		return &Statement{Kind: KindOther}, nil
	}
}

// fromSelect converts a top-level SelectStmt, flattening set operations
// into a Next chain.
func fromSelect(sel *pg_query.SelectStmt) *Statement {
	if sel.GetOp() != pg_query.SetOperation_SETOP_UNION &&
		sel.GetOp() != pg_query.SetOperation_SETOP_INTERSECT &&
		sel.GetOp() != pg_query.SetOperation_SETOP_EXCEPT {
		return convertSimple(sel)
	}

	var (
		leaves  []*pg_query.SelectStmt
		allFlag []bool
		notes   []string
	)
	var walk func(s *pg_query.SelectStmt, nested bool)
	walk = func(s *pg_query.SelectStmt, nested bool) {
		switch s.GetOp() {
		case pg_query.SetOperation_SETOP_UNION:
			if nested && (len(s.GetSortClause()) > 0 || s.GetLimitCount() != nil || s.GetLimitOffset() != nil) {
				notes = append(notes, "ORDER BY/LIMIT inside a UNION branch")
			}
			walk(s.GetLarg(), true)
			allFlag = append(allFlag, s.GetAll())
			walk(s.GetRarg(), true)
		case pg_query.SetOperation_SETOP_INTERSECT:
			notes = append(notes, "INTERSECT")
			walk(s.GetLarg(), true)
			allFlag = append(allFlag, s.GetAll())
			walk(s.GetRarg(), true)
		case pg_query.SetOperation_SETOP_EXCEPT:
			notes = append(notes, "EXCEPT")
			walk(s.GetLarg(), true)
			allFlag = append(allFlag, s.GetAll())
			walk(s.GetRarg(), true)
		default:
			leaves = append(leaves, s)
		}
	}
	walk(sel, false)

	branches := make([]*Statement, len(leaves))
	for i, leaf := range leaves {
		branches[i] = convertSimple(leaf)
		b := branches[i]
		if len(b.OrderBy) > 0 || b.Limit != nil || b.Offset != nil {
			b.Unsupported = append(b.Unsupported, "ORDER BY/LIMIT inside a UNION branch")
		}
		if i > 0 {
			branches[i-1].Next = b
			branches[i-1].UnionAll = allFlag[i-1]
		}
	}
	for i := 1; i < len(allFlag); i++ {
		if allFlag[i] != allFlag[0] {
			notes = append(notes, "mixing UNION and UNION ALL")
			break
		}
	}

	root := branches[0]
	root.Unsupported = append(root.Unsupported, notes...)

	// Trailing clauses belong to the whole UNION; keep them on the root.
	trailing := &Statement{Collection: root.Collection, Alias: root.Alias}
	convertOrderLimit(sel, trailing, root.Columns)
	if len(trailing.OrderBy) > 0 || trailing.Limit != nil || trailing.Offset != nil {
		root.OrderBy, root.Limit, root.Offset = trailing.OrderBy, trailing.Limit, trailing.Offset
	}
	root.Unsupported = append(root.Unsupported, trailing.Unsupported...)
	return root
}

func convertSimple(sel *pg_query.SelectStmt) *Statement {
	st := &Statement{Kind: KindSelect}

	if sel.GetWithClause() != nil {
		st.Unsupported = append(st.Unsupported, "WITH")
	}
	if len(sel.GetGroupClause()) > 0 {
		st.Unsupported = append(st.Unsupported, "GROUP BY")
	}
	if sel.GetHavingClause() != nil {
		st.Unsupported = append(st.Unsupported, "HAVING")
	}
	if len(sel.GetDistinctClause()) > 0 {
		st.Unsupported = append(st.Unsupported, "DISTINCT")
	}
	if len(sel.GetValuesLists()) > 0 {
		st.Unsupported = append(st.Unsupported, "VALUES")
	}

	convertFrom(sel.GetFromClause(), st)
	convertTargets(sel.GetTargetList(), st)

	if w := sel.GetWhereClause(); w != nil {
		expr, err := st.convertExpr(w)
		if err != nil {
			st.Unsupported = append(st.Unsupported, "WHERE: "+err.Error())
		} else {
			st.Where = expr
		}
	}

	convertOrderLimit(sel, st, st.Columns)
	return st
}

func convertFrom(from []*pg_query.Node, st *Statement) {
	if len(from) == 0 {
		st.Unsupported = append(st.Unsupported, "missing FROM collection")
		return
	}
	if len(from) > 1 {
		st.Unsupported = append(st.Unsupported, "multiple FROM collections")
		return
	}
	switch n := from[0]; {
	case n.GetRangeVar() != nil:
		rv := n.GetRangeVar()
		st.Collection = rv.GetRelname()
		if sch := rv.GetSchemaname(); sch != "" {
			st.Collection = sch + "." + st.Collection
		}
		if rv.GetAlias() != nil {
			st.Alias = rv.GetAlias().GetAliasname()
		}
	case n.GetJoinExpr() != nil:
		st.Unsupported = append(st.Unsupported, "JOIN")
	case n.GetRangeSubselect() != nil:
		st.Unsupported = append(st.Unsupported, "subquery in FROM")
	default:
		st.Unsupported = append(st.Unsupported, "unsupported FROM item")
	}
}

func convertTargets(targets []*pg_query.Node, st *Statement) {
	star := false
	for _, t := range targets {
		rt := t.GetResTarget()
		if rt == nil {
			continue
		}
		val := rt.GetVal()
		switch {
		case val.GetColumnRef() != nil:
			if isStar(val.GetColumnRef()) {
				star = true
				continue
			}
			field, err := st.fieldName(val)
			if err != nil {
				st.Unsupported = append(st.Unsupported, "SELECT: "+err.Error())
				continue
			}
			st.Columns = append(st.Columns, Column{Field: field, Alias: rt.GetName()})
		case val.GetFuncCall() != nil:
			st.Unsupported = append(st.Unsupported, "function or aggregate in SELECT list")
		default:
			st.Unsupported = append(st.Unsupported, "expression in SELECT list")
		}
	}
	if star && len(st.Columns) > 0 {
		st.Unsupported = append(st.Unsupported, "* combined with named columns")
	}
	if star {
		st.Columns = nil
	}
}

func convertOrderLimit(sel *pg_query.SelectStmt, st *Statement, cols []Column) {
	for _, n := range sel.GetSortClause() {
		sb := n.GetSortBy()
		if sb == nil {
			continue
		}
		term := OrderTerm{Desc: sb.GetSortbyDir() == pg_query.SortByDir_SORTBY_DESC}
		switch inner := sb.GetNode(); {
		case inner.GetColumnRef() != nil:
			field, err := st.fieldName(inner)
			if err != nil {
				st.Unsupported = append(st.Unsupported, "ORDER BY: "+err.Error())
				continue
			}
			term.Field = resolveAlias(field, cols)
		case inner.GetAConst() != nil && inner.GetAConst().GetIval() != nil:
			pos := int(inner.GetAConst().GetIval().GetIval())
			if pos < 1 || pos > len(cols) {
				st.Unsupported = append(st.Unsupported, fmt.Sprintf("ORDER BY position %d is not in select list", pos))
				continue
			}
			term.Field = cols[pos-1].Field
		default:
			st.Unsupported = append(st.Unsupported, "ORDER BY expression")
			continue
		}
		st.OrderBy = append(st.OrderBy, term)
	}

	if n := sel.GetLimitCount(); n != nil {
		v, ok, err := intConst(n)
		switch {
		case err != nil:
			st.Unsupported = append(st.Unsupported, "LIMIT: "+err.Error())
		case ok:
			st.Limit = &v
		}
	}
	if n := sel.GetLimitOffset(); n != nil {
		v, ok, err := intConst(n)
		switch {
		case err != nil:
			st.Unsupported = append(st.Unsupported, "OFFSET: "+err.Error())
		case ok:
			st.Offset = &v
		}
	}
}

// resolveAlias maps an output alias used in ORDER BY back to its field.
func resolveAlias(field string, cols []Column) string {
	for _, c := range cols {
		if c.Alias != "" && c.Alias == field {
			return c.Field
		}
	}
	return field
}

// intConst reads a LIMIT/OFFSET value. LIMIT ALL yields ok=false.
func intConst(n *pg_query.Node) (int64, bool, error) {
	c := n.GetAConst()
	if c == nil {
		return 0, false, errors.New("must be an integer constant")
	}
	if c.GetIsnull() {
		return 0, false, nil
	}
	if c.GetIval() == nil {
		return 0, false, errors.New("must be an integer constant")
	}
	v := int64(c.GetIval().GetIval())
	if v < 0 {
		return 0, false, errors.New("must not be negative")
	}
	return v, true, nil
}

func (st *Statement) convertExpr(n *pg_query.Node) (Expr, error) {
	switch {
	case n.GetBoolExpr() != nil:
		be := n.GetBoolExpr()
		args := make([]Expr, 0, len(be.GetArgs()))
		for _, a := range be.GetArgs() {
			e, err := st.convertExpr(a)
			if err != nil {
				return nil, err
			}
			args = append(args, e)
		}
		switch be.GetBoolop() {
		case pg_query.BoolExprType_AND_EXPR:
			return And{Args: args}, nil
		case pg_query.BoolExprType_OR_EXPR:
			return Or{Args: args}, nil
		case pg_query.BoolExprType_NOT_EXPR:
			if len(args) != 1 {
				return nil, errors.New("NOT takes one argument")
			}
			return Not{Arg: args[0]}, nil
		}
		return nil, fmt.Errorf("boolean operator %s", be.GetBoolop())

	case n.GetNullTest() != nil:
		nt := n.GetNullTest()
		field, err := st.fieldName(nt.GetArg())
		if err != nil {
			return nil, err
		}
		return IsNull{Field: field, Negate: nt.GetNulltesttype() == pg_query.NullTestType_IS_NOT_NULL}, nil

	case n.GetAExpr() != nil:
		return st.convertAExpr(n.GetAExpr())

	case n.GetColumnRef() != nil:
		// A bare boolean column: WHERE active
		field, err := st.fieldName(n)
		if err != nil {
			return nil, err
		}
		return Compare{Field: field, Op: OpEq, Value: true}, nil

	case n.GetSubLink() != nil:
		return nil, errors.New("subquery")
	case n.GetFuncCall() != nil:
		return nil, errors.New("function call")
	}
	return nil, errors.New("unsupported expression")
}

func (st *Statement) convertAExpr(ae *pg_query.A_Expr) (Expr, error) {
	op := opName(ae)
	switch ae.GetKind() {
	case pg_query.A_Expr_Kind_AEXPR_OP:
		lf, lerr := st.fieldName(ae.GetLexpr())
		rf, rerr := st.fieldName(ae.GetRexpr())
		cop, ok := compareOp(op)
		if !ok {
			return nil, fmt.Errorf("operator %q", op)
		}
		switch {
		case lerr == nil && rerr == nil:
			return nil, fmt.Errorf("comparison between fields %s and %s", lf, rf)
		case lerr == nil:
			v, err := constValue(ae.GetRexpr())
			if err != nil {
				return nil, err
			}
			return Compare{Field: lf, Op: cop, Value: v}, nil
		case rerr == nil:
			v, err := constValue(ae.GetLexpr())
			if err != nil {
				return nil, err
			}
			return Compare{Field: rf, Op: flip(cop), Value: v}, nil
		}
		return nil, errors.New("comparison without a field")

	case pg_query.A_Expr_Kind_AEXPR_IN:
		field, err := st.fieldName(ae.GetLexpr())
		if err != nil {
			return nil, err
		}
		list := ae.GetRexpr().GetList()
		if list == nil {
			return nil, errors.New("IN requires a value list")
		}
		vals := make([]any, 0, len(list.GetItems()))
		for _, it := range list.GetItems() {
			v, err := constValue(it)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return In{Field: field, Values: vals, Negate: op == "<>"}, nil

	case pg_query.A_Expr_Kind_AEXPR_LIKE:
		field, err := st.fieldName(ae.GetLexpr())
		if err != nil {
			return nil, err
		}
		v, err := constValue(ae.GetRexpr())
		if err != nil {
			return nil, err
		}
		pat, ok := v.(string)
		if !ok {
			return nil, errors.New("LIKE pattern must be a string")
		}
		return Like{Field: field, Pattern: pat, Negate: op == "!~~"}, nil

	case pg_query.A_Expr_Kind_AEXPR_BETWEEN, pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN:
		field, err := st.fieldName(ae.GetLexpr())
		if err != nil {
			return nil, err
		}
		items := ae.GetRexpr().GetList().GetItems()
		if len(items) != 2 {
			return nil, errors.New("BETWEEN requires two bounds")
		}
		lo, err := constValue(items[0])
		if err != nil {
			return nil, err
		}
		hi, err := constValue(items[1])
		if err != nil {
			return nil, err
		}
		return Between{Field: field, Lo: lo, Hi: hi, Negate: ae.GetKind() == pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN}, nil
	}
	return nil, fmt.Errorf("operator kind %s", ae.GetKind())
}

// fieldName resolves a ColumnRef to a dotted field path, dropping a
// leading collection name or alias qualifier.
func (st *Statement) fieldName(n *pg_query.Node) (string, error) {
	cr := n.GetColumnRef()
	if cr == nil {
		return "", errors.New("not a field reference")
	}
	var parts []string
	for _, f := range cr.GetFields() {
		if s := f.GetString_(); s != nil {
			parts = append(parts, s.GetSval())
			continue
		}
		return "", errors.New("wildcard is not a field")
	}
	if len(parts) > 1 && (parts[0] == st.Collection || (st.Alias != "" && parts[0] == st.Alias)) {
		parts = parts[1:]
	}
	return strings.Join(parts, "."), nil
}

func isStar(cr *pg_query.ColumnRef) bool {
	for _, f := range cr.GetFields() {
		if f.GetAStar() != nil {
			return true
		}
	}
	return false
}

func opName(ae *pg_query.A_Expr) string {
	var last string
	for _, n := range ae.GetName() {
		if s := n.GetString_(); s != nil {
			last = s.GetSval()
		}
	}
	return last
}

func compareOp(op string) (CompareOp, bool) {
	switch op {
	case "=":
		return OpEq, true
	case "<>", "!=":
		return OpNe, true
	case "<":
		return OpLt, true
	case "<=":
		return OpLte, true
	case ">":
		return OpGt, true
	case ">=":
		return OpGte, true
	}
	return "", false
}

// flip mirrors an operator for `value op field`.
func flip(op CompareOp) CompareOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLte:
		return OpGte
	case OpGt:
		return OpLt
	case OpGte:
		return OpLte
	}
	return op
}

// constValue converts a literal node into a Go value: int64, float64,
// string, bool or nil.
func constValue(n *pg_query.Node) (any, error) {
	if n == nil {
		return nil, errors.New("missing value")
	}
	if tc := n.GetTypeCast(); tc != nil {
		return constValue(tc.GetArg())
	}
	if ae := n.GetAExpr(); ae != nil && ae.GetLexpr() == nil && opName(ae) == "-" {
		v, err := constValue(ae.GetRexpr())
		if err != nil {
			return nil, err
		}
		switch t := v.(type) {
		case int64:
			return -t, nil
		case float64:
			return -t, nil
		}
		return nil, errors.New("unary minus on a non-number")
	}
	c := n.GetAConst()
	if c == nil {
		if n.GetColumnRef() != nil {
			return nil, errors.New("expected a value, got a field")
		}
		return nil, errors.New("expected a constant value")
	}
	switch {
	case c.GetIsnull():
		return nil, nil
	case c.GetIval() != nil:
		return int64(c.GetIval().GetIval()), nil
	case c.GetFval() != nil:
		f, err := strconv.ParseFloat(c.GetFval().GetFval(), 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", c.GetFval().GetFval(), err)
		}
		return f, nil
	case c.GetBoolval() != nil:
		return c.GetBoolval().GetBoolval(), nil
	case c.GetSval() != nil:
		return c.GetSval().GetSval(), nil
	}
	return nil, errors.New("unsupported constant")
}
