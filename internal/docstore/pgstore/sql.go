package pgstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/zoravur/livesql/internal/docstore"
)

// selectSQL renders a native query as a SELECT over the documents table.
// Comparisons only hold between values of the same JSON type, and ORDER BY
// follows docstore.Compare: absent, null, boolean, number, string, other.
func selectSQL(q docstore.Query) (string, []any, error) {
	b := &builder{}
	var where []string
	where = append(where, "collection = "+b.arg(q.Collection))
	for _, f := range q.Filters {
		cond, err := b.filter(f)
		if err != nil {
			return "", nil, err
		}
		where = append(where, cond)
	}

	var sb strings.Builder
	sb.WriteString("SELECT key, data FROM documents WHERE ")
	sb.WriteString(strings.Join(where, " AND "))

	var order []string
	for _, o := range q.OrderBy {
		order = append(order, b.order(o)...)
	}
	order = append(order, `key COLLATE "C"`)
	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(order, ", "))

	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	return sb.String(), b.args, nil
}

type builder struct {
	args []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func splitPath(field string) []string { return strings.Split(field, ".") }

// field resolves a document field the way docstore.Lookup does: a literal
// top-level key wins over the nested path it spells.
func (b *builder) field(name string) (val, text string) {
	parts := splitPath(name)
	if len(parts) == 1 {
		p := b.arg(parts)
		return fmt.Sprintf("(data #> %s::text[])", p), fmt.Sprintf("(data #>> %s::text[])", p)
	}
	val = fmt.Sprintf("COALESCE(data -> %s::text, data #> %s::text[])", b.arg(name), b.arg(parts))
	return "(" + val + ")", fmt.Sprintf("((%s) #>> '{}')", val)
}

func (b *builder) filter(f docstore.Filter) (string, error) {
	if f.Field == docstore.KeyField {
		s, ok := f.Value.(string)
		if !ok {
			// Keys are strings; nothing else ever matches.
			return "false", nil
		}
		return fmt.Sprintf(`key COLLATE "C" %s %s`, sqlOp(f.Op), b.arg(s)), nil
	}

	if f.Value == nil && f.Op != docstore.Eq {
		return "false", nil
	}
	val, text := b.field(f.Field)

	if f.Value == nil {
		return fmt.Sprintf("(%s IS NULL OR jsonb_typeof(%s) = 'null')", val, val), nil
	}

	op := sqlOp(f.Op)
	switch v := f.Value.(type) {
	case bool:
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s) = 'boolean' THEN %s::boolean %s %s::boolean ELSE false END)",
			val, text, op, b.arg(v)), nil
	case string:
		return fmt.Sprintf(`(CASE WHEN jsonb_typeof(%s) = 'string' THEN %s COLLATE "C" %s %s::text ELSE false END)`,
			val, text, op, b.arg(v)), nil
	case time.Time:
		return "", fmt.Errorf("pgstore: timestamp filter on %s is not supported", f.Field)
	}
	if n, ok := number(f.Value); ok {
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s) = 'number' THEN %s::numeric %s %s::numeric ELSE false END)",
			val, text, op, b.arg(n)), nil
	}
	return "", fmt.Errorf("pgstore: unsupported filter value %T on %s", f.Value, f.Field)
}

func (b *builder) order(o docstore.Order) []string {
	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	if o.Field == docstore.KeyField {
		return []string{`key COLLATE "C" ` + dir}
	}
	val, text := b.field(o.Field)
	return []string{
		fmt.Sprintf("(CASE WHEN %s IS NULL THEN 0 ELSE CASE jsonb_typeof(%s) "+
			"WHEN 'null' THEN 1 WHEN 'boolean' THEN 2 WHEN 'number' THEN 3 WHEN 'string' THEN 4 ELSE 5 END END) %s",
			val, val, dir),
		fmt.Sprintf("(CASE WHEN jsonb_typeof(%s) = 'boolean' THEN %s::boolean END) %s", val, text, dir),
		fmt.Sprintf("(CASE WHEN jsonb_typeof(%s) = 'number' THEN %s::numeric END) %s", val, text, dir),
		fmt.Sprintf(`(CASE WHEN jsonb_typeof(%s) = 'string' THEN %s END) COLLATE "C" %s`, val, text, dir),
	}
}

func sqlOp(op docstore.Op) string {
	if op == docstore.Eq {
		return "="
	}
	return string(op)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
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
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
