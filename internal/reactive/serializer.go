package reactive

import (
	"github.com/zoravur/livesql/internal/common"
	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/internal/query"
)

// EditableRow is a row of { column: EditableCell }
type EditableRow map[string]EditableCell

type EditableCell struct {
	EditHandle string `json:"editHandle,omitempty"`
	Value      any    `json:"value"`
}

// SerializeEditableRows wraps every output value with the edit handle of
// the document field it was projected from. Columns with no single source
// field (the key, the IncludeKey column) carry no handle.
func SerializeEditableRows(p *query.Plan, rs ResultSet) []EditableRow {
	sources := columnSources(p)
	out := make([]EditableRow, 0, len(rs))
	for _, d := range rs {
		collection := ""
		if i := d.Origin(); i >= 0 && i < len(p.Queries) {
			collection = p.Queries[i].Collection
		}
		row := make(EditableRow, len(d.Data))
		for col, v := range d.Data {
			cell := EditableCell{Value: v}
			if field := sourceField(sources, p, col); field != "" && collection != "" {
				cell.EditHandle = common.EncodeHandle(collection, d.Key, field)
			}
			row[col] = cell
		}
		out = append(out, row)
	}
	return out
}

// columnSources maps output column names to source fields; nil for *.
func columnSources(p *query.Plan) map[string]string {
	if p.Statement.IsStar() {
		return nil
	}
	m := make(map[string]string, len(p.Statement.Columns))
	for _, c := range p.Statement.Columns {
		m[c.Name()] = c.Field
	}
	return m
}

func sourceField(sources map[string]string, p *query.Plan, col string) string {
	if col == p.Options.IncludeKey {
		return ""
	}
	field := col
	if sources != nil {
		field = sources[col]
	}
	if field == docstore.KeyField {
		return ""
	}
	return field
}
