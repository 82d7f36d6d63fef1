package query

import (
	"fmt"
	"strings"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/pkg/sqlast"
)

// DefaultMaxQueries bounds how many native queries one WHERE may expand to.
const DefaultMaxQueries = 30

// UnionOrdering selects what a trailing ORDER BY / LIMIT applies to when a
// statement is a UNION.
type UnionOrdering int

const (
	// UnionOrderWhole orders and limits the merged result.
	UnionOrderWhole UnionOrdering = iota
	// UnionOrderLastBranch pushes the trailing clauses into the last
	// branch only and leaves the merged result unordered and unlimited.
	UnionOrderLastBranch
)

func (u UnionOrdering) String() string {
	if u == UnionOrderLastBranch {
		return "last-branch"
	}
	return "whole"
}

// ParseUnionOrdering accepts "whole" and "last-branch".
func ParseUnionOrdering(s string) (UnionOrdering, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "whole":
		return UnionOrderWhole, nil
	case "last-branch", "last_branch", "lastbranch":
		return UnionOrderLastBranch, nil
	}
	return 0, fmt.Errorf("unknown union ordering %q", s)
}

// Options tune translation and post-processing.
type Options struct {
	MaxQueries    int
	UnionOrdering UnionOrdering

	// IncludeKey, when set, adds the document key to every output row under
	// this name.
	IncludeKey string
}

func (o Options) maxQueries() int {
	if o.MaxQueries <= 0 {
		return DefaultMaxQueries
	}
	return o.MaxQueries
}

// Plan is a statement ready to run: its native descriptors in source order
// and what Process needs to rebuild SQL results from their snapshots.
type Plan struct {
	Statement *sqlast.Statement
	Queries   []docstore.Query
	Options   Options
}

// NewPlan validates st and generates the descriptors of every UNION branch,
// concatenated in branch order. Each descriptor records its branch.
func NewPlan(root string, st *sqlast.Statement, opts Options) (*Plan, error) {
	if st == nil {
		return nil, &ValidationError{Reason: "no statement"}
	}
	branches := st.Branches()
	for i, b := range branches {
		if err := validateBranch(b, i); err != nil {
			return nil, err
		}
	}
	if err := checkColumns(branches); err != nil {
		return nil, err
	}

	if len(branches) == 1 {
		qs, err := Generate(root, st, opts)
		if err != nil {
			return nil, err
		}
		return &Plan{Statement: st, Queries: qs, Options: opts}, nil
	}

	var (
		all      []docstore.Query
		perBr    = make([][]docstore.Query, len(branches))
		resBr    = make([]bool, len(branches))
		residual bool
	)
	for i, b := range branches {
		qs, res, err := generateBranch(root, b, i, opts)
		if err != nil {
			return nil, err
		}
		perBr[i], resBr[i] = qs, res
		residual = residual || res
	}

	switch opts.UnionOrdering {
	case UnionOrderLastBranch:
		// Trailing clauses belong to the last branch only, as if written
		// inside it; its own residual decides whether they can be pushed.
		last := len(branches) - 1
		if !resBr[last] {
			pushWindow(perBr[last], st.OrderBy, st.Limit, st.Offset)
		}
	default:
		if !residual {
			for i := range perBr {
				pushWindow(perBr[i], st.OrderBy, st.Limit, st.Offset)
			}
		}
	}

	for _, qs := range perBr {
		all = append(all, qs...)
	}
	if len(all) > opts.maxQueries() {
		return nil, &TranslationError{
			Clause: "UNION",
			Reason: fmt.Sprintf("expands to %d native queries, more than the limit of %d", len(all), opts.maxQueries()),
		}
	}
	return &Plan{Statement: st, Queries: all, Options: opts}, nil
}

// Process rebuilds the result set from flattened snapshot documents.
func (p *Plan) Process(docs []docstore.Document) []docstore.Document {
	return Process(p.Statement, p.Queries, docs, p.Options)
}

// Explain renders the descriptors one per line.
func (p *Plan) Explain() string {
	var b strings.Builder
	for i, q := range p.Queries {
		fmt.Fprintf(&b, "%d [branch %d] %s\n", i, q.Branch, q)
	}
	return b.String()
}

func validateBranch(st *sqlast.Statement, branch int) error {
	if st.Kind != sqlast.KindSelect {
		if branch > 0 {
			return &ValidationError{Branch: branch, Reason: "UNION is only supported between SELECT statements"}
		}
		return &ValidationError{Reason: fmt.Sprintf("only SELECT statements are supported, got %s", strings.ToUpper(string(st.Kind)))}
	}
	if len(st.Unsupported) > 0 {
		clause, reason := splitUnsupported(st.Unsupported[0])
		return &TranslationError{Branch: branch, Clause: clause, Reason: reason}
	}
	if st.Collection == "" {
		return &ValidationError{Branch: branch, Reason: "missing FROM collection"}
	}
	return nil
}

// splitUnsupported turns "WHERE: detail" into its clause and reason.
func splitUnsupported(s string) (string, string) {
	if clause, reason, ok := strings.Cut(s, ": "); ok {
		return clause, reason
	}
	return s, "not supported"
}

func checkColumns(branches []*sqlast.Statement) error {
	first := columnNames(branches[0])
	for i, b := range branches[1:] {
		if got := columnNames(b); got != first {
			return &TranslationError{
				Branch: i + 1,
				Clause: "SELECT",
				Reason: fmt.Sprintf("UNION branches select different columns (%s vs %s)", first, got),
			}
		}
	}
	return nil
}

func columnNames(st *sqlast.Statement) string {
	if st.IsStar() {
		return "*"
	}
	names := make([]string, len(st.Columns))
	for i, c := range st.Columns {
		names[i] = c.Name()
	}
	return strings.Join(names, ", ")
}
