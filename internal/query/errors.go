package query

import "fmt"

// ValidationError rejects a statement before any query is generated.
type ValidationError struct {
	Branch int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Branch > 0 {
		return fmt.Sprintf("invalid statement (UNION branch %d): %s", e.Branch+1, e.Reason)
	}
	return "invalid statement: " + e.Reason
}

// TranslationError reports a clause that native queries cannot express.
type TranslationError struct {
	Branch int
	Clause string
	Reason string
}

func (e *TranslationError) Error() string {
	where := e.Clause
	if e.Branch > 0 {
		where = fmt.Sprintf("%s (UNION branch %d)", e.Clause, e.Branch+1)
	}
	return fmt.Sprintf("cannot translate %s: %s", where, e.Reason)
}
