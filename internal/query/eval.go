package query

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/pkg/sqlast"
)

// truth is a three-valued SQL boolean.
type truth int8

const (
	unknown truth = iota
	no
	yes
)

func truthOf(b bool) truth {
	if b {
		return yes
	}
	return no
}

func (t truth) not() truth {
	switch t {
	case yes:
		return no
	case no:
		return yes
	}
	return unknown
}

// Matches evaluates a WHERE tree against a document's source fields. Only a
// definite true matches; comparisons with null, absent fields or values of
// another type are unknown.
func Matches(e sqlast.Expr, d docstore.Document) bool {
	if e == nil {
		return true
	}
	return eval(e, d) == yes
}

func eval(e sqlast.Expr, d docstore.Document) truth {
	switch x := e.(type) {
	case sqlast.And:
		out := yes
		for _, a := range x.Args {
			switch eval(a, d) {
			case no:
				return no
			case unknown:
				out = unknown
			}
		}
		return out

	case sqlast.Or:
		out := no
		for _, a := range x.Args {
			switch eval(a, d) {
			case yes:
				return yes
			case unknown:
				out = unknown
			}
		}
		return out

	case sqlast.Not:
		return eval(x.Arg, d).not()

	case sqlast.Compare:
		c, ok := compareField(d, x.Field, x.Value)
		if !ok {
			return unknown
		}
		switch x.Op {
		case sqlast.OpEq:
			return truthOf(c == 0)
		case sqlast.OpNe:
			return truthOf(c != 0)
		case sqlast.OpLt:
			return truthOf(c < 0)
		case sqlast.OpLte:
			return truthOf(c <= 0)
		case sqlast.OpGt:
			return truthOf(c > 0)
		case sqlast.OpGte:
			return truthOf(c >= 0)
		}
		return unknown

	case sqlast.In:
		out := no
		for _, v := range x.Values {
			c, ok := compareField(d, x.Field, v)
			if !ok {
				out = unknown
				continue
			}
			if c == 0 {
				out = yes
				break
			}
		}
		if x.Negate {
			return out.not()
		}
		return out

	case sqlast.Between:
		lo, lok := compareField(d, x.Field, x.Lo)
		hi, hok := compareField(d, x.Field, x.Hi)
		if !lok || !hok {
			return unknown
		}
		in := truthOf(lo >= 0 && hi <= 0)
		if x.Negate {
			return in.not()
		}
		return in

	case sqlast.Like:
		v, ok := docstore.Field(d, x.Field)
		s, isStr := v.(string)
		if !ok || !isStr {
			return unknown
		}
		m := truthOf(likeRegexp(x.Pattern).MatchString(s))
		if x.Negate {
			return m.not()
		}
		return m

	case sqlast.IsNull:
		v, ok := docstore.Field(d, x.Field)
		null := truthOf(!ok || v == nil)
		if x.Negate {
			return null.not()
		}
		return null
	}
	return unknown
}

// compareField compares a field to a literal. ok is false when the result
// is unknown.
func compareField(d docstore.Document, field string, lit any) (int, bool) {
	v, ok := docstore.Field(d, field)
	if !ok || v == nil || lit == nil || !docstore.Comparable(v, lit) {
		return 0, false
	}
	return docstore.Compare(v, lit), true
}

// likeCacheSize bounds the compiled LIKE patterns kept across statements.
const likeCacheSize = 1024

var likeCache, _ = lru.New[string, *regexp.Regexp](likeCacheSize)

func likeRegexp(pattern string) *regexp.Regexp {
	if re, ok := likeCache.Get(pattern); ok {
		return re
	}
	var b strings.Builder
	b.WriteString(`(?s)^`)
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(`.*`)
		case r == '_':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)
	re := regexp.MustCompile(b.String())
	likeCache.Add(pattern, re)
	return re
}
