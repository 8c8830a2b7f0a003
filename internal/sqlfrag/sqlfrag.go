// Package sqlfrag implements the composable, parameterized SQL fragment
// type (RawSql) that stands in for a tagged-template string in languages
// that have them. Go has no tagged templates, so fragments are built by
// calling SQL with a mix of literal string segments and typed arguments.
package sqlfrag

import "strings"

// RawSql is a parameterized SQL fragment: Query holds literal text with
// '?' placeholders, Params holds the bound values in order, and
// DebugParams mirrors Params but holds pre-encoding application values for
// logging.
type RawSql struct {
	Query       string
	Params      []any
	DebugParams []any
}

// ColumnRef identifies a column by its owning table (already resolved to
// db names) for interpolation as `table.column` rather than a bound value.
type ColumnRef struct {
	Table  string
	Column string
}

// Table renders a bare table reference for interpolation into FROM/JOIN
// clauses.
type Table string

// compiler is anything that can render itself to a RawSql fragment; used
// so a Filter (filter.go), or any other type with a ToRawSQL method, can
// be spliced into a SQL() call.
type compiler interface {
	ToRawSQL() RawSql
}

// SQL builds a RawSql fragment from literal string segments and
// interpolated values. Each non-string argument is classified:
//   - RawSql            -> spliced in place, its params appended in order
//   - compiler (FilterObject) -> compiled to RawSql, then spliced
//   - ColumnRef          -> replaced with "table.column"
//   - Table              -> replaced with the bare table name
//   - anything else      -> becomes one '?' placeholder; the raw value is
//     appended to Params and DebugParams
//
// Arguments alternate with string literal segments positionally: the Nth
// non-string argument is interpolated where the Nth '%s'-free gap between
// consecutive string segments would be in a tagged template. To keep the
// call site simple, SQL instead takes parts in strict left-to-right order
// and treats every string argument as literal SQL text to concatenate
// (not a placeholder) -- this matches how the teacher concatenates query
// fragments, e.g. "SELECT * FROM ", Table("users"), " WHERE id = ", id.
func SQL(parts ...any) RawSql {
	var b strings.Builder
	var params, debugParams []any

	for _, p := range parts {
		switch v := p.(type) {
		case string:
			b.WriteString(v)
		case RawSql:
			b.WriteString(v.Query)
			params = append(params, v.Params...)
			if v.DebugParams != nil {
				debugParams = append(debugParams, v.DebugParams...)
			} else {
				debugParams = append(debugParams, v.Params...)
			}
		case ColumnRef:
			b.WriteString(v.Table)
			b.WriteString(".")
			b.WriteString(v.Column)
		case Table:
			b.WriteString(string(v))
		case compiler:
			frag := v.ToRawSQL()
			b.WriteString(frag.Query)
			params = append(params, frag.Params...)
			debugParams = append(debugParams, frag.DebugParams...)
		default:
			b.WriteString("?")
			params = append(params, v)
			debugParams = append(debugParams, v)
		}
	}

	return RawSql{Query: b.String(), Params: params, DebugParams: debugParams}
}

// Join concatenates fragments with a literal separator, splicing params in
// order -- the fragment-tree equivalent of strings.Join.
func Join(frags []RawSql, sep string) RawSql {
	var b strings.Builder
	var params, debugParams []any
	for i, f := range frags {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(f.Query)
		params = append(params, f.Params...)
		if f.DebugParams != nil {
			debugParams = append(debugParams, f.DebugParams...)
		} else {
			debugParams = append(debugParams, f.Params...)
		}
	}
	return RawSql{Query: b.String(), Params: params, DebugParams: debugParams}
}

// Empty reports whether the fragment has no query text.
func (r RawSql) Empty() bool { return r.Query == "" }

// PlaceholderCount returns the number of '?' placeholders in Query, used
// by tests asserting the RawSql invariant (placeholders == len(Params)).
func (r RawSql) PlaceholderCount() int {
	n := 0
	inStr := false
	for i := 0; i < len(r.Query); i++ {
		c := r.Query[i]
		if c == '\'' {
			inStr = !inStr
			continue
		}
		if c == '?' && !inStr {
			n++
		}
	}
	return n
}
