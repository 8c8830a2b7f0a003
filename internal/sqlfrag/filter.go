package sqlfrag

import "fmt"

// FilterOp enumerates the predicate kinds a FilterObject tree may hold.
type FilterOp string

const (
	OpEq      FilterOp = "eq"
	OpNe      FilterOp = "ne"
	OpLt      FilterOp = "lt"
	OpLte     FilterOp = "lte"
	OpGt      FilterOp = "gt"
	OpGte     FilterOp = "gte"
	OpLike    FilterOp = "like"
	OpIn      FilterOp = "in"
	OpBetween FilterOp = "between"
	OpIsNull  FilterOp = "isNull"
	OpAnd     FilterOp = "and"
	OpOr      FilterOp = "or"
	OpNot     FilterOp = "not"
)

// Filter is a declarative predicate tree node. Leaf comparisons reference a
// column (already resolved to its owning table) on the left; And/Or/Not
// nest further Filters. A Filter compiles to a RawSql usable in WHERE/ON
// context via ToRawSQL, satisfying the sqlfrag.compiler interface so it
// can be spliced directly into an SQL() call.
type Filter struct {
	Op      FilterOp
	Column  ColumnRef
	Value   any   // Eq/Ne/Lt/Lte/Gt/Gte/Like
	Values  []any // In, Between (len 2: lo, hi)
	Clauses []Filter
}

// Eq builds an equality predicate.
func Eq(col ColumnRef, value any) Filter { return Filter{Op: OpEq, Column: col, Value: value} }

// Ne builds an inequality predicate.
func Ne(col ColumnRef, value any) Filter { return Filter{Op: OpNe, Column: col, Value: value} }

// Lt/Lte/Gt/Gte build ordering comparisons.
func Lt(col ColumnRef, value any) Filter  { return Filter{Op: OpLt, Column: col, Value: value} }
func Lte(col ColumnRef, value any) Filter { return Filter{Op: OpLte, Column: col, Value: value} }
func Gt(col ColumnRef, value any) Filter  { return Filter{Op: OpGt, Column: col, Value: value} }
func Gte(col ColumnRef, value any) Filter { return Filter{Op: OpGte, Column: col, Value: value} }

// Like builds a LIKE predicate.
func Like(col ColumnRef, pattern string) Filter {
	return Filter{Op: OpLike, Column: col, Value: pattern}
}

// In builds a membership predicate.
func In(col ColumnRef, values ...any) Filter { return Filter{Op: OpIn, Column: col, Values: values} }

// Between builds a range predicate over [lo, hi].
func Between(col ColumnRef, lo, hi any) Filter {
	return Filter{Op: OpBetween, Column: col, Values: []any{lo, hi}}
}

// IsNull builds an IS NULL predicate.
func IsNull(col ColumnRef) Filter { return Filter{Op: OpIsNull, Column: col} }

// And/Or combine clauses; Not negates a single clause.
func And(clauses ...Filter) Filter { return Filter{Op: OpAnd, Clauses: clauses} }
func Or(clauses ...Filter) Filter  { return Filter{Op: OpOr, Clauses: clauses} }
func Not(clause Filter) Filter     { return Filter{Op: OpNot, Clauses: []Filter{clause}} }

var comparisonSQL = map[FilterOp]string{
	OpEq: "=", OpNe: "!=", OpLt: "<", OpLte: "<=", OpGt: ">", OpGte: ">=", OpLike: "LIKE",
}

// ToRawSQL compiles the filter tree into a RawSql WHERE/ON fragment.
func (f Filter) ToRawSQL() RawSql {
	// SQL writes a bare string argument as literal SQL text, so string
	// values are wrapped in a one-placeholder fragment to be bound.
	bind := func(v any) any {
		if s, ok := v.(string); ok {
			return RawSql{Query: "?", Params: []any{s}, DebugParams: []any{s}}
		}
		return v
	}
	switch f.Op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpLike:
		return SQL(f.Column, " ", comparisonSQL[f.Op], " ", bind(f.Value))
	case OpIsNull:
		return SQL(f.Column, " IS NULL")
	case OpIn:
		if len(f.Values) == 0 {
			return SQL("0 = 1") // empty IN() is always false
		}
		parts := []any{f.Column, " IN ("}
		for i, v := range f.Values {
			if i > 0 {
				parts = append(parts, ", ")
			}
			parts = append(parts, bind(v))
		}
		parts = append(parts, ")")
		return SQL(parts...)
	case OpBetween:
		return SQL(f.Column, " BETWEEN ", bind(f.Values[0]), " AND ", bind(f.Values[1]))
	case OpAnd:
		return joinClauses(f.Clauses, " AND ")
	case OpOr:
		return joinClauses(f.Clauses, " OR ")
	case OpNot:
		inner := f.Clauses[0].ToRawSQL()
		return SQL("NOT (", inner, ")")
	default:
		return RawSql{Query: fmt.Sprintf("/* unknown filter op %q */ 1=1", f.Op)}
	}
}

func joinClauses(clauses []Filter, sep string) RawSql {
	if len(clauses) == 0 {
		return SQL("1=1")
	}
	frags := make([]RawSql, len(clauses))
	for i, c := range clauses {
		inner := c.ToRawSQL()
		if len(c.Clauses) > 1 || c.Op == OpAnd || c.Op == OpOr {
			frags[i] = SQL("(", inner, ")")
		} else {
			frags[i] = inner
		}
	}
	return Join(frags, sep)
}
