package sqlfrag

import "testing"

func TestSQL_PlaceholderCountMatchesParams(t *testing.T) {
	frag := SQL("SELECT * FROM ", Table("users"), " WHERE id = ", "u1", " AND age > ", 21)
	if got, want := frag.PlaceholderCount(), len(frag.Params); got != want {
		t.Fatalf("placeholder count %d != params %d (query=%q)", got, want, frag.Query)
	}
	if len(frag.Params) != 2 || frag.Params[0] != "u1" || frag.Params[1] != 21 {
		t.Fatalf("unexpected params: %v", frag.Params)
	}
}

func TestSQL_SplicesNestedFragmentParamsInOrder(t *testing.T) {
	inner := SQL("id = ", "u1")
	outer := SQL("SELECT * FROM users WHERE ", inner, " AND age > ", 21)
	if len(outer.Params) != 2 || outer.Params[0] != "u1" || outer.Params[1] != 21 {
		t.Fatalf("unexpected params: %v", outer.Params)
	}
	if outer.Query != "SELECT * FROM users WHERE id = ? AND age > ?" {
		t.Fatalf("unexpected query: %q", outer.Query)
	}
}

func TestSQL_RerenderingIsShapeIndependent(t *testing.T) {
	a := SQL("WHERE ", SQL("x = ", 1), " AND ", SQL("y = ", 2))
	b := SQL("WHERE x = ", 1, " AND y = ", 2)
	if a.Query != b.Query {
		t.Fatalf("fragment-tree shape changed rendered SQL: %q vs %q", a.Query, b.Query)
	}
	if len(a.Params) != len(b.Params) {
		t.Fatalf("param count mismatch: %v vs %v", a.Params, b.Params)
	}
}

func TestFilter_ComparisonProducesOnePlaceholder(t *testing.T) {
	f := Eq(ColumnRef{Table: "users", Column: "name"}, "Alice")
	frag := f.ToRawSQL()
	if frag.PlaceholderCount() != 1 {
		t.Fatalf("expected 1 placeholder, got %d (query=%q)", frag.PlaceholderCount(), frag.Query)
	}
}

func TestFilter_AndOrNesting(t *testing.T) {
	f := And(
		Eq(ColumnRef{Table: "users", Column: "active"}, true),
		Or(
			Gt(ColumnRef{Table: "users", Column: "age"}, 18),
			IsNull(ColumnRef{Table: "users", Column: "age"}),
		),
	)
	frag := f.ToRawSQL()
	if frag.PlaceholderCount() != len(frag.Params) {
		t.Fatalf("placeholder/params mismatch: %d vs %d", frag.PlaceholderCount(), len(frag.Params))
	}
}

func TestFilter_EmptyInIsAlwaysFalse(t *testing.T) {
	f := In(ColumnRef{Table: "users", Column: "id"})
	frag := f.ToRawSQL()
	if frag.Query != "0 = 1" {
		t.Fatalf("expected always-false fragment for empty IN, got %q", frag.Query)
	}
}
