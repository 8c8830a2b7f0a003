package schema

import "testing"

func usersTable() TableMeta {
	return Table("users",
		ID("id"),
		TextCol("name").Required(),
		TextCol("email").Required().Unique(),
		IntegerCol("age"),
	).Build()
}

func TestSnapshot_HashStableAcrossRebuilds(t *testing.T) {
	reg1 := NewRegistry()
	reg1.Register(usersTable())
	reg2 := NewRegistry()
	reg2.Register(usersTable())

	h1, err := Snapshot(reg1).Hash()
	if err != nil {
		t.Fatalf("hash 1: %v", err)
	}
	h2, err := Snapshot(reg2).Hash()
	if err != nil {
		t.Fatalf("hash 2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hash for identically-declared schemas, got %s vs %s", h1, h2)
	}
}

func TestSnapshot_HashChangesWithColumnAddition(t *testing.T) {
	reg1 := NewRegistry()
	reg1.Register(usersTable())

	reg2 := NewRegistry()
	t2 := Table("users",
		ID("id"),
		TextCol("name").Required(),
		TextCol("email").Required().Unique(),
		IntegerCol("age"),
		TextCol("bio"),
	).Build()
	reg2.Register(t2)

	h1, _ := Snapshot(reg1).Hash()
	h2, _ := Snapshot(reg2).Hash()
	if h1 == h2 {
		t.Fatalf("expected hash to change after adding a column")
	}
}

func TestMissingRequiredColumns(t *testing.T) {
	tm := usersTable()
	row := map[string]any{"name": "Alice"}
	missing := MissingRequiredColumns(&tm, row)
	if len(missing) != 1 || missing[0] != "email" {
		t.Fatalf("expected [email] missing, got %v", missing)
	}
}

func TestApplyInsertDefaults_AssignsULIDAndZeroValues(t *testing.T) {
	tm := usersTable()
	row := map[string]any{"name": "Alice", "email": "a@x.com"}
	ApplyInsertDefaults(&tm, row)
	if _, ok := row["id"]; !ok {
		t.Fatalf("expected id to be defaulted")
	}
	if row["age"] != 0 {
		t.Fatalf("expected age to default to 0, got %v", row["age"])
	}
}

func TestToRow_SkipsVirtualColumns(t *testing.T) {
	tm := Table("posts",
		ID("id"),
		TextCol("title").Required(),
		TextCol("slug").GeneratedAlwaysAs("lower(title)"),
	).Build()

	type Post struct {
		ID    string `db:"id"`
		Title string `db:"title"`
		Slug  string `db:"slug"`
	}
	row, err := ToRow(&tm, Post{ID: "p1", Title: "Hello", Slug: "hello"})
	if err != nil {
		t.Fatalf("ToRow: %v", err)
	}
	if _, ok := row["slug"]; ok {
		t.Fatalf("expected virtual column 'slug' to be excluded from insert row, got %v", row)
	}
}
