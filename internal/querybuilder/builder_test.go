package querybuilder

import (
	"context"
	"testing"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/schema"
	"github.com/marcus/ormsync/internal/sqlfrag"
)

type user struct {
	ID     string `db:"id"`
	Name   string `db:"name"`
	Active bool   `db:"active"`
}

func usersMeta() *schema.TableMeta {
	t := schema.Table("users",
		schema.ID("id"),
		schema.TextCol("name").Required(),
		schema.Boolean("active"),
	).Build()
	return &t
}

func newExec(t *testing.T) (*Executor, func()) {
	t.Helper()
	d, err := driver.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := d.Exec(context.Background(), "CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT, active INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return &Executor{Driver: d}, func() { d.Close() }
}

func TestInsertAndSelect_RoundTrip(t *testing.T) {
	exec, cleanup := newExec(t)
	defer cleanup()
	meta := usersMeta()
	ctx := context.Background()

	inserted, err := Insert[user](ctx, exec, meta, schema.Insertable[user]{Row: user{Name: "Alice", Active: true}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted.Row.ID == "" {
		t.Fatalf("expected ULID default to be applied")
	}

	rows, err := Select[user](exec, meta).
		Where(sqlfrag.Eq(sqlfrag.ColumnRef{Table: "users", Column: "name"}, "Alice")).
		Execute(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 || rows[0].Row.Name != "Alice" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestInsert_MissingRequiredColumnFails(t *testing.T) {
	exec, cleanup := newExec(t)
	defer cleanup()
	meta := usersMeta()
	_, err := Insert[user](context.Background(), exec, meta, schema.Insertable[user]{Row: user{}})
	if err == nil {
		t.Fatalf("expected missing-required-column error")
	}
}
