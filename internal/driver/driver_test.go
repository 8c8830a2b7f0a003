package driver

import (
	"context"
	"testing"
)

func openTestDriver(t *testing.T) *SQLiteDriver {
	t.Helper()
	d, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSQLiteDriver_ExecAndRun(t *testing.T) {
	ctx := context.Background()
	d := openTestDriver(t)

	if err := d.Exec(ctx, "CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if _, err := d.Run(ctx, RawSQL{Query: "INSERT INTO users (id, name) VALUES (?, ?)", Params: []any{"u1", "Alice"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rows, err := d.Run(ctx, RawSQL{Query: "SELECT id, name FROM users WHERE id = ?", Params: []any{"u1"}})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "Alice" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestSQLiteDriver_BatchAtomicRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	d := openTestDriver(t)
	if err := d.Exec(ctx, "CREATE TABLE t (id TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("exec: %v", err)
	}

	_, err := d.Batch(ctx, []RawSQL{
		{Query: "INSERT INTO t (id) VALUES (?)", Params: []any{"a"}},
		{Query: "INSERT INTO t (id) VALUES (?)", Params: []any{"a"}}, // duplicate PK -> fails
	})
	if err == nil {
		t.Fatalf("expected batch failure on duplicate primary key")
	}

	rows, err := d.Run(ctx, RawSQL{Query: "SELECT id FROM t"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected rollback to leave table empty, got %v", rows)
	}
}

func TestSQLiteDriver_TxRejectsSelect(t *testing.T) {
	ctx := context.Background()
	d := openTestDriver(t)
	if err := d.Exec(ctx, "CREATE TABLE t (id TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	tx, err := d.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	if _, err := tx.Run(ctx, RawSQL{Query: "SELECT * FROM t"}); err == nil {
		t.Fatalf("expected SELECT inside a transaction to be rejected")
	}
}

func TestChunkingDriver_SplitsOversizedInsert(t *testing.T) {
	ctx := context.Background()
	d := openTestDriver(t)
	if err := d.Exec(ctx, "CREATE TABLE t (id TEXT PRIMARY KEY, n INTEGER)"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	chunked := NewChunkingDriver(d, Limits{MaxParametersPerStatement: 4, MaxStatementsPerBatch: 50})

	var groups []string
	var params []any
	for i := 0; i < 10; i++ {
		groups = append(groups, "(?, ?)")
		params = append(params, string(rune('a'+i)), i)
	}
	query := "INSERT INTO t (id, n) VALUES " + join(groups, ", ")
	if _, err := chunked.Run(ctx, RawSQL{Query: query, Params: params}); err != nil {
		t.Fatalf("chunked insert: %v", err)
	}

	rows, err := d.Run(ctx, RawSQL{Query: "SELECT id FROM t"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("expected 10 rows after chunked insert, got %d", len(rows))
	}
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

func TestDriverParity_MattnAndModernc(t *testing.T) {
	ctx := context.Background()
	a := openTestDriver(t)
	b, err := openMattnTestEngine(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open mattn engine: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	for _, d := range []Driver{a, b} {
		if err := d.Exec(ctx, "CREATE TABLE t (id TEXT PRIMARY KEY, n INTEGER)"); err != nil {
			t.Fatalf("exec: %v", err)
		}
		if _, err := d.Run(ctx, RawSQL{Query: "INSERT INTO t (id, n) VALUES (?, ?)", Params: []any{"x", 7}}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		rows, err := d.Run(ctx, RawSQL{Query: "SELECT id, n FROM t"})
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("expected 1 row, got %d", len(rows))
		}
	}
}
