package driver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteDriver implements Driver over a single pinned *sql.DB connection
// using the pure-Go modernc.org/sqlite engine. Connection setup follows
// the teacher's internal/db/db.go: a single connection (SQLite only
// serializes writers safely this way across the stdlib's pooling), WAL
// journal mode, a busy_timeout so concurrent readers don't immediately
// fail, and synchronous=NORMAL (safe under WAL, faster than FULL).
type SQLiteDriver struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database file at path and
// applies the standard pragma set.
func Open(ctx context.Context, path string) (*SQLiteDriver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("driver: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("driver: apply %q: %w", p, err)
		}
	}
	return &SQLiteDriver{db: db}, nil
}

// Close checkpoints the WAL and closes the connection, mirroring the
// teacher's shutdown sequence.
func (d *SQLiteDriver) Close() error {
	_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return d.db.Close()
}

func (d *SQLiteDriver) Exec(ctx context.Context, sqlText string) error {
	for _, stmt := range splitStatements(sqlText) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("driver: exec: %w", err)
		}
	}
	return nil
}

func (d *SQLiteDriver) Run(ctx context.Context, frag RawSQL) ([]Row, error) {
	return runOn(ctx, d.db, frag)
}

func (d *SQLiteDriver) Batch(ctx context.Context, frags []RawSQL) ([][]Row, error) {
	tx, err := d.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]Row, len(frags))
	for i, frag := range frags {
		rows, err := tx.Run(ctx, frag)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		out[i] = rows
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *SQLiteDriver) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("driver: begin tx: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Run(ctx context.Context, frag RawSQL) ([]Row, error) {
	if isSelect(frag.Query) {
		return nil, fmt.Errorf("driver: SELECT not allowed mid-transaction; use BeginTx only for writes")
	}
	if _, err := t.tx.ExecContext(ctx, frag.Query, frag.Params...); err != nil {
		return nil, fmt.Errorf("driver: tx exec: %w", err)
	}
	return nil, nil
}

func (t *sqliteTx) Commit() error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

// queryer is satisfied by both *sql.DB and *sql.Tx. runOn uses it for
// Driver.Run, which serves both SELECTs (decoded into rows) and writes
// (executed, returning no rows).
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func runOn(ctx context.Context, q queryer, frag RawSQL) ([]Row, error) {
	if isSelect(frag.Query) {
		rows, err := q.QueryContext(ctx, frag.Query, frag.Params...)
		if err != nil {
			return nil, fmt.Errorf("driver: query: %w", err)
		}
		defer rows.Close()
		return decodeRows(rows)
	}
	if _, err := q.ExecContext(ctx, frag.Query, frag.Params...); err != nil {
		return nil, fmt.Errorf("driver: exec: %w", err)
	}
	return []Row{}, nil
}

func decodeRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func isSelect(query string) bool {
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	return strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "WITH")
}

// splitStatements splits a multi-statement DDL blob on ';', tolerating
// trailing whitespace/newlines, matching the teacher's schema.go approach
// of storing several CREATE TABLE statements in one string constant.
func splitStatements(sqlText string) []string {
	return strings.Split(sqlText, ";")
}
