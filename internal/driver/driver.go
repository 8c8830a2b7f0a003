// Package driver implements the uniform Driver interface over any
// SQLite-like engine (spec §4.1), grounded on the teacher's
// internal/db/db.go connection setup (single-connection pinning, WAL mode,
// busy_timeout, synchronous=NORMAL) and internal/db/lock.go's
// writer-lock pattern, generalized from a single hardwired schema to any
// caller-supplied SQL text.
package driver

import (
	"context"

	"github.com/marcus/ormsync/internal/sqlfrag"
)

// RawSQL is an alias for the shared sqlfrag fragment type, so Driver
// implementations speak the same parameterized-SQL currency as the query
// builder and the SQL analyzer without a separate conversion step.
type RawSQL = sqlfrag.RawSql

// Row is one decoded result row, keyed by the column name exactly as the
// underlying engine returns it (casing preserved); callers map to
// application casing using schema.ColumnMeta.
type Row = map[string]any

// Tx is a transaction handle. Inside a transaction, Run must reject SELECT
// statements: some back-ends defer statements until commit, so enforcing
// write-only transactions keeps semantics uniform across engines.
type Tx interface {
	Run(ctx context.Context, frag RawSQL) ([]Row, error)
	Commit() error
	Rollback() error
}

// Driver is the uniform interface every SQLite-like engine implements.
type Driver interface {
	// Exec runs DDL; sqlText may contain multiple ';'-separated statements.
	Exec(ctx context.Context, sqlText string) error
	// Run executes one parameterized statement. SELECT returns decoded
	// rows; all other statement kinds return an empty slice.
	Run(ctx context.Context, frag RawSQL) ([]Row, error)
	// Batch executes statements atomically in one transaction; all
	// succeed or all roll back. Results are returned per original
	// statement index.
	Batch(ctx context.Context, frags []RawSQL) ([][]Row, error)
	// BeginTx starts a write-only transaction.
	BeginTx(ctx context.Context) (Tx, error)
	// Close releases the underlying connection.
	Close() error
}
