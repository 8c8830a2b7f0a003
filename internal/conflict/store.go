package conflict

import (
	"context"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/ormerrors"
)

// storeSchemaDDL creates the server-authority bookkeeping tables the SQL
// store reads and writes: one row per (table, row, column) last-write
// timestamp, and one row per row marking a delete's timestamp.
const storeSchemaDDL = `
CREATE TABLE IF NOT EXISTS server_column_timestamps (
	table_name TEXT NOT NULL,
	row_pk TEXT NOT NULL,
	column_name TEXT NOT NULL,
	server_timestamp_ms INTEGER NOT NULL,
	PRIMARY KEY (table_name, row_pk, column_name)
);

CREATE TABLE IF NOT EXISTS server_row_deletions (
	table_name TEXT NOT NULL,
	row_pk TEXT NOT NULL,
	server_timestamp_ms INTEGER NOT NULL,
	PRIMARY KEY (table_name, row_pk)
);

CREATE TABLE IF NOT EXISTS server_row_batches (
	table_name TEXT NOT NULL,
	row_pk TEXT NOT NULL,
	batch_id TEXT NOT NULL,
	PRIMARY KEY (table_name, row_pk)
);
`

// Runner is the minimal parameterized-query surface SQLStore needs. Both
// driver.Driver and driver.Tx satisfy it, so the same SQLStore type works
// standalone or scoped to one server-side apply transaction via InTx.
type Runner interface {
	Run(ctx context.Context, frag driver.RawSQL) ([]driver.Row, error)
}

// SQLStore is the Driver-backed Store implementation used by the sync
// server. Row existence is delegated to the underlying user table itself
// rather than duplicated bookkeeping, since the server's own copy of the
// table is the source of truth for rule 2.4's duplicate-PK check.
type SQLStore struct {
	Driver driver.Driver
	// Runner, when set, is used in place of Driver for all reads/writes
	// below -- set via InTx to scope bookkeeping updates to the same
	// transaction as the corresponding user-table write.
	Runner Runner
	// PrimaryKeyColumn returns the primary key column name for a table,
	// used to check row existence against the user's own table.
	PrimaryKeyColumn func(table string) string
}

// InTx returns a shallow copy of s scoped to run every query through tx
// instead of the top-level Driver, so bookkeeping writes share the
// server's per-batch apply transaction.
func (s *SQLStore) InTx(tx Runner) *SQLStore {
	cp := *s
	cp.Runner = tx
	return &cp
}

func (s *SQLStore) runner() Runner {
	if s.Runner != nil {
		return s.Runner
	}
	return s.Driver
}

// EnsureSchema creates the bookkeeping tables if absent.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	return s.Driver.Exec(ctx, storeSchemaDDL)
}

func (s *SQLStore) ColumnTimestamp(ctx context.Context, table, rowPK, column string) (int64, bool, error) {
	rows, err := s.runner().Run(ctx, driver.RawSQL{
		Query:  "SELECT server_timestamp_ms FROM server_column_timestamps WHERE table_name = ? AND row_pk = ? AND column_name = ?",
		Params: []any{table, rowPK, column},
	})
	if err != nil {
		return 0, false, &ormerrors.DriverError{Op: "conflict.columnTimestamp", Err: err}
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return toInt64(rows[0]["server_timestamp_ms"]), true, nil
}

func (s *SQLStore) SetColumnTimestamp(ctx context.Context, table, rowPK, column string, ts int64) error {
	_, err := s.runner().Run(ctx, driver.RawSQL{
		Query: `INSERT INTO server_column_timestamps (table_name, row_pk, column_name, server_timestamp_ms)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (table_name, row_pk, column_name)
			DO UPDATE SET server_timestamp_ms = excluded.server_timestamp_ms`,
		Params: []any{table, rowPK, column, ts},
	})
	if err != nil {
		return &ormerrors.DriverError{Op: "conflict.setColumnTimestamp", Err: err}
	}
	return nil
}

func (s *SQLStore) MaxColumnTimestamp(ctx context.Context, table, rowPK string) (int64, bool, error) {
	rows, err := s.runner().Run(ctx, driver.RawSQL{
		Query:  "SELECT MAX(server_timestamp_ms) AS max_ts FROM server_column_timestamps WHERE table_name = ? AND row_pk = ?",
		Params: []any{table, rowPK},
	})
	if err != nil {
		return 0, false, &ormerrors.DriverError{Op: "conflict.maxColumnTimestamp", Err: err}
	}
	if len(rows) == 0 || rows[0]["max_ts"] == nil {
		return 0, false, nil
	}
	return toInt64(rows[0]["max_ts"]), true, nil
}

func (s *SQLStore) DeletedAt(ctx context.Context, table, rowPK string) (int64, bool, error) {
	rows, err := s.runner().Run(ctx, driver.RawSQL{
		Query:  "SELECT server_timestamp_ms FROM server_row_deletions WHERE table_name = ? AND row_pk = ?",
		Params: []any{table, rowPK},
	})
	if err != nil {
		return 0, false, &ormerrors.DriverError{Op: "conflict.deletedAt", Err: err}
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return toInt64(rows[0]["server_timestamp_ms"]), true, nil
}

func (s *SQLStore) MarkDeleted(ctx context.Context, table, rowPK string, ts int64) error {
	_, err := s.runner().Run(ctx, driver.RawSQL{
		Query: `INSERT INTO server_row_deletions (table_name, row_pk, server_timestamp_ms)
			VALUES (?, ?, ?)
			ON CONFLICT (table_name, row_pk)
			DO UPDATE SET server_timestamp_ms = excluded.server_timestamp_ms`,
		Params: []any{table, rowPK, ts},
	})
	if err != nil {
		return &ormerrors.DriverError{Op: "conflict.markDeleted", Err: err}
	}
	return nil
}

func (s *SQLStore) RowExists(ctx context.Context, table, rowPK string) (bool, error) {
	pkCol := "id"
	if s.PrimaryKeyColumn != nil {
		if c := s.PrimaryKeyColumn(table); c != "" {
			pkCol = c
		}
	}
	rows, err := s.runner().Run(ctx, driver.RawSQL{
		Query:  "SELECT 1 FROM " + table + " WHERE " + pkCol + " = ?",
		Params: []any{rowPK},
	})
	if err != nil {
		return false, &ormerrors.DriverError{Op: "conflict.rowExists", Err: err}
	}
	return len(rows) > 0, nil
}

func (s *SQLStore) LastAppliedBatch(ctx context.Context, table, rowPK string) (string, bool, error) {
	rows, err := s.runner().Run(ctx, driver.RawSQL{
		Query:  "SELECT batch_id FROM server_row_batches WHERE table_name = ? AND row_pk = ?",
		Params: []any{table, rowPK},
	})
	if err != nil {
		return "", false, &ormerrors.DriverError{Op: "conflict.lastAppliedBatch", Err: err}
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	batchID, _ := rows[0]["batch_id"].(string)
	return batchID, true, nil
}

func (s *SQLStore) SetLastAppliedBatch(ctx context.Context, table, rowPK, batchID string) error {
	_, err := s.runner().Run(ctx, driver.RawSQL{
		Query: `INSERT INTO server_row_batches (table_name, row_pk, batch_id)
			VALUES (?, ?, ?)
			ON CONFLICT (table_name, row_pk)
			DO UPDATE SET batch_id = excluded.batch_id`,
		Params: []any{table, rowPK, batchID},
	})
	if err != nil {
		return &ormerrors.DriverError{Op: "conflict.setLastAppliedBatch", Err: err}
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
