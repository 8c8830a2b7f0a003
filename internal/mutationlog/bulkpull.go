package mutationlog

import (
	"context"
	"fmt"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/ormerrors"
	"github.com/marcus/ormsync/internal/syncproto"
)

// pullProgressDDL creates the resumable bulk-pull cursor table (spec
// §4.9): one row per table, tracking how far the initial pull has
// progressed so an interrupted pull can resume without re-fetching or
// dropping rows.
const pullProgressDDL = `
CREATE TABLE IF NOT EXISTS _sync_pull_progress (
	table_name TEXT PRIMARY KEY,
	state TEXT NOT NULL DEFAULT 'pending',
	next_offset INTEGER NOT NULL DEFAULT 0
);
`

// Pull progress states: pending (not yet started), partial (some rows
// received, more expected), all (every row received).
const (
	pullStatePending = "pending"
	pullStatePartial = "partial"
	pullStateAll     = "all"
)

// BulkPuller implements netremote.BulkPullSink, applying each received
// ColumnarBatch directly to the local table and advancing
// _sync_pull_progress in the same transaction, so a crash mid-pull loses
// at most the in-flight batch rather than corrupting the cursor.
type BulkPuller struct {
	Driver driver.Driver
}

// EnsureSchema creates the pull-progress table if absent.
func (p *BulkPuller) EnsureSchema(ctx context.Context) error {
	return p.Driver.Exec(ctx, pullProgressDDL)
}

// ResumeState returns the table->offset map to send the server: tables
// already marked 'all' are reported as netremote.SkipTable, tables with
// partial progress resume from their recorded offset, and tables with no
// row at all are simply absent (the server treats an absent table as
// offset 0).
func (p *BulkPuller) ResumeState(ctx context.Context) (map[string]int64, error) {
	rows, err := p.Driver.Run(ctx, driver.RawSQL{
		Query: "SELECT table_name, state, next_offset FROM _sync_pull_progress",
	})
	if err != nil {
		return nil, &ormerrors.DriverError{Op: "bulkpull.resumeState", Err: err}
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		table, _ := r["table_name"].(string)
		state, _ := r["state"].(string)
		offset := asInt64(r["next_offset"])
		if state == pullStateAll {
			out[table] = -1
			continue
		}
		out[table] = offset
	}
	return out, nil
}

// BeginTable records that table is (at least) pending, without
// disturbing any offset already recorded for it from a prior interrupted
// pull.
func (p *BulkPuller) BeginTable(ctx context.Context, table string) error {
	_, err := p.Driver.Run(ctx, driver.RawSQL{
		Query:  "INSERT OR IGNORE INTO _sync_pull_progress (table_name, state, next_offset) VALUES (?, ?, 0)",
		Params: []any{table, pullStatePending},
	})
	if err != nil {
		return &ormerrors.DriverError{Op: "bulkpull.beginTable", Err: err}
	}
	return nil
}

// ApplyBatch inserts every row of batch into table and advances its
// recorded offset, all in one transaction -- the unit that must commit
// together for the resume cursor to stay truthful.
func (p *BulkPuller) ApplyBatch(ctx context.Context, table string, batch syncproto.ColumnarBatch) error {
	tx, err := p.Driver.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("bulkpull: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, row := range syncproto.ColumnarBatchToRows(batch) {
		if err := insertRow(ctx, tx, table, row); err != nil {
			return fmt.Errorf("bulkpull: insert row into %s: %w", table, err)
		}
	}
	if _, err := tx.Run(ctx, driver.RawSQL{
		Query:  "UPDATE _sync_pull_progress SET state = ?, next_offset = next_offset + ? WHERE table_name = ?",
		Params: []any{pullStatePartial, batch.NumRows, table},
	}); err != nil {
		return fmt.Errorf("bulkpull: advance offset for %s: %w", table, err)
	}
	return tx.Commit()
}

// EndTable marks table fully pulled once its last frame has been
// applied; a subsequent ResumeState call reports it as netremote.SkipTable
// so a later bulk pull never re-requests it.
func (p *BulkPuller) EndTable(ctx context.Context, table string) error {
	_, err := p.Driver.Run(ctx, driver.RawSQL{
		Query:  "UPDATE _sync_pull_progress SET state = ? WHERE table_name = ?",
		Params: []any{pullStateAll, table},
	})
	if err != nil {
		return &ormerrors.DriverError{Op: "bulkpull.endTable", Err: err}
	}
	return nil
}

// insertRow writes one decoded row into table via INSERT OR REPLACE, the
// local-side analogue of internal/syncserver's execInsert: the bulk pull
// is idempotent by row id the same way a resumed mutation push is
// idempotent by batch id.
func insertRow(ctx context.Context, tx driver.Tx, table string, row map[string]any) error {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	placeholders := make([]string, len(cols))
	params := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		params[i] = row[col]
	}
	query := "INSERT OR REPLACE INTO " + table + " (" + joinColumns(cols) + ") VALUES (" + joinColumns(placeholders) + ")"
	_, err := tx.Run(ctx, driver.RawSQL{Query: query, Params: params})
	return err
}

func asInt64(v any) int64 {
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

func joinColumns(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
