package querybuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marcus/ormsync/internal/analyzer"
	"github.com/marcus/ormsync/internal/ormerrors"
	"github.com/marcus/ormsync/internal/schema"
	"github.com/marcus/ormsync/internal/sqlfrag"
	"github.com/marcus/ormsync/internal/syncproto"
)

// pkDBName returns the DB-facing name of meta's primary key column,
// falling back to "id" -- the shape schema.ID() always produces and the
// name the sync server's applyBatch/execUpdate/execDelete path hardcodes.
func pkDBName(meta *schema.TableMeta) string {
	if pk := meta.PrimaryKeyColumn(); pk != nil {
		return pk.DBName
	}
	return "id"
}

// Insert applies AppDefault for missing optional/withDefault columns,
// rejects a row missing any required column, encodes every column, and
// executes a single-row INSERT, returning the row re-decoded as
// Selectable[T] (the driver does not return generated columns, so the
// caller's own applied defaults are what's echoed back).
func Insert[T any](ctx context.Context, exec *Executor, meta *schema.TableMeta, row schema.Insertable[T]) (schema.Selectable[T], error) {
	var zero schema.Selectable[T]

	data, err := schema.ToRow(meta, row.Row)
	if err != nil {
		return zero, err
	}
	schema.ApplyInsertDefaults(meta, data)

	if missing := schema.MissingRequiredColumns(meta, data); len(missing) > 0 {
		return zero, &ormerrors.MissingRequiredColumnsError{Table: meta.Name, Columns: missing}
	}

	encoded, err := schema.EncodeRow(meta, data)
	if err != nil {
		return zero, err
	}

	cols := make([]string, 0, len(encoded))
	for c := range encoded {
		cols = append(cols, c)
	}
	placeholders := make([]string, len(cols))
	params := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		params[i] = encoded[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", meta.DBName, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	frag := sqlfrag.RawSql{Query: query, Params: params}

	if err := authorizeFrag(ctx, exec, frag); err != nil {
		return zero, err
	}
	if _, err := exec.Driver.Run(ctx, frag); err != nil {
		return zero, &ormerrors.DriverError{Op: "insert", Err: err}
	}
	if err := schema.FromRow(meta, data, &zero.Row); err != nil {
		return zero, err
	}
	return zero, nil
}

// InsertMany loops Insert over rows, stopping at the first failure.
func InsertMany[T any](ctx context.Context, exec *Executor, meta *schema.TableMeta, rows []schema.Insertable[T]) ([]schema.Selectable[T], error) {
	out := make([]schema.Selectable[T], 0, len(rows))
	for _, r := range rows {
		inserted, err := Insert[T](ctx, exec, meta, r)
		if err != nil {
			return nil, err
		}
		out = append(out, inserted)
	}
	return out, nil
}

// UpdateSpec pairs the columns to write with the rows they apply to.
type UpdateSpec[T any] struct {
	Data  schema.Updatable[T]
	Where sqlfrag.Filter
}

// Update applies every column's AppOnUpdate hook, encodes the written
// columns, and executes an UPDATE ... WHERE.
func Update[T any](ctx context.Context, exec *Executor, meta *schema.TableMeta, spec UpdateSpec[T]) error {
	data, err := schema.ToRow(meta, spec.Data.Row)
	if err != nil {
		return err
	}
	schema.ApplyUpdateHooks(meta, data)

	encoded, err := schema.EncodeRow(meta, data)
	if err != nil {
		return err
	}

	cols := make([]string, 0, len(encoded))
	for c := range encoded {
		cols = append(cols, c)
	}
	setClauses := make([]string, len(cols))
	params := make([]any, 0, len(cols))
	for i, c := range cols {
		setClauses[i] = c + " = ?"
		params = append(params, encoded[c])
	}
	whereFrag := spec.Where.ToRawSQL()
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", meta.DBName, strings.Join(setClauses, ", "), whereFrag.Query)
	params = append(params, whereFrag.Params...)
	frag := sqlfrag.RawSql{Query: query, Params: params}

	if err := authorizeFrag(ctx, exec, frag); err != nil {
		return err
	}
	if _, err := exec.Driver.Run(ctx, frag); err != nil {
		return &ormerrors.DriverError{Op: "update", Err: err}
	}
	return nil
}

// Delete executes a DELETE ... WHERE.
func Delete(ctx context.Context, exec *Executor, meta *schema.TableMeta, where sqlfrag.Filter) error {
	whereFrag := where.ToRawSQL()
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", meta.DBName, whereFrag.Query)
	frag := sqlfrag.RawSql{Query: query, Params: whereFrag.Params}

	if err := authorizeFrag(ctx, exec, frag); err != nil {
		return err
	}
	if _, err := exec.Driver.Run(ctx, frag); err != nil {
		return &ormerrors.DriverError{Op: "delete", Err: err}
	}
	return nil
}

// InsertWithUndo performs the same work as Insert, then -- in the same
// local transaction as the row write -- appends a mutation batch to
// exec.Queue recording the inserted row (Data) and a PK-only payload
// (Undo) that reverses the insert via delete (spec §4.10). Insert's
// plain variant is still the one used for rows that are never synced,
// e.g. seeding or server-internal writes.
func InsertWithUndo[T any](ctx context.Context, exec *Executor, meta *schema.TableMeta, row schema.Insertable[T]) (schema.Selectable[T], error) {
	var zero schema.Selectable[T]
	if exec.Queue == nil {
		return zero, fmt.Errorf("querybuilder: InsertWithUndo requires Executor.Queue")
	}

	data, err := schema.ToRow(meta, row.Row)
	if err != nil {
		return zero, err
	}
	schema.ApplyInsertDefaults(meta, data)

	if missing := schema.MissingRequiredColumns(meta, data); len(missing) > 0 {
		return zero, &ormerrors.MissingRequiredColumnsError{Table: meta.Name, Columns: missing}
	}

	encoded, err := schema.EncodeRow(meta, data)
	if err != nil {
		return zero, err
	}

	cols := make([]string, 0, len(encoded))
	for c := range encoded {
		cols = append(cols, c)
	}
	placeholders := make([]string, len(cols))
	params := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		params[i] = encoded[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", meta.DBName, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	frag := sqlfrag.RawSql{Query: query, Params: params}
	if err := authorizeFrag(ctx, exec, frag); err != nil {
		return zero, err
	}

	pkCol := pkDBName(meta)
	pkVal, ok := encoded[pkCol]
	if !ok {
		return zero, fmt.Errorf("querybuilder: InsertWithUndo: row has no %s value", pkCol)
	}
	dataJSON, err := json.Marshal(encoded)
	if err != nil {
		return zero, err
	}
	undoJSON, err := json.Marshal(map[string]any{pkCol: pkVal})
	if err != nil {
		return zero, err
	}

	tx, err := exec.Driver.BeginTx(ctx)
	if err != nil {
		return zero, &ormerrors.DriverError{Op: "insert.begin", Err: err}
	}
	if _, err := tx.Run(ctx, frag); err != nil {
		tx.Rollback()
		return zero, &ormerrors.DriverError{Op: "insert", Err: err}
	}
	if _, err := exec.Queue.InTx(tx).EnqueueBatch(ctx, []syncproto.Mutation{{
		Table: meta.DBName, Type: syncproto.OpInsert, Data: dataJSON, Undo: undoJSON,
	}}); err != nil {
		tx.Rollback()
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, &ormerrors.DriverError{Op: "insert.commit", Err: err}
	}

	if err := schema.FromRow(meta, data, &zero.Row); err != nil {
		return zero, err
	}
	return zero, nil
}

// UpdateWithUndo runs spec.Where's matching rows through UPDATE, and for
// each matched row appends a mutation recording the new values (Data) and
// the prior values of just the changed columns (Undo), so the batch can
// be reversed with a column-scoped UPDATE. The pre-image SELECT runs
// before BeginTx since driver.Tx rejects reads inside a transaction.
func UpdateWithUndo[T any](ctx context.Context, exec *Executor, meta *schema.TableMeta, spec UpdateSpec[T]) error {
	if exec.Queue == nil {
		return fmt.Errorf("querybuilder: UpdateWithUndo requires Executor.Queue")
	}

	data, err := schema.ToRow(meta, spec.Data.Row)
	if err != nil {
		return err
	}
	schema.ApplyUpdateHooks(meta, data)

	encoded, err := schema.EncodeRow(meta, data)
	if err != nil {
		return err
	}

	cols := make([]string, 0, len(encoded))
	for c := range encoded {
		cols = append(cols, c)
	}
	pkCol := pkDBName(meta)
	whereFrag := spec.Where.ToRawSQL()

	preSelect := sqlfrag.RawSql{
		Query:  fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s", pkCol, strings.Join(cols, ", "), meta.DBName, whereFrag.Query),
		Params: whereFrag.Params,
	}
	preRows, err := exec.Driver.Run(ctx, preSelect)
	if err != nil {
		return &ormerrors.DriverError{Op: "update.preimage", Err: err}
	}

	setClauses := make([]string, len(cols))
	params := make([]any, 0, len(cols))
	for i, c := range cols {
		setClauses[i] = c + " = ?"
		params = append(params, encoded[c])
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", meta.DBName, strings.Join(setClauses, ", "), whereFrag.Query)
	params = append(params, whereFrag.Params...)
	frag := sqlfrag.RawSql{Query: query, Params: params}
	if err := authorizeFrag(ctx, exec, frag); err != nil {
		return err
	}

	mutations := make([]syncproto.Mutation, 0, len(preRows))
	for _, r := range preRows {
		pkVal := r[pkCol]
		newFields := map[string]any{pkCol: pkVal}
		oldFields := map[string]any{pkCol: pkVal}
		for _, c := range cols {
			newFields[c] = encoded[c]
			oldFields[c] = r[c]
		}
		dataJSON, err := json.Marshal(newFields)
		if err != nil {
			return err
		}
		undoJSON, err := json.Marshal(oldFields)
		if err != nil {
			return err
		}
		mutations = append(mutations, syncproto.Mutation{
			Table: meta.DBName, Type: syncproto.OpUpdate, Data: dataJSON, Undo: undoJSON,
		})
	}

	tx, err := exec.Driver.BeginTx(ctx)
	if err != nil {
		return &ormerrors.DriverError{Op: "update.begin", Err: err}
	}
	if _, err := tx.Run(ctx, frag); err != nil {
		tx.Rollback()
		return &ormerrors.DriverError{Op: "update", Err: err}
	}
	if len(mutations) > 0 {
		if _, err := exec.Queue.InTx(tx).EnqueueBatch(ctx, mutations); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return &ormerrors.DriverError{Op: "update.commit", Err: err}
	}
	return nil
}

// DeleteWithUndo captures the full pre-image of every row matched by
// where, deletes them, and appends one mutation per row whose Undo
// payload is the complete prior row (enough to reverse the delete via
// INSERT). Like UpdateWithUndo, the pre-image read happens before
// BeginTx.
func DeleteWithUndo(ctx context.Context, exec *Executor, meta *schema.TableMeta, where sqlfrag.Filter) error {
	if exec.Queue == nil {
		return fmt.Errorf("querybuilder: DeleteWithUndo requires Executor.Queue")
	}

	pkCol := pkDBName(meta)
	whereFrag := where.ToRawSQL()

	preSelect := sqlfrag.RawSql{
		Query:  fmt.Sprintf("SELECT * FROM %s WHERE %s", meta.DBName, whereFrag.Query),
		Params: whereFrag.Params,
	}
	preRows, err := exec.Driver.Run(ctx, preSelect)
	if err != nil {
		return &ormerrors.DriverError{Op: "delete.preimage", Err: err}
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", meta.DBName, whereFrag.Query)
	frag := sqlfrag.RawSql{Query: query, Params: whereFrag.Params}
	if err := authorizeFrag(ctx, exec, frag); err != nil {
		return err
	}

	mutations := make([]syncproto.Mutation, 0, len(preRows))
	for _, r := range preRows {
		pkVal := r[pkCol]
		dataJSON, err := json.Marshal(map[string]any{pkCol: pkVal})
		if err != nil {
			return err
		}
		undoJSON, err := json.Marshal(r)
		if err != nil {
			return err
		}
		mutations = append(mutations, syncproto.Mutation{
			Table: meta.DBName, Type: syncproto.OpDelete, Data: dataJSON, Undo: undoJSON,
		})
	}

	tx, err := exec.Driver.BeginTx(ctx)
	if err != nil {
		return &ormerrors.DriverError{Op: "delete.begin", Err: err}
	}
	if _, err := tx.Run(ctx, frag); err != nil {
		tx.Rollback()
		return &ormerrors.DriverError{Op: "delete", Err: err}
	}
	if len(mutations) > 0 {
		if _, err := exec.Queue.InTx(tx).EnqueueBatch(ctx, mutations); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return &ormerrors.DriverError{Op: "delete.commit", Err: err}
	}
	return nil
}

func authorizeFrag(ctx context.Context, exec *Executor, frag sqlfrag.RawSql) error {
	if exec.Security == nil {
		return nil
	}
	qa, err := analyzer.Analyze(frag)
	if err != nil {
		return err
	}
	return exec.Security.Authorize(ctx, qa, exec.User)
}
