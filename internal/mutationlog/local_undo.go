package mutationlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/syncproto"
)

// ApplyUndo is the default UndoApplyFunc: it reverses one mutation
// directly against q.Driver, the opposite way the mutation itself wrote
// -- an insert's undo (a {"id": pk} payload) deletes the row, a delete's
// undo (the full pre-image row) re-inserts it, and an update's undo (the
// changed columns' old values, keyed by column name, plus "id") writes
// those columns back. Used by PushPending to revert local state when the
// server rejects an already-applied batch.
func (q *Queue) ApplyUndo(ctx context.Context, table string, op syncproto.MutationOp, undo json.RawMessage) error {
	var fields map[string]any
	if len(undo) > 0 {
		if err := json.Unmarshal(undo, &fields); err != nil {
			return fmt.Errorf("mutationlog: decode undo payload for %s: %w", table, err)
		}
	}
	pk, _ := fields["id"].(string)

	switch op {
	case syncproto.OpInsert:
		if pk == "" {
			return fmt.Errorf("mutationlog: insert undo for %s missing id", table)
		}
		_, err := q.Driver.Run(ctx, driver.RawSQL{Query: "DELETE FROM " + table + " WHERE id = ?", Params: []any{pk}})
		return err

	case syncproto.OpDelete:
		cols := make([]string, 0, len(fields))
		for c := range fields {
			cols = append(cols, c)
		}
		if len(cols) == 0 {
			return nil
		}
		placeholders := make([]string, len(cols))
		params := make([]any, len(cols))
		query := "INSERT INTO " + table + " ("
		for i, c := range cols {
			if i > 0 {
				query += ", "
			}
			query += c
			placeholders[i] = "?"
			params[i] = fields[c]
		}
		query += ") VALUES ("
		for i, p := range placeholders {
			if i > 0 {
				query += ", "
			}
			query += p
		}
		query += ")"
		_, err := q.Driver.Run(ctx, driver.RawSQL{Query: query, Params: params})
		return err

	case syncproto.OpUpdate:
		if pk == "" {
			return fmt.Errorf("mutationlog: update undo for %s missing id", table)
		}
		setClauses := ""
		params := make([]any, 0, len(fields))
		first := true
		for c, v := range fields {
			if c == "id" {
				continue
			}
			if !first {
				setClauses += ", "
			}
			first = false
			setClauses += c + " = ?"
			params = append(params, v)
		}
		if setClauses == "" {
			return nil
		}
		params = append(params, pk)
		_, err := q.Driver.Run(ctx, driver.RawSQL{
			Query:  "UPDATE " + table + " SET " + setClauses + " WHERE id = ?",
			Params: params,
		})
		return err

	default:
		return fmt.Errorf("mutationlog: undo: unknown op %q", op)
	}
}
