// Package mutationlog implements the local mutation queue (spec §4.10):
// every local write through a *WithUndo query-builder variant appends a
// Mutation to _db_mutations_queue in the same transaction as the
// user-table write, and this package owns pushing queued batches to the
// server and applying undo on local rollback requests.
package mutationlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/ormerrors"
	"github.com/marcus/ormsync/internal/syncproto"
)

// queueTableDDL creates the reserved local mutation queue table. Status
// progresses pending -> acked; a batch the server rejects is instead
// moved to _failed_mutations and deleted from this table by MarkFailed.
// A push whose retries are exhausted leaves its batches pending.
const queueTableDDL = `
CREATE TABLE IF NOT EXISTS _db_mutations_queue (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	table_name TEXT NOT NULL,
	op TEXT NOT NULL,
	data_json TEXT,
	undo_json TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL,
	acked_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_mutations_queue_batch ON _db_mutations_queue (batch_id);
CREATE INDEX IF NOT EXISTS idx_mutations_queue_status ON _db_mutations_queue (status);

CREATE TABLE IF NOT EXISTS _failed_mutations (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	table_name TEXT NOT NULL,
	op TEXT NOT NULL,
	data_json TEXT,
	undo_json TEXT,
	reason TEXT,
	failed_at TEXT NOT NULL
);
`

// Runner is the subset of driver.Driver/driver.Tx the queue needs to issue
// its own bookkeeping writes through, so EnqueueBatch can be scoped to the
// same transaction as the user-table write it accompanies (mirrors
// internal/conflict.Runner/SQLStore.InTx).
type Runner interface {
	Run(ctx context.Context, frag driver.RawSQL) ([]driver.Row, error)
}

// Queue owns the local mutation log for one database.
type Queue struct {
	Driver driver.Driver
	Runner Runner // when set, takes precedence over Driver for Run calls
	NodeID string

	// Online, when set, gates PushPending: a push is skipped entirely
	// (rather than spending the full retry budget) while the remote is
	// known unreachable.
	Online OnlineDetector
	// State, when set, is driven through its phases by PushPending so
	// callers (e.g. a UI spinner) can observe push/pull progress via
	// SyncState.Phase/WaitForSync without polling the queue directly.
	State *SyncState
}

// InTx returns a shallow copy of q whose writes run through tx instead of
// q.Driver, so a caller can enqueue a mutation batch in the exact same
// transaction as the SQL write it describes.
func (q *Queue) InTx(tx Runner) *Queue {
	cp := *q
	cp.Runner = tx
	return &cp
}

func (q *Queue) runner() Runner {
	if q.Runner != nil {
		return q.Runner
	}
	return q.Driver
}

// EnsureSchema creates the queue tables if absent.
func (q *Queue) EnsureSchema(ctx context.Context) error {
	return q.Driver.Exec(ctx, queueTableDDL)
}

// Enqueue appends one mutation under a fresh batch ID and returns it.
// Callers that want several mutations grouped atomically under one batch
// should use EnqueueBatch instead.
func (q *Queue) Enqueue(ctx context.Context, table string, op syncproto.MutationOp, data, undo json.RawMessage) (syncproto.MutationBatch, error) {
	return q.EnqueueBatch(ctx, []syncproto.Mutation{{Table: table, Type: op, Data: data, Undo: undo}})
}

// EnqueueBatch appends every mutation under one new batch ID in a single
// write, matching the spec's atomic-batch invariant.
func (q *Queue) EnqueueBatch(ctx context.Context, mutations []syncproto.Mutation) (syncproto.MutationBatch, error) {
	batchID := ulid.Make().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	for _, m := range mutations {
		rowID := ulid.Make().String()
		frag := driver.RawSQL{
			Query: "INSERT INTO _db_mutations_queue (id, batch_id, table_name, op, data_json, undo_json, status, created_at) VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)",
			Params: []any{rowID, batchID, m.Table, string(m.Type), string(m.Data), string(m.Undo), now},
		}
		if _, err := q.runner().Run(ctx, frag); err != nil {
			return syncproto.MutationBatch{}, &ormerrors.DriverError{Op: "mutationlog.enqueue", Err: err}
		}
	}
	return syncproto.MutationBatch{ID: batchID, Node: syncproto.NodeInfo{ID: q.NodeID}, Mutations: mutations}, nil
}

// Pending returns every batch still in 'pending' status, grouped by
// batch_id, in insertion order.
func (q *Queue) Pending(ctx context.Context) ([]syncproto.MutationBatch, error) {
	rows, err := q.runner().Run(ctx, driver.RawSQL{
		Query: "SELECT batch_id, table_name, op, data_json, undo_json FROM _db_mutations_queue WHERE status = 'pending' ORDER BY created_at ASC, id ASC",
	})
	if err != nil {
		return nil, &ormerrors.DriverError{Op: "mutationlog.pending", Err: err}
	}
	order := make([]string, 0)
	byBatch := make(map[string]*syncproto.MutationBatch)
	for _, r := range rows {
		batchID, _ := r["batch_id"].(string)
		b, ok := byBatch[batchID]
		if !ok {
			b = &syncproto.MutationBatch{ID: batchID, Node: syncproto.NodeInfo{ID: q.NodeID}}
			byBatch[batchID] = b
			order = append(order, batchID)
		}
		table, _ := r["table_name"].(string)
		op, _ := r["op"].(string)
		data, _ := r["data_json"].(string)
		undo, _ := r["undo_json"].(string)
		b.Mutations = append(b.Mutations, syncproto.Mutation{
			Table: table, Type: syncproto.MutationOp(op),
			Data: json.RawMessage(data), Undo: json.RawMessage(undo),
		})
	}
	out := make([]syncproto.MutationBatch, 0, len(order))
	for _, id := range order {
		out = append(out, *byBatch[id])
	}
	return out, nil
}

// MarkAcked flags every row of batchID as acked.
func (q *Queue) MarkAcked(ctx context.Context, batchID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := q.runner().Run(ctx, driver.RawSQL{
		Query:  "UPDATE _db_mutations_queue SET status = 'acked', acked_at = ? WHERE batch_id = ?",
		Params: []any{now, batchID},
	})
	if err != nil {
		return &ormerrors.DriverError{Op: "mutationlog.ack", Err: err}
	}
	return nil
}

// MarkFailed moves every row of batchID out of the active queue and into
// _failed_mutations with reason, so it no longer blocks the push loop.
func (q *Queue) MarkFailed(ctx context.Context, batchID string, reason string) error {
	rows, err := q.runner().Run(ctx, driver.RawSQL{
		Query:  "SELECT id, table_name, op, data_json, undo_json FROM _db_mutations_queue WHERE batch_id = ?",
		Params: []any{batchID},
	})
	if err != nil {
		return &ormerrors.DriverError{Op: "mutationlog.failed.select", Err: err}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range rows {
		id, _ := r["id"].(string)
		table, _ := r["table_name"].(string)
		op, _ := r["op"].(string)
		data, _ := r["data_json"].(string)
		undo, _ := r["undo_json"].(string)
		if _, err := q.runner().Run(ctx, driver.RawSQL{
			Query:  "INSERT INTO _failed_mutations (id, batch_id, table_name, op, data_json, undo_json, reason, failed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			Params: []any{id, batchID, table, op, data, undo, reason, now},
		}); err != nil {
			return fmt.Errorf("mutationlog: record failed mutation: %w", err)
		}
	}
	_, err = q.runner().Run(ctx, driver.RawSQL{Query: "DELETE FROM _db_mutations_queue WHERE batch_id = ?", Params: []any{batchID}})
	return err
}

// UndoFailed reverts a batch already archived into _failed_mutations by
// MarkFailed, applying each mutation's Undo payload in reverse order.
// Used by the push loop: the rejected batch is archived first (so its
// record survives for inspection), then its local effect is rolled back
// from that archive.
func (q *Queue) UndoFailed(ctx context.Context, batchID string, apply UndoApplyFunc) error {
	rows, err := q.runner().Run(ctx, driver.RawSQL{
		Query:  "SELECT table_name, op, undo_json FROM _failed_mutations WHERE batch_id = ? ORDER BY id DESC",
		Params: []any{batchID},
	})
	if err != nil {
		return &ormerrors.DriverError{Op: "mutationlog.undoFailed.select", Err: err}
	}
	for _, r := range rows {
		table, _ := r["table_name"].(string)
		op, _ := r["op"].(string)
		undo, _ := r["undo_json"].(string)
		if err := apply(ctx, table, syncproto.MutationOp(op), json.RawMessage(undo)); err != nil {
			return fmt.Errorf("mutationlog: apply undo for %s: %w", table, err)
		}
	}
	return nil
}

// UndoApplyFunc reverts one mutation's effect on the local table: op is
// the mutation's original type (its Undo payload must be reversed the
// opposite way -- an insert's undo deletes, an update's undo
// re-updates, a delete's undo re-inserts).
type UndoApplyFunc func(ctx context.Context, table string, op syncproto.MutationOp, undo json.RawMessage) error

// Undo reverts a still-pending batch by applying each mutation's Undo
// payload in reverse order and removing the batch from the queue -- used
// when the user cancels/retracts a local action before it has been
// pushed. Server-rejected batches go through MarkFailed and UndoFailed
// instead.
func (q *Queue) Undo(ctx context.Context, batchID string, apply UndoApplyFunc) error {
	rows, err := q.runner().Run(ctx, driver.RawSQL{
		Query:  "SELECT table_name, op, undo_json FROM _db_mutations_queue WHERE batch_id = ? ORDER BY id DESC",
		Params: []any{batchID},
	})
	if err != nil {
		return &ormerrors.DriverError{Op: "mutationlog.undo.select", Err: err}
	}
	for _, r := range rows {
		table, _ := r["table_name"].(string)
		op, _ := r["op"].(string)
		undo, _ := r["undo_json"].(string)
		if err := apply(ctx, table, syncproto.MutationOp(op), json.RawMessage(undo)); err != nil {
			return fmt.Errorf("mutationlog: apply undo for %s: %w", table, err)
		}
	}
	_, err = q.runner().Run(ctx, driver.RawSQL{Query: "DELETE FROM _db_mutations_queue WHERE batch_id = ?", Params: []any{batchID}})
	return err
}
