// Package conflict implements the server-side per-column conflict
// resolver (spec §4.11): given an incoming batch's server-assigned
// timestamp T, it decides -- per mutation, per column -- whether to
// apply, ignore, or reject, consulting the server's column-timestamp and
// row-deletion bookkeeping (server_column_timestamps /
// server_row_deletions).
//
// The duplicate-batch and duplicate-row detection here is grounded on
// the teacher's internal/sync/engine.go InsertServerEvents pattern
// (checking sql.Result.RowsAffected()==0 to recognize "already applied"
// rather than treating a re-send as an error), and the lexicographic
// tie-break in DetectOutOfOrder generalizes the teacher's
// internal/sync/events.go deterministic (issue_id, depends_on_id)
// string-comparison cycle tie-break to ULID batch-ID comparison.
package conflict

import "context"

// Store is the server-side bookkeeping conflict resolution consults and
// updates: per-(table,row,column) timestamps, and per-row deletion
// state.
type Store interface {
	// ColumnTimestamp returns the last-applied server timestamp for one
	// column of one row, or ok=false if never written.
	ColumnTimestamp(ctx context.Context, table, rowPK, column string) (ts int64, ok bool, err error)
	// SetColumnTimestamp records that column was last written at ts.
	SetColumnTimestamp(ctx context.Context, table, rowPK, column string, ts int64) error
	// MaxColumnTimestamp returns the greatest column timestamp recorded
	// for the row, or ok=false if the row has no recorded columns yet.
	MaxColumnTimestamp(ctx context.Context, table, rowPK string) (ts int64, ok bool, err error)
	// DeletedAt returns the server timestamp the row was deleted at, or
	// ok=false if the row is not (yet) known to be deleted.
	DeletedAt(ctx context.Context, table, rowPK string) (ts int64, ok bool, err error)
	// MarkDeleted records the row as deleted at ts.
	MarkDeleted(ctx context.Context, table, rowPK string, ts int64) error
	// RowExists reports whether the row is currently known to exist
	// (inserted and not deleted).
	RowExists(ctx context.Context, table, rowPK string) (bool, error)
	// LastAppliedBatch returns the batch ID of the most recent mutation
	// applied against the row, or ok=false if the row has never been
	// touched -- consulted by DetectOutOfOrder.
	LastAppliedBatch(ctx context.Context, table, rowPK string) (batchID string, ok bool, err error)
	// SetLastAppliedBatch records batchID as the row's most recent
	// applied batch.
	SetLastAppliedBatch(ctx context.Context, table, rowPK, batchID string) error
}

// Outcome is the resolver's per-mutation decision.
type Outcome struct {
	Accept         bool
	AppliedColumns map[string]bool // columns actually written (subset of the proposed set)
	NoOp           bool            // accepted as a successful no-op, not an error (rule 2.3)
	Reason         string          // set when !Accept
}

// ResolveInsert implements rule 2.4: reject an insert whose primary key
// already exists.
func ResolveInsert(ctx context.Context, store Store, table, rowPK string) (Outcome, error) {
	exists, err := store.RowExists(ctx, table, rowPK)
	if err != nil {
		return Outcome{}, err
	}
	if exists {
		return Outcome{Accept: false, Reason: "duplicate primary key"}, nil
	}
	return Outcome{Accept: true}, nil
}

// ResolveUpdate implements rules 2.1, 2.1b, and 2.2a: the update is
// rejected wholesale if the row was deleted strictly after T (rule
// 2.2a); otherwise each column is applied only if its stored timestamp
// is older than T, merging with any concurrent disjoint-column writer
// (rule 2.1) and silently dropping columns a later writer already won
// (rule 2.1b).
func ResolveUpdate(ctx context.Context, store Store, table, rowPK string, columns []string, t int64) (Outcome, error) {
	deletedAt, deleted, err := store.DeletedAt(ctx, table, rowPK)
	if err != nil {
		return Outcome{}, err
	}
	if deleted && deletedAt > t {
		return Outcome{Accept: false, Reason: "update after delete"}, nil
	}

	applied := make(map[string]bool, len(columns))
	for _, col := range columns {
		stored, ok, err := store.ColumnTimestamp(ctx, table, rowPK, col)
		if err != nil {
			return Outcome{}, err
		}
		if ok && stored >= t {
			continue // rule 2.1b: a later (or same) writer already won this column
		}
		if err := store.SetColumnTimestamp(ctx, table, rowPK, col, t); err != nil {
			return Outcome{}, err
		}
		applied[col] = true
	}
	return Outcome{Accept: true, AppliedColumns: applied}, nil
}

// ResolveDelete implements rules 2.2b and 2.3: a delete is accepted only
// if its timestamp is newer than every column's stored timestamp for the
// row (rule 2.2b); a delete arriving for an already-deleted row is
// accepted as a no-op, not a conflict (rule 2.3).
func ResolveDelete(ctx context.Context, store Store, table, rowPK string, t int64) (Outcome, error) {
	if _, already, err := store.DeletedAt(ctx, table, rowPK); err != nil {
		return Outcome{}, err
	} else if already {
		return Outcome{Accept: true, NoOp: true}, nil
	}

	maxTs, ok, err := store.MaxColumnTimestamp(ctx, table, rowPK)
	if err != nil {
		return Outcome{}, err
	}
	if ok && maxTs >= t {
		return Outcome{Accept: false, Reason: "delete predates a concurrent update"}, nil
	}
	if err := store.MarkDeleted(ctx, table, rowPK, t); err != nil {
		return Outcome{}, err
	}
	return Outcome{Accept: true}, nil
}

// DetectOutOfOrder implements rule 3's ordering check: reports whether
// incomingBatchID logically precedes priorBatchID even though it is
// being applied later, by comparing their ULID lexicographic order (ULIDs
// embed a millisecond timestamp in their leading characters, so string
// comparison is also chronological comparison). The only caller,
// internal/syncserver's applyBatch, rejects the whole batch when this
// reports true; nothing buffers or re-applies the rejected batch later.
func DetectOutOfOrder(incomingBatchID, priorAppliedBatchID string) bool {
	return incomingBatchID < priorAppliedBatchID
}
