package mutationlog

import (
	"context"
	"fmt"

	"github.com/marcus/ormsync/internal/ormerrors"
	"github.com/marcus/ormsync/internal/syncproto"
)

// Sender is the subset of the RemoteDb interface (spec §6) the push loop
// needs, kept minimal here so mutationlog does not import netremote.
type Sender interface {
	Send(ctx context.Context, batches []syncproto.MutationBatch) (syncproto.PushResult, error)
}

const maxPushAttempts = 5

// PushPending sends every currently pending batch to remote in one call,
// retrying transient network failures with retryWithBackoff, and applies
// the resulting acks/rejections to the local queue: acked batches are
// marked acked, and every rejected batch, whatever its reason, is moved
// to _failed_mutations and its local effect undone via UndoFailed.
func (q *Queue) PushPending(ctx context.Context, remote Sender) (syncproto.PushResult, error) {
	batches, err := q.Pending(ctx)
	if err != nil {
		return syncproto.PushResult{}, err
	}
	if len(batches) == 0 {
		return syncproto.PushResult{}, nil
	}

	if q.Online != nil && !q.Online.IsOnline(ctx) {
		return syncproto.PushResult{}, &ormerrors.NetworkError{Op: "push", Err: fmt.Errorf("remote is offline")}
	}

	if q.State != nil {
		q.State.Transition(PhaseSyncing)
	}

	var result syncproto.PushResult
	err = retryWithBackoff(ctx, maxPushAttempts, func() error {
		res, sendErr := remote.Send(ctx, batches)
		if sendErr != nil {
			return &ormerrors.NetworkError{Op: "push", Err: sendErr}
		}
		result = res
		return nil
	})
	if err != nil {
		return syncproto.PushResult{}, err
	}

	for _, ack := range result.Acks {
		if err := q.MarkAcked(ctx, ack.BatchID); err != nil {
			return result, fmt.Errorf("mutationlog: mark acked %s: %w", ack.BatchID, err)
		}
	}
	for _, rej := range result.Rejected {
		// Archive first (so the rejection survives for inspection), then
		// roll the local table back to match: the batch's SQL already
		// landed locally (that's what queued it), and the server refusing
		// it means local state must be reverted, not just abandoned.
		if err := q.MarkFailed(ctx, rej.BatchID, rej.Reason); err != nil {
			return result, fmt.Errorf("mutationlog: mark failed %s: %w", rej.BatchID, err)
		}
		if err := q.UndoFailed(ctx, rej.BatchID, q.ApplyUndo); err != nil {
			return result, fmt.Errorf("mutationlog: undo rejected batch %s: %w", rej.BatchID, err)
		}
	}

	if q.State != nil {
		q.State.Transition(PhaseSynced)
	}
	return result, nil
}
