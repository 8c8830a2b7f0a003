package mutationlog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/syncproto"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	d, err := driver.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	q := &Queue{Driver: d, NodeID: "node-1"}
	if err := q.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return q
}

func TestEnqueueAndPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	batch, err := q.Enqueue(ctx, "users", syncproto.OpInsert, json.RawMessage(`{"id":"1"}`), nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pending, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != batch.ID {
		t.Fatalf("unexpected pending batches: %+v", pending)
	}
}

func TestMarkAcked_RemovesFromPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	batch, _ := q.Enqueue(ctx, "users", syncproto.OpInsert, json.RawMessage(`{}`), nil)
	if err := q.MarkAcked(ctx, batch.ID); err != nil {
		t.Fatalf("mark acked: %v", err)
	}
	pending, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending after ack, got %d", len(pending))
	}
}

type fakeSender struct{ result syncproto.PushResult }

func (f fakeSender) Send(ctx context.Context, batches []syncproto.MutationBatch) (syncproto.PushResult, error) {
	return f.result, nil
}

func TestPushPending_AppliesAcksAndRejections(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	b1, _ := q.Enqueue(ctx, "users", syncproto.OpInsert, json.RawMessage(`{}`), nil)
	b2, _ := q.Enqueue(ctx, "users", syncproto.OpInsert, json.RawMessage(`{}`), nil)

	sender := fakeSender{result: syncproto.PushResult{
		Acks:     []syncproto.Ack{{BatchID: b1.ID}},
		Rejected: []syncproto.Rejection{{BatchID: b2.ID, Reason: "conflict"}},
	}}
	if _, err := q.PushPending(ctx, sender); err != nil {
		t.Fatalf("push: %v", err)
	}
	pending, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected all batches resolved, got %d pending", len(pending))
	}
}
