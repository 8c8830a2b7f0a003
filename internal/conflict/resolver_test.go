package conflict

import (
	"context"
	"testing"

	"github.com/marcus/ormsync/internal/driver"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	d, err := driver.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Exec(context.Background(), "CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT, color TEXT)"); err != nil {
		t.Fatalf("create widgets: %v", err)
	}
	s := &SQLStore{Driver: d}
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

// rule 2.1: concurrent updates to disjoint columns both apply.
func TestResolveUpdate_DisjointColumnsBothApply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	out, err := ResolveUpdate(ctx, s, "widgets", "w1", []string{"name"}, 100)
	if err != nil || !out.Accept {
		t.Fatalf("first update: out=%+v err=%v", out, err)
	}
	out, err = ResolveUpdate(ctx, s, "widgets", "w1", []string{"color"}, 105)
	if err != nil || !out.Accept || !out.AppliedColumns["color"] {
		t.Fatalf("second update: out=%+v err=%v", out, err)
	}
}

// rule 2.1b: an older-timestamped update to the same column that a
// newer writer already won is silently dropped for that column.
func TestResolveUpdate_OlderTimestampSameColumnDropped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := ResolveUpdate(ctx, s, "widgets", "w1", []string{"name"}, 200); err != nil {
		t.Fatalf("newer update: %v", err)
	}
	out, err := ResolveUpdate(ctx, s, "widgets", "w1", []string{"name"}, 100)
	if err != nil {
		t.Fatalf("older update: %v", err)
	}
	if !out.Accept {
		t.Fatalf("expected batch-level accept even though column dropped, got %+v", out)
	}
	if out.AppliedColumns["name"] {
		t.Fatalf("expected name column to be dropped, got applied: %+v", out.AppliedColumns)
	}
}

// rule 2.2a: an update is rejected wholesale if the row was deleted at a
// timestamp strictly after the update's own timestamp.
func TestResolveUpdate_RejectedAfterLaterDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := ResolveDelete(ctx, s, "widgets", "w1", 500); err != nil {
		t.Fatalf("delete: %v", err)
	}
	out, err := ResolveUpdate(ctx, s, "widgets", "w1", []string{"name"}, 100)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out.Accept {
		t.Fatalf("expected update-after-delete rejection, got %+v", out)
	}
}

// rule 2.2b: a delete is accepted only once its timestamp is newer than
// every stored column timestamp on the row.
func TestResolveDelete_RejectedWhenOlderThanUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := ResolveUpdate(ctx, s, "widgets", "w1", []string{"name"}, 300); err != nil {
		t.Fatalf("update: %v", err)
	}
	out, err := ResolveDelete(ctx, s, "widgets", "w1", 200)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if out.Accept {
		t.Fatalf("expected delete to be rejected as predating the update, got %+v", out)
	}
}

// rule 2.3: a second delete of an already-deleted row is a no-op, not a
// conflict.
func TestResolveDelete_SecondDeleteIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := ResolveDelete(ctx, s, "widgets", "w1", 100); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	out, err := ResolveDelete(ctx, s, "widgets", "w1", 50)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if !out.Accept || !out.NoOp {
		t.Fatalf("expected accepted no-op, got %+v", out)
	}
}

// rule 2.4: inserting a primary key that already exists is rejected.
func TestResolveInsert_DuplicatePrimaryKeyRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Driver.Exec(ctx, "INSERT INTO widgets (id, name) VALUES ('w1', 'first')"); err != nil {
		t.Fatalf("seed row: %v", err)
	}
	out, err := ResolveInsert(ctx, s, "widgets", "w1")
	if err != nil {
		t.Fatalf("resolve insert: %v", err)
	}
	if out.Accept {
		t.Fatalf("expected duplicate-PK rejection, got %+v", out)
	}
}

func TestResolveInsert_NewPrimaryKeyAccepted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	out, err := ResolveInsert(ctx, s, "widgets", "w2")
	if err != nil {
		t.Fatalf("resolve insert: %v", err)
	}
	if !out.Accept {
		t.Fatalf("expected acceptance for a fresh primary key, got %+v", out)
	}
}

func TestDetectOutOfOrder(t *testing.T) {
	if !DetectOutOfOrder("01AAAA", "01BBBB") {
		t.Fatalf("expected lexicographically earlier batch ID to be detected as out of order")
	}
	if DetectOutOfOrder("01CCCC", "01BBBB") {
		t.Fatalf("expected lexicographically later batch ID to not be flagged")
	}
}
