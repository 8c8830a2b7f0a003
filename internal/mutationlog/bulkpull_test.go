package mutationlog

import (
	"context"
	"testing"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/syncproto"
)

func newTestPuller(t *testing.T) *BulkPuller {
	t.Helper()
	d, err := driver.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Exec(context.Background(), "CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create widgets: %v", err)
	}
	p := &BulkPuller{Driver: d}
	if err := p.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return p
}

func TestBulkPuller_ApplyBatchInsertsRowsAndAdvancesOffset(t *testing.T) {
	p := newTestPuller(t)
	ctx := context.Background()

	if err := p.BeginTable(ctx, "widgets"); err != nil {
		t.Fatalf("begin table: %v", err)
	}
	batch := syncproto.ColumnarBatch{
		Table:   "widgets",
		Columns: map[string][]any{"id": {"w1", "w2"}, "name": {"first", "second"}},
		NumRows: 2,
	}
	if err := p.ApplyBatch(ctx, "widgets", batch); err != nil {
		t.Fatalf("apply batch: %v", err)
	}

	rows, err := p.Driver.Run(ctx, driver.RawSQL{Query: "SELECT id, name FROM widgets ORDER BY id"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	state, err := p.ResumeState(ctx)
	if err != nil {
		t.Fatalf("resume state: %v", err)
	}
	if state["widgets"] != 2 {
		t.Fatalf("expected offset 2, got %d", state["widgets"])
	}
}

func TestBulkPuller_EndTableMarksSkipOnResume(t *testing.T) {
	p := newTestPuller(t)
	ctx := context.Background()

	if err := p.BeginTable(ctx, "widgets"); err != nil {
		t.Fatalf("begin table: %v", err)
	}
	if err := p.EndTable(ctx, "widgets"); err != nil {
		t.Fatalf("end table: %v", err)
	}

	state, err := p.ResumeState(ctx)
	if err != nil {
		t.Fatalf("resume state: %v", err)
	}
	if state["widgets"] != -1 {
		t.Fatalf("expected fully-pulled table reported as skip sentinel, got %d", state["widgets"])
	}
}
