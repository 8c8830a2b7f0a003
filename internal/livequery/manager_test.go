package livequery

import (
	"testing"

	"github.com/marcus/ormsync/internal/analyzer"
)

func TestSubscribe_InvalidateFiresOnlyMatchingTables(t *testing.T) {
	m := NewManager()
	qa := analyzer.QueryAnalysis{AccessedTables: []analyzer.TableAccess{{Name: "users"}}}
	fired := 0
	unsub := m.Subscribe(qa, func() { fired++ })
	defer unsub()

	m.Invalidate("orders")
	if fired != 0 {
		t.Fatalf("expected no fire for unrelated table, got %d", fired)
	}
	m.Invalidate("users")
	if fired != 1 {
		t.Fatalf("expected one fire, got %d", fired)
	}
}

func TestUnsubscribe_StopsFutureInvalidations(t *testing.T) {
	m := NewManager()
	qa := analyzer.QueryAnalysis{AccessedTables: []analyzer.TableAccess{{Name: "users"}}}
	fired := 0
	unsub := m.Subscribe(qa, func() { fired++ })
	unsub()
	m.Invalidate("users")
	if fired != 0 {
		t.Fatalf("expected no fire after unsubscribe, got %d", fired)
	}
}
