package security

import (
	"context"
	"testing"

	"github.com/marcus/ormsync/internal/analyzer"
)

func TestEngine_NoRulesAllowsAccess(t *testing.T) {
	e := NewEngine()
	qa := analyzer.QueryAnalysis{Type: analyzer.TypeSelect, AccessedTables: []analyzer.TableAccess{{Name: "users"}}}
	if err := e.Authorize(context.Background(), qa, nil); err != nil {
		t.Fatalf("expected no error with no rules registered, got %v", err)
	}
}

func TestEngine_FirstFalseRuleShortCircuits(t *testing.T) {
	e := NewEngine()
	called := 0
	e.Register("users",
		func(ctx context.Context, qa analyzer.QueryAnalysis, user any) (bool, error) { called++; return false, nil },
		func(ctx context.Context, qa analyzer.QueryAnalysis, user any) (bool, error) { called++; return true, nil },
	)
	qa := analyzer.QueryAnalysis{AccessedTables: []analyzer.TableAccess{{Name: "users"}}}
	err := e.Authorize(context.Background(), qa, nil)
	if err == nil {
		t.Fatalf("expected denial")
	}
	if called != 1 {
		t.Fatalf("expected short-circuit after first rule, got %d calls", called)
	}
}
