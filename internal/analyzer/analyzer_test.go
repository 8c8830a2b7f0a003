package analyzer

import (
	"testing"

	"github.com/marcus/ormsync/internal/sqlfrag"
)

func TestAnalyze_SimpleSelectWithFilter(t *testing.T) {
	frag := sqlfrag.RawSql{Query: "SELECT id, name FROM users WHERE id = ?", Params: []any{"u1"}}
	qa, err := Analyze(frag)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if qa.Type != TypeSelect {
		t.Fatalf("expected select, got %s", qa.Type)
	}
	if got := qa.TableNames(); len(got) != 1 || got[0] != "users" {
		t.Fatalf("expected [users], got %v", got)
	}
	ta := qa.AccessedTables[0]
	if len(ta.Filters) != 1 || ta.Filters[0].Column != "id" {
		t.Fatalf("expected one filter on id, got %+v", ta.Filters)
	}
}

func TestAnalyze_JoinOrdersTablesByFirstAppearance(t *testing.T) {
	frag := sqlfrag.RawSql{Query: "SELECT o.id FROM orders o JOIN users u ON u.id = o.user_id WHERE u.active = ?", Params: []any{true}}
	qa, err := Analyze(frag)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	got := qa.TableNames()
	if len(got) != 2 || got[0] != "orders" || got[1] != "users" {
		t.Fatalf("expected [orders users], got %v", got)
	}
}

func TestAnalyze_CTEExpandsIntoAccessedTables(t *testing.T) {
	frag := sqlfrag.RawSql{Query: "WITH active_users AS (SELECT id FROM users WHERE active = ?) SELECT * FROM active_users", Params: []any{true}}
	qa, err := Analyze(frag)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	got := qa.TableNames()
	if len(got) != 1 || got[0] != "users" {
		t.Fatalf("expected CTE body's base table users, got %v", got)
	}
}

func TestAnalyze_InsertCapturesColumns(t *testing.T) {
	frag := sqlfrag.RawSql{Query: "INSERT INTO users (id, name) VALUES (?, ?)", Params: []any{"u1", "Alice"}}
	qa, err := Analyze(frag)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if qa.Type != TypeInsert {
		t.Fatalf("expected insert, got %s", qa.Type)
	}
	ta := qa.AccessedTables[0]
	if ta.Name != "users" || len(ta.Columns) != 2 {
		t.Fatalf("unexpected table access: %+v", ta)
	}
}

func TestAnalyze_UnionReportsCompoundSelect(t *testing.T) {
	frag := sqlfrag.RawSql{Query: "SELECT id FROM users UNION SELECT id FROM archived_users"}
	qa, err := Analyze(frag)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if qa.Type != TypeCompoundSelect {
		t.Fatalf("expected compound_select, got %s", qa.Type)
	}
	got := qa.TableNames()
	if len(got) != 2 || got[0] != "users" || got[1] != "archived_users" {
		t.Fatalf("expected [users archived_users], got %v", got)
	}
}
