// Package security implements the per-table authorization engine (spec
// §4.6): an ordered list of rules per table, all of which must pass for a
// QueryAnalysis to be allowed to execute.
package security

import (
	"context"
	"fmt"

	"github.com/marcus/ormsync/internal/analyzer"
	"github.com/marcus/ormsync/internal/ormerrors"
)

// Rule evaluates whether user may proceed with the access described by qa
// against one table. Rules are evaluated in registration order; the first
// to return false or a non-nil error short-circuits the remaining rules
// for that table.
type Rule func(ctx context.Context, qa analyzer.QueryAnalysis, user any) (bool, error)

// Engine holds the ordered rule list per table name.
type Engine struct {
	rules map[string][]Rule
}

// NewEngine returns an empty Engine; tables with no registered rules are
// allowed unconditionally (matching the spec's "no rules means open"
// default, mirrored from the teacher's permissive dev-mode API-key check
// in internal/api/middleware.go when no scopes are configured).
func NewEngine() *Engine {
	return &Engine{rules: make(map[string][]Rule)}
}

// Register appends rules to table's rule list, in order.
func (e *Engine) Register(table string, rules ...Rule) {
	e.rules[table] = append(e.rules[table], rules...)
}

// Authorize checks every table touched by qa against its registered rule
// list, returning ormerrors.AuthorizationDeniedError on the first denial.
func (e *Engine) Authorize(ctx context.Context, qa analyzer.QueryAnalysis, user any) error {
	for _, table := range qa.TableNames() {
		rules := e.rules[table]
		for idx, rule := range rules {
			ok, err := rule(ctx, qa, user)
			if err != nil {
				return &ormerrors.AuthorizationDeniedError{Table: table, RuleIdx: idx, Reason: err.Error()}
			}
			if !ok {
				return &ormerrors.AuthorizationDeniedError{Table: table, RuleIdx: idx, Reason: fmt.Sprintf("rule %d denied access to %s", idx, table)}
			}
		}
	}
	return nil
}
