// Package livequery implements the reactive subscription manager (spec
// §4.7): callers register a query's affected-table set once, and any
// later mutation touching one of those tables fires the registered
// callback so the caller can re-run (or invalidate) its query.
package livequery

import (
	"strconv"
	"sync"

	"github.com/marcus/ormsync/internal/analyzer"
)

// subscription is one registered query and the tables it depends on.
type subscription struct {
	id       string
	tables   map[string]bool
	callback func()
}

// Manager tracks active subscriptions keyed by an opaque ID, guarded by a
// mutex -- the same map+mutex shape the teacher uses for its rate
// limiter's per-key bucket table (internal/api/ratelimit.go), generalized
// here from "throttle a key" to "fan out an invalidation to every
// subscriber of a table".
type Manager struct {
	mu    sync.Mutex
	subs  map[string]*subscription
	nextN uint64
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{subs: make(map[string]*subscription)}
}

// AffectedTables computes a query's invalidation dependency set from its
// QueryAnalysis: every base table it touches. CTE names never appear
// here since the analyzer already expands CTE bodies into their
// underlying base-table accesses (see internal/analyzer's cteNames
// skip-list), so "tables the query actually reads from disk" is exactly
// qa.TableNames().
func AffectedTables(qa analyzer.QueryAnalysis) map[string]bool {
	out := make(map[string]bool, len(qa.AccessedTables))
	for _, t := range qa.TableNames() {
		out[t] = true
	}
	return out
}

// Subscribe registers cb to fire whenever any table in qa's accessed-table
// set is invalidated, returning an unsubscribe func.
func (m *Manager) Subscribe(qa analyzer.QueryAnalysis, cb func()) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextN++
	id := strconv.FormatUint(m.nextN, 10)
	m.subs[id] = &subscription{id: id, tables: AffectedTables(qa), callback: cb}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Invalidate fires every subscription whose table set includes table.
// changedIDs is accepted for a future row-id-scoped invalidation
// refinement but is not yet consulted -- every subscription on the
// table fires regardless of which rows changed, matching the spec's
// table-granularity invalidation (row-level diffing is an explicit
// non-goal at this layer; QueryClient's own cache entries decide whether
// a re-fetch actually changes what the caller sees).
func (m *Manager) Invalidate(table string, changedIDs ...string) {
	m.mu.Lock()
	var callbacks []func()
	for _, sub := range m.subs {
		if sub.tables[table] {
			callbacks = append(callbacks, sub.callback)
		}
	}
	m.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}
