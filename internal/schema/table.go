package schema

import (
	"fmt"

	"github.com/iancoleman/strcase"
)

// IndexMeta describes one declared index.
type IndexMeta struct {
	Columns []string
	Unique  bool
}

// TableMeta is the metadata of one declared table. Column order is
// recorded explicitly in ColumnOrder since Go maps do not preserve
// insertion order, a concrete resolution of the spec's "ordered Map".
type TableMeta struct {
	Name        string
	DBName      string
	Columns     map[string]*ColumnMeta
	ColumnOrder []string
	Indexes     []IndexMeta
	Constraints [][]string
	RenamedFrom string
	AliasedFrom string
}

// Column returns the column metadata by application name, or nil.
func (t *TableMeta) Column(name string) *ColumnMeta {
	return t.Columns[name]
}

// OrderedColumns returns columns in declaration order.
func (t *TableMeta) OrderedColumns() []*ColumnMeta {
	out := make([]*ColumnMeta, 0, len(t.ColumnOrder))
	for _, name := range t.ColumnOrder {
		out = append(out, t.Columns[name])
	}
	return out
}

// PrimaryKeyColumn returns the declared primary-key column, or nil if none
// is marked (callers generally fall back to "id" by convention, the shape
// schema.ID() always produces).
func (t *TableMeta) PrimaryKeyColumn() *ColumnMeta {
	for _, c := range t.OrderedColumns() {
		if c.PrimaryKey {
			return c
		}
	}
	return nil
}

// TableBuilder builds a TableMeta from a name and an ordered list of
// column builders, mirroring the DSL's table(name, {cols...}) call shape.
type TableBuilder struct {
	t TableMeta
}

// Table begins a table declaration.
func Table(name string, columns ...*ColumnBuilder) *TableBuilder {
	tb := &TableBuilder{t: TableMeta{
		Name:    name,
		DBName:  strcase.ToSnake(name),
		Columns: make(map[string]*ColumnMeta, len(columns)),
	}}
	for _, cb := range columns {
		c := cb.Build()
		tb.t.Columns[c.Name] = &c
		tb.t.ColumnOrder = append(tb.t.ColumnOrder, c.Name)
	}
	return tb
}

// Index declares a (non-unique by default) index over the given
// application column names.
func (tb *TableBuilder) Index(unique bool, columns ...string) *TableBuilder {
	tb.t.Indexes = append(tb.t.Indexes, IndexMeta{Columns: columns, Unique: unique})
	return tb
}

// Constraint declares a table-level constraint, e.g.
// Constraint("primaryKey", "projectId", "userId").
func (tb *TableBuilder) Constraint(kind string, columns ...string) *TableBuilder {
	tb.t.Constraints = append(tb.t.Constraints, append([]string{kind}, columns...))
	return tb
}

// RenamedFrom marks the table as a rename target of a previous dbName.
func (tb *TableBuilder) RenamedFrom(prev string) *TableBuilder {
	tb.t.RenamedFrom = prev
	return tb
}

// AliasedFrom marks the table as a derived alias of another table (used by
// join aliasing, never persisted as its own physical table).
func (tb *TableBuilder) AliasedFrom(base string) *TableBuilder {
	tb.t.AliasedFrom = base
	return tb
}

// Build finalizes the TableMeta.
func (tb *TableBuilder) Build() TableMeta { return tb.t }

// Registry is a process-wide, table-name-keyed lookup of declared tables.
// Columns reference their owning table only by name (never a pointer),
// resolved through the Registry -- the concrete realization of the spec's
// note that cyclic column<->table references must be logical lookups, not
// object graphs.
type Registry struct {
	tables map[string]*TableMeta
	order  []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*TableMeta)}
}

// Register adds a table, keyed by its declared Name. Registering the same
// name twice replaces the prior entry but preserves its original position.
func (r *Registry) Register(t TableMeta) {
	if _, exists := r.tables[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	tc := t
	r.tables[t.Name] = &tc
}

// Table looks up a registered table by name.
func (r *Registry) Table(name string) (*TableMeta, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// MustTable looks up a registered table by name, panicking if absent --
// used at startup wiring time where a missing table is a programming
// error, not a runtime condition.
func (r *Registry) MustTable(name string) *TableMeta {
	t, ok := r.tables[name]
	if !ok {
		panic(fmt.Sprintf("schema: table %q not registered", name))
	}
	return t
}

// Tables returns all registered tables in registration order.
func (r *Registry) Tables() []*TableMeta {
	out := make([]*TableMeta, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tables[name])
	}
	return out
}
