// Package schema implements the declarative typed schema DSL: ColumnMeta
// and TableMeta metadata, the chainable builder that produces them, and
// the SchemaSnapshot used by the migration engine. It is grounded on the
// teacher's internal/db/schema.go table-declaration conventions,
// generalized from a fixed set of tables to an arbitrary registry, and on
// rezakhademix-zorm's fluent builder-chain style for the column DSL.
package schema

import (
	"time"

	"github.com/iancoleman/strcase"
	"github.com/oklog/ulid/v2"
)

// StorageType is the physical SQLite storage class a column is declared
// with.
type StorageType string

const (
	Integer StorageType = "integer"
	Real    StorageType = "real"
	Text    StorageType = "text"
	Blob    StorageType = "blob"
)

// AppType is the application-level interpretation layered on top of the
// storage type.
type AppType string

const (
	AppNone    AppType = "none"
	AppJSON    AppType = "json"
	AppDate    AppType = "date"
	AppBoolean AppType = "boolean"
	AppEnum    AppType = "enum"
	AppULID    AppType = "ulid"
)

// InsertType governs whether a column must be supplied on insert.
type InsertType string

const (
	Required    InsertType = "required"
	Optional    InsertType = "optional"
	WithDefault InsertType = "withDefault"
	Virtual     InsertType = "virtual"
)

// ColumnMeta is the metadata of one column.
type ColumnMeta struct {
	Name        string
	DBName      string
	StorageType StorageType
	AppType     AppType
	InsertType  InsertType

	NotNull           bool
	PrimaryKey        bool
	Unique            bool
	ForeignKey        string // "table.column"
	GeneratedAlwaysAs string
	Default           any
	AppDefault        func() any
	AppOnUpdate       func() any
	Encode            func(any) (any, error)
	Decode            func(any) (any, error)
	EnumValues        []string
	RenamedFrom       string
}

// ColumnBuilder builds a ColumnMeta via a chainable fluent API.
type ColumnBuilder struct {
	col ColumnMeta
}

// Column begins a column declaration. dbName defaults to
// strcase.ToSnake(name) unless overridden via WithDBName.
func Column(name string, storage StorageType, app AppType) *ColumnBuilder {
	return &ColumnBuilder{col: ColumnMeta{
		Name:        name,
		DBName:      strcase.ToSnake(name),
		StorageType: storage,
		AppType:     app,
		InsertType:  Optional,
	}}
}

// Shorthand constructors mirroring the DSL's table(name, {col: text(), ...}) style.
func TextCol(name string) *ColumnBuilder    { return Column(name, Text, AppNone) }
func IntegerCol(name string) *ColumnBuilder { return Column(name, Integer, AppNone) }
func RealCol(name string) *ColumnBuilder    { return Column(name, Real, AppNone) }
func BlobCol(name string) *ColumnBuilder    { return Column(name, Blob, AppNone) }
func Date(name string) *ColumnBuilder       { return Column(name, Text, AppDate) }
func Boolean(name string) *ColumnBuilder    { return Column(name, Integer, AppBoolean) }
func JSON(name string) *ColumnBuilder       { return Column(name, Text, AppJSON) }
func Enum(name string, values ...string) *ColumnBuilder {
	b := Column(name, Text, AppEnum)
	b.col.EnumValues = values
	if len(values) > 0 {
		v0 := values[0]
		b.col.AppDefault = func() any { return v0 }
	}
	return b
}
func ID(name string) *ColumnBuilder {
	b := Column(name, Text, AppULID)
	b.col.PrimaryKey = true
	b.col.InsertType = WithDefault
	b.col.AppDefault = func() any { return ulid.Make().String() }
	return b
}

func (b *ColumnBuilder) NotNull() *ColumnBuilder    { b.col.NotNull = true; return b }
func (b *ColumnBuilder) PrimaryKey() *ColumnBuilder  { b.col.PrimaryKey = true; return b }
func (b *ColumnBuilder) Unique() *ColumnBuilder      { b.col.Unique = true; return b }
func (b *ColumnBuilder) References(tableDotCol string) *ColumnBuilder {
	b.col.ForeignKey = tableDotCol
	return b
}
func (b *ColumnBuilder) GeneratedAlwaysAs(expr string) *ColumnBuilder {
	b.col.GeneratedAlwaysAs = expr
	b.col.InsertType = Virtual
	return b
}
func (b *ColumnBuilder) Default(v any) *ColumnBuilder {
	b.col.Default = v
	if b.col.InsertType == Optional {
		b.col.InsertType = WithDefault
	}
	return b
}
func (b *ColumnBuilder) AppDefaultFn(fn func() any) *ColumnBuilder {
	b.col.AppDefault = fn
	if b.col.InsertType == Optional {
		b.col.InsertType = WithDefault
	}
	return b
}
func (b *ColumnBuilder) AppOnUpdateFn(fn func() any) *ColumnBuilder {
	b.col.AppOnUpdate = fn
	return b
}
func (b *ColumnBuilder) EncodeFn(fn func(any) (any, error)) *ColumnBuilder {
	b.col.Encode = fn
	return b
}
func (b *ColumnBuilder) DecodeFn(fn func(any) (any, error)) *ColumnBuilder {
	b.col.Decode = fn
	return b
}
func (b *ColumnBuilder) RenamedFrom(prev string) *ColumnBuilder {
	b.col.RenamedFrom = prev
	return b
}
func (b *ColumnBuilder) Required() *ColumnBuilder {
	b.col.InsertType = Required
	return b
}
func (b *ColumnBuilder) WithDBName(dbName string) *ColumnBuilder {
	b.col.DBName = dbName
	return b
}

// Build finalizes the ColumnMeta, applying application-default semantics
// for columns that declare neither an explicit Default nor an AppDefault
// function: "" for text, 0 for numeric, false for boolean, time.Now for
// date, {} for json, the first enum value for enum, a fresh ULID for id.
func (b *ColumnBuilder) Build() ColumnMeta {
	c := b.col
	if c.AppDefault == nil && c.Default == nil {
		switch {
		case c.AppType == AppDate:
			c.AppDefault = func() any { return time.Now() }
		case c.AppType == AppBoolean:
			c.AppDefault = func() any { return false }
		case c.AppType == AppJSON:
			c.AppDefault = func() any { return map[string]any{} }
		case c.StorageType == Text:
			c.AppDefault = func() any { return "" }
		default:
			c.AppDefault = func() any { return 0 }
		}
	}
	return c
}
