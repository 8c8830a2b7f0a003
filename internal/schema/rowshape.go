package schema

import (
	"fmt"
	"reflect"
	"sync"
)

// Selectable, Insertable, and Updatable are the row-shape markers a
// user-declared Go struct embeds (or simply aliases, since Go lacks
// TypeScript's conditional mapped types) to signal which derived shape it
// represents. The actual field-presence rules (required vs optional vs
// virtual) are enforced by reflecting over struct tags at registration
// time, not by distinct Go types -- a concrete resolution of an Open
// Question about how to realize TypeScript's compile-time row-shape
// derivation without code generation.
type Selectable[T any] struct{ Row T }
type Insertable[T any] struct{ Row T }
type Updatable[T any] struct{ Row T }

// fieldMeta caches the reflected shape of a user row struct.
type fieldMeta struct {
	structField reflect.StructField
	column      string // struct tag `db:"column"`
}

var rowTypeCache sync.Map // reflect.Type -> []fieldMeta

// fieldsOf reflects over T once and caches the `db`-tagged struct fields.
func fieldsOf(t reflect.Type) []fieldMeta {
	if cached, ok := rowTypeCache.Load(t); ok {
		return cached.([]fieldMeta)
	}
	var fields []fieldMeta
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		fields = append(fields, fieldMeta{structField: sf, column: tag})
	}
	rowTypeCache.Store(t, fields)
	return fields
}

// ToRow converts a user struct value to a Row (column name -> value) using
// its `db` struct tags, skipping fields whose column is marked virtual in
// the supplied TableMeta (virtual columns are generated and never
// written).
func ToRow(table *TableMeta, v any) (map[string]any, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: ToRow requires a struct, got %s", rv.Kind())
	}
	out := make(map[string]any)
	for _, f := range fieldsOf(rv.Type()) {
		col := table.Column(f.column)
		if col != nil && col.InsertType == Virtual {
			continue
		}
		fv := rv.FieldByIndex(f.structField.Index)
		if !fv.IsValid() {
			continue
		}
		out[f.column] = fv.Interface()
	}
	return out, nil
}

// FromRow populates a pointer to a user struct from a decoded Row,
// applying each column's Decode function when set.
func FromRow(table *TableMeta, row map[string]any, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("schema: FromRow requires a pointer to struct")
	}
	elem := rv.Elem()
	for _, f := range fieldsOf(elem.Type()) {
		raw, ok := row[f.column]
		if !ok {
			continue
		}
		if col := table.Column(f.column); col != nil && col.Decode != nil && raw != nil {
			decoded, err := col.Decode(raw)
			if err != nil {
				return fmt.Errorf("schema: decode column %s: %w", f.column, err)
			}
			raw = decoded
		}
		fv := elem.FieldByIndex(f.structField.Index)
		if raw == nil || !fv.CanSet() {
			continue
		}
		assign(fv, raw)
	}
	return nil
}

// assign sets fv to raw, converting when the underlying kinds differ but
// are assignment-compatible (e.g. int64 from the driver into an int
// field), leaving fv untouched if the values are fundamentally
// incompatible (a driver bug, not a normal runtime case).
func assign(fv reflect.Value, raw any) {
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(fv.Type()) {
		fv.Set(rv)
		return
	}
	if rv.Type().ConvertibleTo(fv.Type()) {
		fv.Set(rv.Convert(fv.Type()))
	}
}

// MissingRequiredColumns returns the application column names whose
// InsertType is Required but are absent (nil or zero-value-unset) from
// row, in TableMeta column order.
func MissingRequiredColumns(table *TableMeta, row map[string]any) []string {
	var missing []string
	for _, c := range table.OrderedColumns() {
		if c.InsertType != Required {
			continue
		}
		v, ok := row[c.Name]
		if !ok || v == nil {
			missing = append(missing, c.Name)
		}
	}
	return missing
}

// ApplyInsertDefaults fills in AppDefault-produced values for any
// optional/withDefault column missing from row, mutating row in place.
func ApplyInsertDefaults(table *TableMeta, row map[string]any) {
	for _, c := range table.OrderedColumns() {
		if c.InsertType == Virtual || c.InsertType == Required {
			continue
		}
		if _, ok := row[c.Name]; ok {
			continue
		}
		if c.AppDefault != nil {
			row[c.Name] = c.AppDefault()
		} else if c.Default != nil {
			row[c.Name] = c.Default
		}
	}
}

// ApplyUpdateHooks invokes every column's AppOnUpdate function and
// overwrites row with its result, mutating row in place.
func ApplyUpdateHooks(table *TableMeta, row map[string]any) {
	for _, c := range table.OrderedColumns() {
		if c.AppOnUpdate != nil {
			row[c.Name] = c.AppOnUpdate()
		}
	}
}

// EncodeRow applies each column's Encode function to its value in row,
// returning a new map with storage-ready values keyed by DBName.
func EncodeRow(table *TableMeta, row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(row))
	for name, v := range row {
		col := table.Column(name)
		if col == nil {
			out[name] = v
			continue
		}
		if col.Encode != nil && v != nil {
			encoded, err := col.Encode(v)
			if err != nil {
				return nil, fmt.Errorf("schema: encode column %s: %w", name, err)
			}
			v = encoded
		}
		out[col.DBName] = v
	}
	return out, nil
}
