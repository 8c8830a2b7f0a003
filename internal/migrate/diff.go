// Package migrate implements snapshot-based schema diffing: two
// SchemaSnapshots in, an ordered list of forward-only DDL statements out,
// or a typed error when the diff would require a disallowed (lossy or
// ambiguous) change. Grounded on the teacher's internal/db/schema.go
// versioned-migration list and internal/db/migrations.go's
// column/table-existence probing, generalized from a fixed migration list
// to structural diffing of two declared schemas.
package migrate

import (
	"fmt"

	"github.com/marcus/ormsync/internal/ormerrors"
	"github.com/marcus/ormsync/internal/schema"
)

// DDLStatement is one emitted statement, tagged with the phase it belongs
// to so callers can inspect or log the plan before executing it.
type DDLStatement struct {
	Phase string
	SQL   string
}

const (
	phaseDropIndexes   = "drop-indexes"
	phaseDropColumns   = "drop-columns"
	phaseDropTables    = "drop-tables"
	phaseRenameTables  = "rename-tables"
	phaseRenameColumns = "rename-columns"
	phaseCreateTables  = "create-tables"
	phaseAddColumns    = "add-columns"
	phaseCreateIndexes = "create-indexes"
)

// phaseOrder fixes the emission order required by the spec: indexes
// depend on columns, columns depend on tables; renames must precede adds
// so a new column/table with a formerly-used name doesn't collide.
var phaseOrder = []string{
	phaseDropIndexes, phaseDropColumns, phaseDropTables,
	phaseRenameTables, phaseRenameColumns,
	phaseCreateTables, phaseAddColumns, phaseCreateIndexes,
}

// Diff compares prev (the stored previous snapshot, possibly the zero
// value for a fresh database) against next (the snapshot of the
// currently-declared schema) and returns the DDL needed to bring a
// database at prev up to next, or a *ormerrors.SchemaMigrationError if the
// change is disallowed.
func Diff(prev, next schema.SchemaSnapshot) ([]DDLStatement, error) {
	byPhase := map[string][]string{}

	prevByDBName := indexByDBName(prev.Tables)
	nextByDBName := indexByDBName(next.Tables)

	renamedTo := map[string]schema.TableSnapshot{} // prevDBName -> next table
	for _, nt := range next.Tables {
		if nt.RenamedFrom != "" {
			pt, ok := prevByDBName[nt.RenamedFrom]
			if !ok {
				return nil, &ormerrors.SchemaMigrationError{
					Table: nt.Name, Sub: ormerrors.ErrAmbiguousRename,
					Detail: fmt.Sprintf("renamedFrom %q does not match any previous table", nt.RenamedFrom),
				}
			}
			renamedTo[pt.DBName] = nt
		}
	}

	// Tables: new, dropped, renamed.
	for _, nt := range next.Tables {
		if nt.RenamedFrom != "" {
			continue // handled via rename, not create
		}
		if _, existed := prevByDBName[nt.DBName]; !existed {
			byPhase[phaseCreateTables] = append(byPhase[phaseCreateTables], createTableSQL(nt))
			for _, idx := range nt.Indexes {
				byPhase[phaseCreateIndexes] = append(byPhase[phaseCreateIndexes], createIndexSQL(nt, idx))
			}
		}
	}
	for _, pt := range prev.Tables {
		if _, renamed := renamedTo[pt.DBName]; renamed {
			nt := renamedTo[pt.DBName]
			byPhase[phaseRenameTables] = append(byPhase[phaseRenameTables],
				fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", pt.DBName, nt.DBName))
			continue
		}
		if _, stillExists := nextByDBName[pt.DBName]; !stillExists {
			for _, idx := range pt.Indexes {
				byPhase[phaseDropIndexes] = append(byPhase[phaseDropIndexes], dropIndexSQL(pt, idx))
			}
			byPhase[phaseDropTables] = append(byPhase[phaseDropTables], fmt.Sprintf("DROP TABLE %s;", pt.DBName))
		}
	}

	// Columns within tables that survive (including just-renamed tables).
	for _, nt := range next.Tables {
		var pt schema.TableSnapshot
		var ptOK bool
		if nt.RenamedFrom != "" {
			pt, ptOK = prevByDBName[nt.RenamedFrom]
		} else {
			pt, ptOK = prevByDBName[nt.DBName]
		}
		if !ptOK {
			continue // brand new table, columns already included in CREATE TABLE
		}
		if err := diffColumns(pt, nt, byPhase); err != nil {
			return nil, err
		}
		if err := diffIndexes(pt, nt, byPhase); err != nil {
			return nil, err
		}
	}

	var out []DDLStatement
	for _, phase := range phaseOrder {
		for _, stmt := range byPhase[phase] {
			out = append(out, DDLStatement{Phase: phase, SQL: stmt})
		}
	}
	return out, nil
}

func indexByDBName(tables []schema.TableSnapshot) map[string]schema.TableSnapshot {
	m := make(map[string]schema.TableSnapshot, len(tables))
	for _, t := range tables {
		m[t.DBName] = t
	}
	return m
}

func diffColumns(pt, nt schema.TableSnapshot, byPhase map[string][]string) error {
	prevCols := map[string]schema.ColumnSnapshot{}
	for _, c := range pt.Columns {
		prevCols[c.DBName] = c
	}
	nextCols := map[string]schema.ColumnSnapshot{}
	for _, c := range nt.Columns {
		nextCols[c.DBName] = c
	}

	renamedColTo := map[string]schema.ColumnSnapshot{}
	for _, nc := range nt.Columns {
		if nc.RenamedFrom == "" {
			continue
		}
		pc, ok := prevCols[nc.RenamedFrom]
		if !ok {
			return &ormerrors.SchemaMigrationError{
				Table: nt.Name, Column: nc.Name, Sub: ormerrors.ErrAmbiguousRename,
				Detail: fmt.Sprintf("renamedFrom %q does not match any previous column", nc.RenamedFrom),
			}
		}
		if pc.GeneratedAlwaysAs != "" || nc.GeneratedAlwaysAs != "" {
			return &ormerrors.SchemaMigrationError{
				Table: nt.Name, Column: nc.Name, Sub: ormerrors.ErrColumnMutationNotSupported,
				Detail: "cannot rename a generated column; behavior of RENAME COLUMN on generated columns is back-end-specific",
			}
		}
		renamedColTo[pc.DBName] = nc
	}

	for _, nc := range nt.Columns {
		if nc.RenamedFrom != "" {
			continue
		}
		pc, existed := prevCols[nc.DBName]
		if !existed {
			byPhase[phaseAddColumns] = append(byPhase[phaseAddColumns], addColumnSQL(nt, nc))
			continue
		}
		if err := assertNoDisallowedChange(nt, pc, nc); err != nil {
			return err
		}
	}

	for _, pc := range pt.Columns {
		if nc, renamed := renamedColTo[pc.DBName]; renamed {
			if err := assertNoDisallowedChange(nt, pc, nc); err != nil {
				return err
			}
			byPhase[phaseRenameColumns] = append(byPhase[phaseRenameColumns],
				fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", nt.DBName, pc.DBName, nc.DBName))
			continue
		}
		if _, stillExists := nextCols[pc.DBName]; !stillExists {
			byPhase[phaseDropColumns] = append(byPhase[phaseDropColumns],
				fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", nt.DBName, pc.DBName))
		}
	}

	return nil
}

// assertNoDisallowedChange rejects a storage/app type change or a
// constraint change on a column that exists in both snapshots.
func assertNoDisallowedChange(nt schema.TableSnapshot, pc, nc schema.ColumnSnapshot) error {
	if pc.StorageType != nc.StorageType || pc.AppType != nc.AppType {
		return &ormerrors.SchemaMigrationError{
			Table: nt.Name, Column: nc.Name, Sub: ormerrors.ErrColumnMutationNotSupported,
			Detail: fmt.Sprintf("storage/app type changed (%s/%s -> %s/%s)", pc.StorageType, pc.AppType, nc.StorageType, nc.AppType),
		}
	}
	if pc.PrimaryKey != nc.PrimaryKey || pc.Unique != nc.Unique {
		return &ormerrors.SchemaMigrationError{
			Table: nt.Name, Column: nc.Name, Sub: ormerrors.ErrConstraintChange,
			Detail: "primaryKey/unique constraint changed after table creation",
		}
	}
	return nil
}

func diffIndexes(pt, nt schema.TableSnapshot, byPhase map[string][]string) error {
	prevSet := map[string]schema.IndexSnapshot{}
	for _, idx := range pt.Indexes {
		prevSet[indexKey(idx)] = idx
	}
	nextSet := map[string]schema.IndexSnapshot{}
	for _, idx := range nt.Indexes {
		nextSet[indexKey(idx)] = idx
	}
	for key, idx := range nextSet {
		if _, existed := prevSet[key]; !existed {
			byPhase[phaseCreateIndexes] = append(byPhase[phaseCreateIndexes], createIndexSQL(nt, idx))
		}
	}
	for key, idx := range prevSet {
		if _, stillExists := nextSet[key]; !stillExists {
			byPhase[phaseDropIndexes] = append(byPhase[phaseDropIndexes], dropIndexSQL(pt, idx))
		}
	}
	return nil
}

func indexKey(idx schema.IndexSnapshot) string {
	key := fmt.Sprintf("%v|%v", idx.Columns, idx.Unique)
	return key
}

func createTableSQL(t schema.TableSnapshot) string {
	sql := fmt.Sprintf("CREATE TABLE %s (\n", t.DBName)
	for i, c := range t.Columns {
		if i > 0 {
			sql += ",\n"
		}
		sql += "  " + columnDefSQL(c)
	}
	for _, constraint := range t.Constraints {
		sql += fmt.Sprintf(",\n  %s", constraintSQL(constraint))
	}
	sql += "\n);"
	return sql
}

func columnDefSQL(c schema.ColumnSnapshot) string {
	def := fmt.Sprintf("%s %s", c.DBName, sqlStorageType(c.StorageType))
	if c.GeneratedAlwaysAs != "" {
		def += fmt.Sprintf(" GENERATED ALWAYS AS (%s) STORED", c.GeneratedAlwaysAs)
		return def
	}
	if c.PrimaryKey {
		def += " PRIMARY KEY"
	}
	if c.NotNull {
		def += " NOT NULL"
	}
	if c.Unique {
		def += " UNIQUE"
	}
	if c.ForeignKey != "" {
		def += fmt.Sprintf(" REFERENCES %s", foreignKeySQL(c.ForeignKey))
	}
	return def
}

func foreignKeySQL(fk string) string {
	// fk is "table.column"; render as "table(column)".
	for i := len(fk) - 1; i >= 0; i-- {
		if fk[i] == '.' {
			return fk[:i] + "(" + fk[i+1:] + ")"
		}
	}
	return fk
}

func constraintSQL(constraint []string) string {
	kind, cols := constraint[0], constraint[1:]
	switch kind {
	case "primaryKey":
		return fmt.Sprintf("PRIMARY KEY (%s)", joinCols(cols))
	case "unique":
		return fmt.Sprintf("UNIQUE (%s)", joinCols(cols))
	default:
		return fmt.Sprintf("CHECK (1=1) /* unknown constraint kind %q */", kind)
	}
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func sqlStorageType(s string) string {
	switch schema.StorageType(s) {
	case schema.Integer:
		return "INTEGER"
	case schema.Real:
		return "REAL"
	case schema.Blob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func addColumnSQL(t schema.TableSnapshot, c schema.ColumnSnapshot) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", t.DBName, columnDefSQL(c))
}

func createIndexSQL(t schema.TableSnapshot, idx schema.IndexSnapshot) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	name := fmt.Sprintf("idx_%s_%s", t.DBName, joinColsUnderscore(idx.Columns))
	return fmt.Sprintf("CREATE %s %s ON %s (%s);", kind, name, t.DBName, joinCols(idx.Columns))
}

func dropIndexSQL(t schema.TableSnapshot, idx schema.IndexSnapshot) string {
	name := fmt.Sprintf("idx_%s_%s", t.DBName, joinColsUnderscore(idx.Columns))
	return fmt.Sprintf("DROP INDEX IF EXISTS %s;", name)
}

func joinColsUnderscore(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += "_"
		}
		out += c
	}
	return out
}
