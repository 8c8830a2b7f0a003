package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ColumnSnapshot is the serializable, data-only projection of a
// ColumnMeta. Functions (Encode/Decode/AppDefault/AppOnUpdate) are not
// serializable and are intentionally omitted -- the snapshot exists to
// diff storage-relevant facts, not behavior.
type ColumnSnapshot struct {
	Name              string   `json:"name"`
	DBName            string   `json:"dbName"`
	StorageType       string   `json:"storageType"`
	AppType           string   `json:"appType"`
	InsertType        string   `json:"insertType"`
	NotNull           bool     `json:"notNull,omitempty"`
	PrimaryKey        bool     `json:"primaryKey,omitempty"`
	Unique            bool     `json:"unique,omitempty"`
	ForeignKey        string   `json:"foreignKey,omitempty"`
	GeneratedAlwaysAs string   `json:"generatedAlwaysAs,omitempty"`
	RenamedFrom       string   `json:"renamedFrom,omitempty"`
	EnumValues        []string `json:"enumValues,omitempty"`
}

// IndexSnapshot is the serializable projection of an IndexMeta.
type IndexSnapshot struct {
	Columns []string `json:"columns"`
	Unique  bool      `json:"unique,omitempty"`
}

// TableSnapshot is the serializable projection of a TableMeta.
type TableSnapshot struct {
	Name        string           `json:"name"`
	DBName      string           `json:"dbName"`
	Columns     []ColumnSnapshot `json:"columns"`
	Indexes     []IndexSnapshot  `json:"indexes,omitempty"`
	Constraints [][]string       `json:"constraints,omitempty"`
	RenamedFrom string           `json:"renamedFrom,omitempty"`
}

// SchemaSnapshot is the ordered, purely-data description of a declared
// schema, produced at DB-open time and compared with any stored previous
// snapshot to derive the DDL to run.
type SchemaSnapshot struct {
	Tables []TableSnapshot `json:"tables"`
}

// Snapshot reduces a Registry to a SchemaSnapshot. Tables are sorted by
// name and each table's columns by name, so the JSON serialization (and
// its hash) is independent of registration and declaration order; DDL
// ordering within a migration is determined separately by the migrator.
func Snapshot(reg *Registry) SchemaSnapshot {
	snap := SchemaSnapshot{}
	for _, t := range reg.Tables() {
		ts := TableSnapshot{
			Name:        t.Name,
			DBName:      t.DBName,
			RenamedFrom: t.RenamedFrom,
		}
		for _, c := range t.OrderedColumns() {
			ts.Columns = append(ts.Columns, ColumnSnapshot{
				Name:              c.Name,
				DBName:            c.DBName,
				StorageType:       string(c.StorageType),
				AppType:           string(c.AppType),
				InsertType:        string(c.InsertType),
				NotNull:           c.NotNull,
				PrimaryKey:        c.PrimaryKey,
				Unique:            c.Unique,
				ForeignKey:        c.ForeignKey,
				GeneratedAlwaysAs: c.GeneratedAlwaysAs,
				RenamedFrom:       c.RenamedFrom,
				EnumValues:        c.EnumValues,
			})
		}
		sort.Slice(ts.Columns, func(i, j int) bool { return ts.Columns[i].Name < ts.Columns[j].Name })
		for _, idx := range t.Indexes {
			ts.Indexes = append(ts.Indexes, IndexSnapshot{Columns: idx.Columns, Unique: idx.Unique})
		}
		ts.Constraints = t.Constraints
		snap.Tables = append(snap.Tables, ts)
	}
	sort.Slice(snap.Tables, func(i, j int) bool { return snap.Tables[i].Name < snap.Tables[j].Name })
	return snap
}

// StableJSON renders the snapshot with object keys in a deterministic
// order. Go's encoding/json already marshals struct fields in declaration
// order (not alphabetically), so canonicalization here additionally sorts
// slices that represent unordered sets (columns, tables) before
// marshaling -- done in Snapshot above -- making the final json.Marshal
// output deterministic across repeated calls.
func (s SchemaSnapshot) StableJSON() ([]byte, error) {
	return json.Marshal(s)
}

// Hash returns the content-address hash of the snapshot's stable JSON
// serialization: a hex-encoded SHA-256 digest. This is the concrete
// realization of the spec's unspecified "128-bit content hash" -- SHA-256
// is used in full (256 bits) rather than truncated, since nothing in the
// spec depends on the hash's bit length, only on its determinism and
// collision resistance.
func (s SchemaSnapshot) Hash() (string, error) {
	b, err := s.StableJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
