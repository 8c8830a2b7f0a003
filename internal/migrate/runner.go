package migrate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/schema"
)

// EnsureMigrationsTable creates the reserved `_migrations` table if
// absent, mirroring the teacher's schema_info key-value table but storing
// a full snapshot row rather than a single integer version.
const migrationsTableDDL = `
CREATE TABLE IF NOT EXISTS _migrations (
	id TEXT PRIMARY KEY,
	snapshot_json TEXT NOT NULL,
	snapshot_hash TEXT NOT NULL
);`

// LoadPrevious reads the stored previous snapshot from `_migrations`, if
// any. Returns the zero SchemaSnapshot and ok=false for a fresh database.
func LoadPrevious(ctx context.Context, d driver.Driver) (schema.SchemaSnapshot, bool, error) {
	if err := d.Exec(ctx, migrationsTableDDL); err != nil {
		return schema.SchemaSnapshot{}, false, fmt.Errorf("migrate: ensure _migrations table: %w", err)
	}
	rows, err := d.Run(ctx, selectSnapshotSQL())
	if err != nil {
		return schema.SchemaSnapshot{}, false, fmt.Errorf("migrate: load previous snapshot: %w", err)
	}
	if len(rows) == 0 {
		return schema.SchemaSnapshot{}, false, nil
	}
	raw, _ := rows[0]["snapshot_json"].(string)
	var snap schema.SchemaSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return schema.SchemaSnapshot{}, false, fmt.Errorf("migrate: decode stored snapshot: %w", err)
	}
	return snap, true, nil
}

// Apply runs Diff(prev, next) and, if it produces any DDL, executes it
// plus the new-snapshot write in a single transaction, so a crash never
// leaves DDL applied without its matching `_migrations` row (or vice
// versa). No DDL means no write, exactly as the spec requires.
func Apply(ctx context.Context, d driver.Driver, prev, next schema.SchemaSnapshot) ([]DDLStatement, error) {
	stmts, err := Diff(prev, next)
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, nil
	}

	tx, err := d.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: begin tx: %w", err)
	}

	for _, stmt := range stmts {
		if _, err := tx.Run(ctx, rawDDL(stmt.SQL)); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("migrate: apply %s (%s): %w", stmt.Phase, stmt.SQL, err)
		}
	}

	hash, err := next.Hash()
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("migrate: hash snapshot: %w", err)
	}
	snapJSON, err := next.StableJSON()
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("migrate: marshal snapshot: %w", err)
	}

	if _, err := tx.Run(ctx, upsertSnapshotSQL(string(snapJSON), hash)); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("migrate: write snapshot row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("migrate: commit: %w", err)
	}
	return stmts, nil
}
