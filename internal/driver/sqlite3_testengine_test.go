package driver

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// openMattnTestEngine opens the same pragma set over the cgo
// mattn/go-sqlite3 engine instead of modernc.org/sqlite, used only by
// the parity test in driver_test.go to confirm both backends decode rows and classify
// SELECT-vs-write identically. Not used by any production code path --
// modernc.org/sqlite (pure Go, no cgo) is the only engine ormsyncd and
// embedding clients depend on.
func openMattnTestEngine(ctx context.Context, path string) (*SQLiteDriver, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("driver: open mattn test engine %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("driver: apply %q: %w", p, err)
		}
	}
	return &SQLiteDriver{db: db}, nil
}
