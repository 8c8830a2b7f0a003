package main

import (
	"context"
	"fmt"
	"os"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/ormconfig"
)

// resolveDBPath honors --db first, falling back to the same client
// config ormsync's embedding host reads (ORMSYNC_DB_PATH / the saved
// config file), exactly as ormconfig.LoadClientConfig resolves it.
func resolveDBPath() string {
	if dbPathFlag != "" {
		return dbPathFlag
	}
	return ormconfig.LoadClientConfig().DBPath
}

func openDB(ctx context.Context) (*driver.SQLiteDriver, error) {
	path := resolveDBPath()
	if path == "" {
		return nil, fmt.Errorf("no database path: pass --db or set ORMSYNC_DB_PATH")
	}
	return driver.Open(ctx, path)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
