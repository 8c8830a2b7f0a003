// Command ormctl is a local admin CLI for an ormsync-backed SQLite
// database: ad-hoc SQL, mutation-queue inspection, and manual
// push/pull against a sync server, for use outside whatever host
// application embeds the ORM. Grounded on the teacher's cmd/root.go
// cobra setup, trimmed of the td-specific analytics/workdir/session
// machinery this module has no equivalent of.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dbPathFlag string

var rootCmd = &cobra.Command{
	Use:   "ormctl",
	Short: "Admin CLI for an ormsync database",
	Long:  `ormctl inspects and operates on a local ormsync SQLite database: run ad-hoc SQL, inspect the pending mutation queue, and manually push or pull against a sync server.`,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "path to the local SQLite database (default: $ORMSYNC_DB_PATH)")
}

func main() {
	Execute()
}
