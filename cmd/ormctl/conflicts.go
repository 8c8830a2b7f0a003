package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/ormsync/internal/driver"
)

var conflictsTableFlag string

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect server-side conflict-resolution bookkeeping",
	Long: `Reads the server_column_timestamps/server_row_deletions/
server_row_batches tables directly -- point --db at a sync server's
per-database SQLite file (internal/syncserver.DBPool stores one at
<data-dir>/<db-name>/sync.db), not a client database.`,
}

var conflictsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print per-row column timestamps, deletions, and last-applied batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		sections := []struct {
			title string
			query string
		}{
			{"column timestamps", "SELECT table_name, row_pk, column_name, server_timestamp_ms FROM server_column_timestamps"},
			{"row deletions", "SELECT table_name, row_pk, server_timestamp_ms FROM server_row_deletions"},
			{"last applied batches", "SELECT table_name, row_pk, batch_id FROM server_row_batches"},
		}
		if conflictsTableFlag != "" {
			for i := range sections {
				sections[i].query += " WHERE table_name = ?"
			}
		}

		for _, sec := range sections {
			var rows []driver.Row
			var err error
			if conflictsTableFlag != "" {
				rows, err = d.Run(ctx, driver.RawSQL{Query: sec.query, Params: []any{conflictsTableFlag}})
			} else {
				rows, err = d.Run(ctx, driver.RawSQL{Query: sec.query})
			}
			if err != nil {
				return fmt.Errorf("query %s: %w", sec.title, err)
			}
			fmt.Printf("\n%s:\n", sec.title)
			if len(rows) == 0 {
				fmt.Println("  (none)")
				continue
			}
			printRows(rows)
		}
		return nil
	},
}

func init() {
	conflictsShowCmd.Flags().StringVar(&conflictsTableFlag, "table", "", "restrict output to one table name")
	conflictsCmd.AddCommand(conflictsShowCmd)
	rootCmd.AddCommand(conflictsCmd)
}
