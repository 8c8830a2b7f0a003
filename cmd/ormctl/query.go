package main

import (
	"context"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/marcus/ormsync/internal/driver"
)

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run ad-hoc SQL against the local database",
	Long: `Run a single SQL statement against the local database and print the
result as a table.

Examples:
  ormctl query "SELECT id, name FROM widgets WHERE deleted_at IS NULL"
  ormctl query "SELECT count(*) AS n FROM _db_mutations_queue WHERE status = 'pending'"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		rows, err := d.Run(ctx, driver.RawSQL{Query: args[0]})
		if err != nil {
			return err
		}
		printRows(rows)
		return nil
	},
}

// printRows renders query results as a table, columns sorted
// alphabetically so output is stable across SQLite driver versions that
// may return map keys in different iteration orders.
func printRows(rows []driver.Row) {
	if len(rows) == 0 {
		return
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)

	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	t.AppendHeader(header)

	for _, r := range rows {
		row := make(table.Row, len(cols))
		for i, c := range cols {
			row[i] = r[c]
		}
		t.AppendRow(row)
	}
	t.Render()
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
