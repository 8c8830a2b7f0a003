package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/ormsync/internal/driver"
	"github.com/marcus/ormsync/internal/mutationlog"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local mutation queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		q := &mutationlog.Queue{Driver: d}
		if err := q.EnsureSchema(ctx); err != nil {
			return err
		}

		rows, err := d.Run(ctx, driver.RawSQL{
			Query: "SELECT status, count(*) AS n FROM _db_mutations_queue GROUP BY status",
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("mutation queue is empty")
			return nil
		}
		printRows(rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
