package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/ormsync/internal/migrate"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect a local database's stored schema snapshot",
}

var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the schema snapshot currently recorded in _migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		snap, ok, err := migrate.LoadPrevious(ctx, d)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("no schema snapshot recorded yet (fresh database)")
			return nil
		}
		hash, err := snap.Hash()
		if err != nil {
			return err
		}
		fmt.Printf("snapshot hash: %s\n", hash)
		for _, t := range snap.Tables {
			fmt.Printf("\ntable %s (db: %s)\n", t.Name, t.DBName)
			for _, c := range t.Columns {
				flags := ""
				if c.PrimaryKey {
					flags += " pk"
				}
				if c.NotNull {
					flags += " notnull"
				}
				if c.Unique {
					flags += " unique"
				}
				fmt.Printf("  %-20s %-10s -> %-10s%s\n", c.Name, c.AppType, c.StorageType, flags)
			}
		}
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaShowCmd)
	rootCmd.AddCommand(schemaCmd)
}
