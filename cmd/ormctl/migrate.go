package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/ormsync/internal/migrate"
	"github.com/marcus/ormsync/internal/schema"
)

var migrateSchemaFileFlag string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Plan or apply schema migrations against a local database",
}

// loadNextSnapshot reads the target SchemaSnapshot from --schema, the
// JSON a host application writes via schema.Snapshot(reg).StableJSON()
// at build time -- ormctl has no compiled-in table registry of its own,
// so the declared-schema side of the diff always comes from a file.
func loadNextSnapshot() (schema.SchemaSnapshot, error) {
	if migrateSchemaFileFlag == "" {
		return schema.SchemaSnapshot{}, fmt.Errorf("--schema is required (path to a schema.SchemaSnapshot JSON file)")
	}
	data, err := os.ReadFile(migrateSchemaFileFlag)
	if err != nil {
		return schema.SchemaSnapshot{}, fmt.Errorf("read schema file: %w", err)
	}
	var snap schema.SchemaSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return schema.SchemaSnapshot{}, fmt.Errorf("decode schema file: %w", err)
	}
	return snap, nil
}

var migratePlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the DDL a migration to --schema would run, without applying it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		next, err := loadNextSnapshot()
		if err != nil {
			return err
		}
		prev, _, err := migrate.LoadPrevious(ctx, d)
		if err != nil {
			return err
		}
		stmts, err := migrate.Diff(prev, next)
		if err != nil {
			return err
		}
		if len(stmts) == 0 {
			fmt.Println("no changes")
			return nil
		}
		for _, s := range stmts {
			fmt.Printf("-- %s\n%s\n", s.Phase, s.SQL)
		}
		return nil
	},
}

var migrateApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Diff --schema against the stored snapshot and apply the resulting DDL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		next, err := loadNextSnapshot()
		if err != nil {
			return err
		}
		prev, _, err := migrate.LoadPrevious(ctx, d)
		if err != nil {
			return err
		}
		stmts, err := migrate.Apply(ctx, d, prev, next)
		if err != nil {
			return err
		}
		if len(stmts) == 0 {
			fmt.Println("no changes")
			return nil
		}
		fmt.Printf("applied %d statement(s):\n", len(stmts))
		for _, s := range stmts {
			fmt.Printf("-- %s\n%s\n", s.Phase, s.SQL)
		}
		return nil
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateSchemaFileFlag, "schema", "", "path to a schema.SchemaSnapshot JSON file describing the target schema")
	migrateCmd.AddCommand(migratePlanCmd, migrateApplyCmd)
	rootCmd.AddCommand(migrateCmd)
}
