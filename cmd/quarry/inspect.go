package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/syssam/quarry/dialect/sql/schema"
)

func inspectCmd() *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the schema of the database as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Destroy(ctx)

			s, err := db.Inspector().GetSchema(ctx)
			if err != nil {
				return err
			}
			var out any = s
			if table != "" {
				t, ok := s.Table(table)
				if !ok {
					return fmt.Errorf("table %q not found", table)
				}
				out = t
			}
			if res := schema.ValidateSchema(s); res.HasErrors() {
				cmd.PrintErrln(res.String())
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVarP(&table, "table", "t", "", "print a single table")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run the pending migrations of the configured directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Destroy(ctx)
			return db.Migrate(ctx)
		},
	}
}
