// cmd/sql-assistant/schema.go
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"sql-assistant/internal/schema"
)

func schemaCmd(cfgPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema context the generator would see",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := bootstrap(ctx, *cfgPath, "sql-assistant-cli")
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := schema.New(a.db.DB, a.db.Driver(), a.cfg.Schema, a.schemaCache(), a.log).DescribeSchema(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sc)
			}
			fmt.Fprintf(out, "-- dialect: %s, %d tables\n", sc.Dialect, len(sc.Tables))
			fmt.Fprintln(out, sc.Description)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
