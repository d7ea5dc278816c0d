// cmd/sql-assistant/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "sql-assistant",
		Short:         "Answer natural-language questions from a SQL database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./configs/config.yaml)")

	root.AddCommand(
		serveCmd(&cfgPath),
		askCmd(&cfgPath),
		workerCmd(&cfgPath),
		schemaCmd(&cfgPath),
	)
	return root
}
