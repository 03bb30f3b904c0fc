package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/truth-cli/internal/config"
	"github.com/sells-group/truth-cli/internal/model"
)

var columnsOutput string

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "List truth-table columns, fixed and dynamic",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runColumns(cmd.Context(), cmd.OutOrStdout(), cfg, columnsOutput)
	},
}

func runColumns(ctx context.Context, out io.Writer, c *config.Config, output string) error {
	st, err := openStore(ctx, c, "read")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	cols, err := st.ListColumns(ctx)
	if err != nil {
		return eris.Wrap(err, "list columns")
	}
	if output != outputTable {
		return writeValue(out, output, map[string][]string{"columns": cols})
	}
	for _, col := range cols {
		kind := "dynamic"
		if model.IsFixedColumn(col) {
			kind = "fixed"
		}
		_, _ = fmt.Fprintf(out, "%-8s %s\n", kind, col)
	}
	return nil
}

func init() {
	columnsCmd.Flags().StringVarP(&columnsOutput, "output", "o", outputTable, "output format: table, json or yaml")
	rootCmd.AddCommand(columnsCmd)
}
