package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/truth-cli/internal/config"
	"github.com/sells-group/truth-cli/internal/export"
	"github.com/sells-group/truth-cli/internal/ingest"
	"github.com/sells-group/truth-cli/internal/pii"
	"github.com/sells-group/truth-cli/internal/store"
)

var (
	recordsLimit   int
	recordsOffset  int
	recordsFilters []string
	recordsOutput  string
	exportOut      string
	exportFilters  []string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Query the truth table",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records, optionally filtered by column substring",
	RunE: func(cmd *cobra.Command, _ []string) error {
		filters, err := parseFilters(recordsFilters)
		if err != nil {
			return err
		}
		return runRecordsList(cmd.Context(), cmd.OutOrStdout(), cfg, store.SearchQuery{
			Filters: filters,
			Limit:   recordsLimit,
			Offset:  recordsOffset,
		}, recordsOutput)
	},
}

var recordsGetCmd = &cobra.Command{
	Use:   "get <email>",
	Short: "Show one record by email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecordsGet(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], recordsOutput)
	},
}

var recordsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRecordsStats(cmd.Context(), cmd.OutOrStdout(), cfg, recordsOutput)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the truth table to an .xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		filters, err := parseFilters(exportFilters)
		if err != nil {
			return err
		}
		return runExport(cmd.Context(), cmd.OutOrStdout(), cfg, exportOut, filters, time.Now())
	},
}

func runRecordsList(ctx context.Context, out io.Writer, c *config.Config, q store.SearchQuery, output string) error {
	st, err := openStore(ctx, c, "read")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	recs, total, err := st.Search(ctx, q)
	if err != nil {
		return eris.Wrap(err, "search records")
	}
	if output != outputTable {
		rows := make([]map[string]string, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, r.Columns())
		}
		return writeValue(out, output, map[string]any{"records": rows, "total": total})
	}
	formatRecords(out, recs, total)
	return nil
}

func runRecordsGet(ctx context.Context, out io.Writer, c *config.Config, rawEmail, output string) error {
	email := ingest.NormalizeEmail(rawEmail)
	if email == "" {
		return eris.Errorf("%q is not a valid email", rawEmail)
	}

	st, err := openStore(ctx, c, "read")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	rec, err := st.FindByEmail(ctx, email)
	if err != nil {
		return eris.Wrap(err, "find record")
	}
	if rec == nil {
		zap.L().Debug("record not found", pii.EmailField("email", email))
		return eris.New("record not found")
	}
	if output != outputTable {
		return writeValue(out, output, rec.Columns())
	}
	formatRecord(out, rec)
	return nil
}

func runRecordsStats(ctx context.Context, out io.Writer, c *config.Config, output string) error {
	st, err := openStore(ctx, c, "read")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	stats, err := st.Stats(ctx)
	if err != nil {
		return eris.Wrap(err, "load stats")
	}
	if output != outputTable {
		return writeValue(out, output, stats)
	}
	formatStats(out, stats)
	return nil
}

// runExport writes the workbook to path, or to a timestamped file in the
// current directory when path is empty.
func runExport(ctx context.Context, out io.Writer, c *config.Config, path string, filters map[string]string, now time.Time) error {
	st, err := openStore(ctx, c, "read")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if path == "" {
		path = export.FileName(now)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".truth-export-*")
	if err != nil {
		return eris.Wrap(err, "create export file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := export.XLSX(ctx, st, tmp, filters)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return eris.Wrap(err, "export")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrap(err, "save export")
	}

	_, _ = fmt.Fprintf(out, "exported %d records to %s\n", n, path)
	return nil
}

// parseFilters turns repeated column=value flags into a filter map.
func parseFilters(raw []string) (map[string]string, error) {
	filters := make(map[string]string, len(raw))
	for _, f := range raw {
		col, val, ok := strings.Cut(f, "=")
		col = strings.TrimSpace(col)
		if !ok || col == "" {
			return nil, eris.Errorf("invalid filter %q (expected column=value)", f)
		}
		if val = strings.TrimSpace(val); val != "" {
			filters[col] = val
		}
	}
	return filters, nil
}

func init() {
	recordsListCmd.Flags().IntVar(&recordsLimit, "limit", 50, "maximum records to return")
	recordsListCmd.Flags().IntVar(&recordsOffset, "offset", 0, "records to skip")
	recordsListCmd.Flags().StringArrayVar(&recordsFilters, "filter", nil, "column=value substring filter (repeatable)")
	recordsCmd.PersistentFlags().StringVarP(&recordsOutput, "output", "o", outputTable, "output format: table, json or yaml")

	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default truth_export_<timestamp>.xlsx)")
	exportCmd.Flags().StringArrayVar(&exportFilters, "filter", nil, "column=value substring filter (repeatable)")

	recordsCmd.AddCommand(recordsListCmd, recordsGetCmd, recordsStatsCmd)
	rootCmd.AddCommand(recordsCmd, exportCmd)
}
