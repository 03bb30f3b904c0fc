package main

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/truth-cli/internal/config"
	"github.com/sells-group/truth-cli/internal/pipeline"
)

var (
	importEnrichPeople    bool
	importEnrichCompanies bool
	importLeadSource      string
	importOutput          string
)

var importCmd = &cobra.Command{
	Use:   "import <file-or-url>",
	Short: "Import a contact spreadsheet (.xlsx or .csv) into the truth table",
	Long:  "Reads a local file or an http(s)/ftp URL, maps its headers onto the truth-table columns, optionally enriches rows through Apollo, and upserts them by email.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := importInput{
			Source:     args[0],
			LeadSource: importLeadSource,
			Output:     importOutput,
		}
		if cmd.Flags().Changed("enrich-people") {
			in.EnrichPeople = &importEnrichPeople
		}
		if cmd.Flags().Changed("enrich-companies") {
			in.EnrichCompanies = &importEnrichCompanies
		}
		return runImport(cmd.Context(), cmd.OutOrStdout(), cfg, in)
	},
}

type importInput struct {
	Source          string
	LeadSource      string
	Output          string
	EnrichPeople    *bool
	EnrichCompanies *bool
}

func runImport(ctx context.Context, out io.Writer, c *config.Config, in importInput) error {
	env, err := initApp(ctx, c, "import")
	if err != nil {
		return err
	}
	defer env.Close()

	sheet, err := env.Reader.ReadSpreadsheet(ctx, in.Source)
	if err != nil {
		return eris.Wrap(err, "read spreadsheet")
	}
	zap.L().Info("spreadsheet loaded",
		zap.String("source", in.Source),
		zap.Int("columns", len(sheet.Headers)),
		zap.Int("rows", len(sheet.Rows)),
	)

	leadSource := strings.TrimSpace(in.LeadSource)
	if leadSource == "" {
		leadSource = c.Ingest.LeadSource
	}

	res, err := env.Pipeline.Run(ctx, pipeline.Input{
		Headers:    sheet.Headers,
		Rows:       sheet.Rows,
		LeadSource: leadSource,
		Enrich:     enrichOptions(c, in.EnrichPeople, in.EnrichCompanies),
		Source:     sheet.Name,
		Warnings:   sheet.Warnings,
	})
	if res != nil {
		if werr := writeBatch(out, in.Output, res); werr != nil {
			return werr
		}
	}
	if err != nil {
		return eris.Wrap(err, "import")
	}
	if res.Failed > 0 {
		zap.L().Warn("import finished with failures", zap.Int("failed", res.Failed))
	}
	return nil
}

func init() {
	importCmd.Flags().BoolVar(&importEnrichPeople, "enrich-people", false, "enrich people through Apollo (default from config)")
	importCmd.Flags().BoolVar(&importEnrichCompanies, "enrich-companies", false, "enrich companies through Apollo (default from config)")
	importCmd.Flags().StringVar(&importLeadSource, "lead-source", "", "lead source for new records (default from config)")
	importCmd.Flags().StringVarP(&importOutput, "output", "o", outputTable, "output format: table, json or yaml")
	rootCmd.AddCommand(importCmd)
}
