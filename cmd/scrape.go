package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/truth-cli/internal/config"
	"github.com/sells-group/truth-cli/internal/pipeline"
	"github.com/sells-group/truth-cli/internal/scrape"
)

var (
	scrapeEnrichPeople    bool
	scrapeEnrichCompanies bool
	scrapeOutput          string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Extract contacts from a company website and import them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var people, companies *bool
		if cmd.Flags().Changed("enrich-people") {
			people = &scrapeEnrichPeople
		}
		if cmd.Flags().Changed("enrich-companies") {
			companies = &scrapeEnrichCompanies
		}
		return runScrape(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], scrapeOutput, people, companies)
	},
}

func runScrape(ctx context.Context, out io.Writer, c *config.Config, rawURL, output string, people, companies *bool) error {
	target, err := scrape.ValidateURL(rawURL)
	if err != nil {
		return err
	}

	env, err := initApp(ctx, c, "scrape")
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.Pipeline.RunScrape(ctx, pipeline.ScrapeInput{
		URL:    target,
		Enrich: enrichOptions(c, people, companies),
	})
	if res != nil {
		if werr := writeBatch(out, output, res); werr != nil {
			return werr
		}
	}
	return eris.Wrap(err, "scrape")
}

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeEnrichPeople, "enrich-people", false, "enrich people through Apollo (default from config)")
	scrapeCmd.Flags().BoolVar(&scrapeEnrichCompanies, "enrich-companies", false, "enrich companies through Apollo (default from config)")
	scrapeCmd.Flags().StringVarP(&scrapeOutput, "output", "o", outputTable, "output format: table, json or yaml")
	rootCmd.AddCommand(scrapeCmd)
}
