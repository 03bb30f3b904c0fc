package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/truth-cli/internal/config"
	"github.com/sells-group/truth-cli/internal/enrich"
	"github.com/sells-group/truth-cli/internal/fetcher"
	"github.com/sells-group/truth-cli/internal/metrics"
	"github.com/sells-group/truth-cli/internal/pipeline"
	"github.com/sells-group/truth-cli/internal/resilience"
	"github.com/sells-group/truth-cli/internal/schema"
	"github.com/sells-group/truth-cli/internal/scrape"
	"github.com/sells-group/truth-cli/internal/store"
	"github.com/sells-group/truth-cli/internal/upsert"
	"github.com/sells-group/truth-cli/pkg/anthropic"
	"github.com/sells-group/truth-cli/pkg/apollo"
	"github.com/sells-group/truth-cli/pkg/jina"
)

// appEnv holds the store, registry and pipeline shared by the import,
// scrape and serve commands.
type appEnv struct {
	Store    store.Store
	Registry *schema.Registry
	Pipeline *pipeline.Pipeline
	Reader   *fetcher.Reader
	Metrics  *metrics.Metrics
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates c for mode, opens and migrates the store, and builds
// the pipeline. Apollo and scraping are wired only when their keys are set.
// Callers should defer env.Close().
func initApp(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	st, err := openStore(ctx, c, mode)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	reg, err := schema.NewRegistry(ctx, st, schema.WithMetrics(m))
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load schema registry")
	}

	opts := []pipeline.Option{
		pipeline.WithColumns(reg),
		pipeline.WithMetrics(m),
	}

	if c.Apollo.Key != "" {
		opts = append(opts, pipeline.WithEnricher(newEnricher(c, m)))
		zap.L().Info("apollo enrichment enabled",
			zap.Int("batch_size", c.Apollo.BatchSize),
			zap.Int("concurrency", c.Apollo.Concurrency),
			zap.Float64("rate_limit_rps", c.Apollo.RateLimitRPS),
		)
	} else {
		zap.L().Debug("TRUTH_APOLLO_KEY not set, enrichment disabled")
	}

	if c.Anthropic.Key != "" {
		opts = append(opts, pipeline.WithExtractor(newExtractor(c)))
		zap.L().Info("website scraping enabled", zap.String("model", c.Anthropic.Model))
	} else {
		zap.L().Debug("TRUTH_ANTHROPIC_KEY not set, scraping disabled")
	}

	p := pipeline.New(c.Pipeline, st, upsert.New(st, reg), opts...)

	return &appEnv{
		Store:    st,
		Registry: reg,
		Pipeline: p,
		Reader:   newReader(c),
		Metrics:  m,
	}, nil
}

func newEnricher(c *config.Config, m *metrics.Metrics) *enrich.Enricher {
	policy := resilience.FromConfig(
		c.Apollo.MaxAttempts,
		c.Apollo.InitialBackoffMS,
		c.Apollo.MaxBackoffMS,
		c.Apollo.Multiplier,
		c.Apollo.ApolloTimeout(),
		c.Apollo.ApolloMaxTimeout(),
		c.Apollo.TimeoutGrowth,
	)
	client := apollo.NewClient(c.Apollo.Key,
		apollo.WithBaseURL(c.Apollo.BaseURL),
		apollo.WithPolicy(policy),
		apollo.WithMetrics(m),
	)
	return enrich.New(client,
		enrich.WithBatchSize(c.Apollo.BatchSize),
		enrich.WithConcurrency(c.Apollo.Concurrency),
		enrich.WithRateLimit(c.Apollo.RateLimitRPS),
	)
}

// newExtractor builds the scrape chain: Jina reader first, plain HTTP
// fallback, then Anthropic extraction.
func newExtractor(c *config.Config) *scrape.Extractor {
	timeout := time.Duration(c.Scrape.TimeoutSecs) * time.Second
	chain := scrape.NewChain(
		scrape.NewJinaScraper(jina.NewClient(c.Jina.Key, jina.WithBaseURL(c.Jina.BaseURL))),
		scrape.NewLocalScraper(timeout),
	)
	llm := anthropic.NewClient(c.Anthropic.Key)
	return scrape.NewExtractor(chain, llm,
		scrape.WithModel(c.Anthropic.Model),
		scrape.WithMaxTokens(c.Anthropic.MaxTokens),
		scrape.WithMaxContentChars(c.Scrape.MaxContentChars),
		scrape.WithTimeout(timeout),
	)
}

func newReader(c *config.Config) *fetcher.Reader {
	return fetcher.NewReader(fetcher.Limits{
		MaxBytes: c.Ingest.MaxFileBytes(),
		MaxRows:  c.Ingest.MaxRows,
	})
}

// enrichOptions applies command-line overrides to the configured defaults.
func enrichOptions(c *config.Config, people, companies *bool) enrich.Options {
	opts := enrich.Options{People: c.Pipeline.EnrichPeople, Companies: c.Pipeline.EnrichCompanies}
	if people != nil {
		opts.People = *people
	}
	if companies != nil {
		opts.Companies = *companies
	}
	return opts
}
