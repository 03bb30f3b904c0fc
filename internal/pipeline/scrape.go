package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/truth-cli/internal/enrich"
	"github.com/sells-group/truth-cli/internal/ingest"
	"github.com/sells-group/truth-cli/internal/model"
)

// ErrScrapeNotConfigured is returned by RunScrape without an extractor.
var ErrScrapeNotConfigured = eris.New("pipeline: scraping is not configured")

// Extractor pulls the people named on a web page.
type Extractor interface {
	Extract(ctx context.Context, url string) ([]ingest.Person, error)
}

// ScrapeInput is one website scrape request.
type ScrapeInput struct {
	URL    string
	Enrich enrich.Options
}

// RunScrape extracts people from a page and runs them through the same
// dedupe, enrich and upsert stages as a spreadsheet batch. The result lists
// the saved and skipped records. A store or extraction failure returns an
// error along with the partial result.
func (p *Pipeline) RunScrape(ctx context.Context, in ScrapeInput) (*model.BatchResult, error) {
	b := p.newBatch(model.LeadSourceScrape, in.Enrich)
	b.scrape = true
	b.res.Source = in.URL

	if err := p.ping(ctx, b); err != nil {
		return b.res, err
	}
	if p.extractor == nil {
		return p.fail(b), ErrScrapeNotConfigured
	}

	people, err := p.extractor.Extract(ctx, in.URL)
	if err != nil {
		zap.L().Error("pipeline: extract people failed",
			zap.String("run_id", b.res.RunID),
			zap.String("url", in.URL),
			zap.Error(err),
		)
		return p.fail(b), eris.Wrap(err, "pipeline: extract people")
	}
	if len(people) == 0 {
		b.res.EmptyReason = "no people found on page"
		return p.finish(b), nil
	}

	headers, rows := ingest.RowsFromScrape(people)
	recs, warnings := ingest.Normalize(headers, rows, ingest.Options{LeadSource: model.LeadSourceScrape})
	b.res.Warnings = append(b.res.Warnings, warnings...)
	if len(recs) == 0 {
		b.res.EmptyReason = "no usable names on page"
		return p.finish(b), nil
	}

	recs, dupes := ingest.DedupeByNameAndCompany(recs)
	if dupes > 0 {
		b.res.AddWarning(fmt.Sprintf("%d duplicate people merged by name and company", dupes))
	}
	return p.process(ctx, b, recs), nil
}

// fail closes a batch that could not start.
func (p *Pipeline) fail(b *batch) *model.BatchResult {
	b.res.FinishedAt = p.now().UTC()
	p.metrics.RecordBatch(b.res.LeadSource, StatusError, b.res.Duration())
	return b.res
}
