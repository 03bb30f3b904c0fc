// Package pipeline runs one ingestion batch: normalize, dedupe, enrich and
// upsert, returning an aggregated BatchResult.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/truth-cli/internal/config"
	"github.com/sells-group/truth-cli/internal/enrich"
	"github.com/sells-group/truth-cli/internal/ingest"
	"github.com/sells-group/truth-cli/internal/metrics"
	"github.com/sells-group/truth-cli/internal/model"
	"github.com/sells-group/truth-cli/internal/pii"
	"github.com/sells-group/truth-cli/internal/upsert"
)

// Batch statuses recorded in metrics.
const (
	StatusOK      = "ok"
	StatusEmpty   = "empty"
	StatusTimeout = "timeout"
	StatusError   = "error"
)

// stopReason describes why unattempted records were abandoned.
func stopReason(ctx context.Context) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return reasonDeadline
	case ctx.Err() != nil:
		return reasonCanceled
	default:
		return ""
	}
}

// Pinger checks that storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Upserter writes one record.
type Upserter interface {
	Upsert(ctx context.Context, rec *model.ContactRecord, fields []model.EnrichmentField) (upsert.Outcome, []upsert.Warning, error)
}

// Enricher enriches a batch of records.
type Enricher interface {
	Enrich(ctx context.Context, recs []*model.ContactRecord, opts enrich.Options) ([]enrich.Result, enrich.Stats)
}

// ColumnLister reports the known truth-table columns.
type ColumnLister interface {
	Columns() []string
}

// Input is one spreadsheet batch.
type Input struct {
	Headers []string
	Rows    [][]string
	// LeadSource overrides the per-row value when set.
	LeadSource string
	Enrich     enrich.Options
	// Source names where the rows came from, for reporting.
	Source string
	// Warnings from reading the source, carried into the result.
	Warnings []string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEnricher enables enrichment. Without it, requested enrichment is
// skipped with a warning.
func WithEnricher(e Enricher) Option {
	return func(p *Pipeline) {
		p.enricher = e
	}
}

// WithExtractor sets the scrape extractor used by RunScrape.
func WithExtractor(x Extractor) Option {
	return func(p *Pipeline) {
		p.extractor = x
	}
}

// WithColumns lets the pipeline report how many columns a batch added.
func WithColumns(c ColumnLister) Option {
	return func(p *Pipeline) {
		p.columns = c
	}
}

// WithMetrics records batch and record outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline orchestrates ingestion batches.
type Pipeline struct {
	cfg       config.PipelineConfig
	store     Pinger
	engine    Upserter
	enricher  Enricher
	extractor Extractor
	columns   ColumnLister
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates a Pipeline.
func New(cfg config.PipelineConfig, st Pinger, engine Upserter, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		store:  st,
		engine: engine,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// batch is the working state of one run.
type batch struct {
	res    *model.BatchResult
	scrape bool
	opts   enrich.Options
}

// Run processes a spreadsheet batch. Only an unreachable store returns an
// error, and the partially filled result is returned with it.
func (p *Pipeline) Run(ctx context.Context, in Input) (*model.BatchResult, error) {
	b := p.newBatch(in.LeadSource, in.Enrich)
	if b.res.LeadSource == "" {
		b.res.LeadSource = model.LeadSourceExcel
	}
	b.res.Source = in.Source
	b.res.Warnings = append(b.res.Warnings, in.Warnings...)

	if err := p.ping(ctx, b); err != nil {
		return b.res, err
	}

	recs, warnings := ingest.Normalize(in.Headers, in.Rows, ingest.Options{LeadSource: in.LeadSource})
	b.res.Warnings = append(b.res.Warnings, warnings...)
	if len(recs) == 0 {
		b.res.EmptyReason = emptyReason(in.Headers, in.Rows)
		return p.finish(b), nil
	}

	return p.process(ctx, b, recs), nil
}

func (p *Pipeline) newBatch(leadSource string, opts enrich.Options) *batch {
	return &batch{
		res: &model.BatchResult{
			RunID:      uuid.NewString(),
			LeadSource: leadSource,
			StartedAt:  p.now().UTC(),
		},
		opts: opts,
	}
}

func (p *Pipeline) ping(ctx context.Context, b *batch) error {
	if err := p.store.Ping(ctx); err != nil {
		b.res.FinishedAt = p.now().UTC()
		p.metrics.RecordBatch(b.res.LeadSource, StatusError, b.res.Duration())
		zap.L().Error("pipeline: store unreachable", zap.String("run_id", b.res.RunID), zap.Error(err))
		return eris.Wrap(err, "pipeline: store unreachable")
	}
	return nil
}

func emptyReason(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return "no data rows"
	}
	if ingest.MapHeaders(headers).Mapped() == 0 {
		return "no recognizable columns in header"
	}
	return "all rows were blank"
}

// item is one record with its enrichment outcome.
type item struct {
	rec    *model.ContactRecord
	fields []model.EnrichmentField
	errs   []enrich.Error
}

// process runs dedupe, enrichment and upsert for normalized records.
func (p *Pipeline) process(ctx context.Context, b *batch, recs []*model.ContactRecord) *model.BatchResult {
	log := zap.L().With(zap.String("run_id", b.res.RunID), zap.String("lead_source", b.res.LeadSource))

	if timeout := p.cfg.BatchTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var columnsBefore int
	if p.columns != nil {
		columnsBefore = len(p.columns.Columns())
	}

	recs, dupes := ingest.DedupeByEmail(recs)
	if dupes > 0 {
		b.res.AddWarning(fmt.Sprintf("%d duplicate email rows merged (last row wins)", dupes))
	}

	items := p.runEnrichment(ctx, b, recs, log)

	// Enrichment can discover emails shared with other records.
	items = dedupeItems(items, b)

	outcomes := p.upsertAll(ctx, items)
	aggregate(b, items, outcomes, stopReason(ctx))

	if p.columns != nil {
		b.res.ColumnsAdded = max(0, len(p.columns.Columns())-columnsBefore)
	}
	res := p.finish(b)
	log.Info("pipeline: batch complete",
		zap.Int("processed", res.Processed),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed),
		zap.Int("skipped_no_email", res.SkippedNoEmail),
		zap.Int("columns_added", res.ColumnsAdded),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("elapsed", res.Duration()),
	)
	return res
}

func (p *Pipeline) runEnrichment(ctx context.Context, b *batch, recs []*model.ContactRecord, log *zap.Logger) []item {
	items := make([]item, len(recs))
	for i, r := range recs {
		items[i].rec = r
	}
	if !b.opts.Any() {
		return items
	}
	if p.enricher == nil {
		b.res.AddWarning("enrichment requested but Apollo is not configured; records stored without enrichment")
		return items
	}

	start := p.now()
	results, st := p.enricher.Enrich(ctx, recs, b.opts)
	for i := range items {
		enrich.Apply(items[i].rec, results[i])
		items[i].fields = results[i].Fields
		items[i].errs = results[i].Errs
	}
	b.res.PeopleEnriched = st.PeopleEnriched
	b.res.CompaniesEnriched = st.CompaniesEnriched
	b.res.CompaniesSkippedNoDomain = st.CompaniesSkippedNoDomain
	log.Info("pipeline: enrichment complete",
		zap.Int("people_enriched", st.PeopleEnriched),
		zap.Int("companies_enriched", st.CompaniesEnriched),
		zap.Int("companies_skipped_no_domain", st.CompaniesSkippedNoDomain),
		zap.Int("failed_lookups", st.FailedLookups),
		zap.Duration("elapsed", p.now().Sub(start)),
	)
	return items
}

// dedupeItems collapses items whose records now share an email, keeping the
// last one. Enrichment errors of collapsed items are still reported.
func dedupeItems(items []item, b *batch) []item {
	byRec := make(map[*model.ContactRecord]item, len(items))
	recs := make([]*model.ContactRecord, len(items))
	for i, it := range items {
		byRec[it.rec] = it
		recs[i] = it.rec
	}
	kept, dupes := ingest.DedupeByEmail(recs)
	if dupes == 0 {
		return items
	}
	b.res.AddWarning(fmt.Sprintf("%d records merged after enrichment resolved a shared email", dupes))

	out := make([]item, len(kept))
	for i, r := range kept {
		out[i] = byRec[r]
		delete(byRec, r)
	}
	for _, it := range items {
		if dropped, ok := byRec[it.rec]; ok {
			for _, e := range dropped.errs {
				b.res.AddFailure(dropped.rec.Key(), e.Kind, e.Error())
			}
		}
	}
	return out
}

// outcome is the result of one upsert attempt.
type outcome struct {
	attempted bool
	outcome   upsert.Outcome
	warnings  []upsert.Warning
	err       error
}

// upsertAll writes every item with an email over a bounded worker group.
// Items not started before the deadline stay unattempted.
func (p *Pipeline) upsertAll(ctx context.Context, items []item) []outcome {
	out := make([]outcome, len(items))
	limit := p.cfg.UpsertConcurrency
	if limit <= 0 {
		limit = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i, it := range items {
		if it.rec.Email == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o, warnings, err := p.engine.Upsert(ctx, it.rec, it.fields)
			if err != nil {
				zap.L().Warn("pipeline: upsert failed", pii.KeyField(it.rec.Key()), zap.Error(err))
			}
			out[i] = outcome{attempted: true, outcome: o, warnings: warnings, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Pipeline) finish(b *batch) *model.BatchResult {
	res := b.res
	res.FinishedAt = p.now().UTC()

	status := StatusOK
	switch {
	case res.TimedOut:
		status = StatusTimeout
	case res.Processed == 0:
		status = StatusEmpty
	}
	p.metrics.RecordBatch(res.LeadSource, status, res.Duration())
	p.metrics.RecordOutcome(upsert.Inserted.String(), res.Inserted)
	p.metrics.RecordOutcome(upsert.Updated.String(), res.Updated)
	p.metrics.RecordOutcome(upsert.Failed.String(), res.Failed)
	p.metrics.RecordOutcome("skipped_no_email", res.SkippedNoEmail)
	return res
}
