// Package enrich runs Apollo people and organization enrichment over a batch
// of contact records.
package enrich

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/truth-cli/internal/ingest"
	"github.com/sells-group/truth-cli/internal/model"
	"github.com/sells-group/truth-cli/internal/resilience"
	"github.com/sells-group/truth-cli/pkg/apollo"
)

// Options selects which enrichment streams run.
type Options struct {
	People    bool
	Companies bool
}

// Any reports whether at least one stream is enabled.
func (o Options) Any() bool {
	return o.People || o.Companies
}

// Error is a failed enrichment call attributed to one record.
type Error struct {
	Kind     model.ErrorKind
	Endpoint string
	Err      error
}

func (e Error) Error() string {
	return e.Endpoint + ": " + e.Err.Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// Result is the enrichment outcome for one record.
type Result struct {
	// Fixed holds canonical column values returned by Apollo. Apply writes
	// them only where the record is empty.
	Fixed map[string]string
	// Fields are the dynamic enrichment columns, unique by column name.
	Fields []model.EnrichmentField
	// Errs lists failed calls covering this record. The record is still
	// written with whatever data it has.
	Errs []Error

	PersonMatched  bool
	CompanyMatched bool
}

// Stats counts records touched by each stream.
type Stats struct {
	PeopleEnriched            int
	PeopleSkippedNoIdentifier int
	CompaniesEnriched         int
	CompaniesSkippedNoDomain  int

	// FailedLookups counts people and distinct domains whose call failed.
	FailedLookups int
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithBatchSize sets the chunk size, clamped to the Apollo bulk limit.
func WithBatchSize(n int) Option {
	return func(e *Enricher) {
		e.batchSize = n
	}
}

// WithConcurrency bounds the number of chunks in flight.
func WithConcurrency(n int) Option {
	return func(e *Enricher) {
		e.concurrency = n
	}
}

// WithRateLimit caps chunk calls per second across both streams.
func WithRateLimit(rps float64) Option {
	return func(e *Enricher) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// Enricher fans record chunks out to Apollo.
type Enricher struct {
	client      apollo.Client
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
}

// New creates an Enricher.
func New(client apollo.Client, opts ...Option) *Enricher {
	e := &Enricher{
		client:      client,
		batchSize:   apollo.MaxBatchSize,
		concurrency: 4,
		limiter:     rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.batchSize <= 0 || e.batchSize > apollo.MaxBatchSize {
		e.batchSize = apollo.MaxBatchSize
	}
	if e.concurrency <= 0 {
		e.concurrency = 1
	}
	return e
}

// work is one chunk of either stream.
type work struct {
	people  []int
	domains []string
}

// Enrich enriches recs and returns one Result per record in input order.
// Records are not modified; see Apply. A failed chunk marks only its own
// records.
func (e *Enricher) Enrich(ctx context.Context, recs []*model.ContactRecord, opts Options) ([]Result, Stats) {
	results := make([]Result, len(recs))
	var st Stats

	var people []int
	if opts.People {
		for i, r := range recs {
			if r.HasPeopleIdentifier() {
				people = append(people, i)
			} else {
				st.PeopleSkippedNoIdentifier++
			}
		}
	}

	var domains []string
	seen := make(map[string]bool)
	if opts.Companies {
		for _, r := range recs {
			if r.Website == "" {
				st.CompaniesSkippedNoDomain++
				continue
			}
			if !seen[r.Website] {
				seen[r.Website] = true
				domains = append(domains, r.Website)
			}
		}
	}

	var (
		personOut = make([]Mapped, len(recs))
		personOrg = make([]Mapped, len(recs))
		personHit = make([]bool, len(recs))
		personErr = make([]*Error, len(recs))

		mu     sync.Mutex
		orgOut = make(map[string]Mapped)
		orgErr = make(map[string]*Error)
	)

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, w := range interleave(chunk(people, e.batchSize), chunk(domains, e.batchSize)) {
		g.Go(func() error {
			if w.people != nil {
				matches, err := e.matchPeople(ctx, recs, w.people)
				for j, idx := range w.people {
					if err != nil {
						personErr[idx] = err
						continue
					}
					if j < len(matches) && matches[j].Found() {
						personOut[idx], personOrg[idx] = MapPerson(matches[j].Result)
						personHit[idx] = true
					}
				}
				return nil
			}

			matches, err := e.enrichOrgs(ctx, w.domains)
			mu.Lock()
			defer mu.Unlock()
			for j, d := range w.domains {
				if err != nil {
					orgErr[d] = err
					continue
				}
				if j < len(matches) && matches[j].Found() {
					orgOut[d] = MapOrganization(matches[j].Result)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range recs {
		res := &results[i]
		var parts []Mapped
		if opts.Companies && r.Website != "" {
			if m, ok := orgOut[r.Website]; ok {
				parts = append(parts, m)
				res.CompanyMatched = true
				st.CompaniesEnriched++
			}
			if err := orgErr[r.Website]; err != nil {
				res.Errs = append(res.Errs, *err)
			}
		}
		if personHit[i] {
			parts = append(parts, personOut[i], personOrg[i])
			res.PersonMatched = true
			st.PeopleEnriched++
		}
		if err := personErr[i]; err != nil {
			res.Errs = append(res.Errs, *err)
		}
		res.Fixed, res.Fields = merge(parts...)
	}

	for _, err := range personErr {
		if err != nil {
			st.FailedLookups++
		}
	}
	st.FailedLookups += len(orgErr)
	return results, st
}

func (e *Enricher) matchPeople(ctx context.Context, recs []*model.ContactRecord, idx []int) ([]apollo.Match, *Error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, classify(ctx, apollo.EndpointPeopleMatch, err)
	}
	queries := make([]apollo.PersonQuery, len(idx))
	for j, i := range idx {
		queries[j] = personQuery(recs[i])
	}
	matches, err := e.client.MatchPeople(ctx, queries)
	if err != nil {
		zap.L().Warn("enrich: people chunk failed",
			zap.Int("records", len(idx)),
			zap.Error(err),
		)
		return nil, classify(ctx, apollo.EndpointPeopleMatch, err)
	}
	return matches, nil
}

func (e *Enricher) enrichOrgs(ctx context.Context, domains []string) ([]apollo.Match, *Error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, classify(ctx, apollo.EndpointOrgEnrich, err)
	}
	matches, err := e.client.EnrichOrganizations(ctx, domains)
	if err != nil {
		zap.L().Warn("enrich: organization chunk failed",
			zap.Strings("domains", domains),
			zap.Error(err),
		)
		return nil, classify(ctx, apollo.EndpointOrgEnrich, err)
	}
	return matches, nil
}

func personQuery(r *model.ContactRecord) apollo.PersonQuery {
	return apollo.PersonQuery{
		FirstName:          r.FirstName,
		LastName:           r.LastName,
		OrganizationDomain: r.Website,
		OrganizationName:   r.CompanyName,
		Email:              r.Email,
	}
}

// classify maps a call error onto a failure kind. An exhausted retry budget
// is an enrichment failure; a rejected request (4xx other than 429) is fatal;
// a call cut short by cancellation is reported as retryable.
func classify(ctx context.Context, endpoint string, err error) *Error {
	kind := model.ErrEnrichmentFailed
	var se *resilience.StatusError
	var ex *resilience.ExhaustedError
	switch {
	case errors.As(err, &ex):
	case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = model.ErrRetryableAPI
	case errors.As(err, &se) && se.StatusCode >= http.StatusBadRequest && se.StatusCode < http.StatusInternalServerError &&
		!resilience.IsRetryableStatus(se.StatusCode):
		kind = model.ErrFatalAPI
	}
	return &Error{Kind: kind, Endpoint: endpoint, Err: err}
}

// merge combines mapped payloads; earlier parts win on both fixed columns
// and dynamic field names.
func merge(parts ...Mapped) (map[string]string, []model.EnrichmentField) {
	fixed := make(map[string]string)
	var fields []model.EnrichmentField
	seen := make(map[string]bool)
	for _, p := range parts {
		for col, v := range p.Fixed {
			if _, ok := fixed[col]; !ok {
				fixed[col] = v
			}
		}
		for _, f := range p.Fields {
			if seen[f.Column()] {
				continue
			}
			seen[f.Column()] = true
			fields = append(fields, f)
		}
	}
	return fixed, fields
}

// Apply fills rec's empty fixed columns from res. An existing email is
// never replaced.
func Apply(rec *model.ContactRecord, res Result) {
	for col, v := range res.Fixed {
		if rec.Get(col) != "" {
			continue
		}
		switch col {
		case model.ColRevenue:
			rec.Revenue = ingest.ParseRevenue(v)
		case model.ColEmployees:
			rec.Employees = ingest.ParseNumber(v)
		default:
			rec.Set(col, v)
		}
	}
	rec.SkippedNoEmail = rec.Email == ""
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

// interleave alternates people and domain chunks so both streams make
// progress under the worker limit.
func interleave(people [][]int, domains [][]string) []work {
	out := make([]work, 0, len(people)+len(domains))
	for i := 0; i < len(people) || i < len(domains); i++ {
		if i < len(people) {
			out = append(out, work{people: people[i]})
		}
		if i < len(domains) {
			out = append(out, work{domains: domains[i]})
		}
	}
	return out
}
