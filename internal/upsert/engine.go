// Package upsert merges normalized, enriched records into the truth table.
package upsert

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/truth-cli/internal/model"
	"github.com/sells-group/truth-cli/internal/pii"
	"github.com/sells-group/truth-cli/internal/store"
)

// ErrNoEmail is returned for records without an identity.
var ErrNoEmail = eris.New("upsert: record has no email")

// InsertOnlyColumns are written when a row is created and never overwritten.
var InsertOnlyColumns = []string{model.ColLeadSource, model.ColEmailSend}

// Outcome is the result of one upsert.
type Outcome int

const (
	Failed Outcome = iota
	Inserted
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "failed"
	}
}

// Warning reports an enrichment column dropped from a write.
type Warning struct {
	Column string
	Err    error
}

func (w Warning) String() string {
	return fmt.Sprintf("column %q dropped: %v", w.Column, w.Err)
}

// Writer is the storage operation the engine needs.
type Writer interface {
	Upsert(ctx context.Context, values map[string]string, insertOnly []string) (store.UpsertResult, error)
}

// ColumnEnsurer guarantees dynamic columns exist before a write.
type ColumnEnsurer interface {
	EnsureColumns(ctx context.Context, names []string) map[string]error
}

// Engine performs idempotent upserts keyed by email.
type Engine struct {
	writer  Writer
	columns ColumnEnsurer
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for the update timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(w Writer, columns ColumnEnsurer, opts ...Option) *Engine {
	e := &Engine{writer: w, columns: columns, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Upsert writes rec and its enrichment fields. Non-empty incoming values
// replace stored ones; empty values never erase. Enrichment fields override
// same-named values carried on the record. The update timestamp always
// advances, so a write with no changes still reports Updated.
func (e *Engine) Upsert(ctx context.Context, rec *model.ContactRecord, fields []model.EnrichmentField) (Outcome, []Warning, error) {
	if rec.Email == "" {
		return Failed, nil, ErrNoEmail
	}

	values := rec.Columns()
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		values[f.Column()] = f.Value
	}

	var warnings []Warning
	if dynamic := dynamicColumns(values); len(dynamic) > 0 {
		dropped := e.columns.EnsureColumns(ctx, dynamic)
		for _, col := range dynamic {
			err, ok := dropped[col]
			if !ok {
				continue
			}
			delete(values, col)
			warnings = append(warnings, Warning{Column: col, Err: err})
		}
	}

	values[model.ColUpdatedAt] = e.now().UTC().Format(model.TimestampLayout)

	res, err := e.writer.Upsert(ctx, values, InsertOnlyColumns)
	if err != nil {
		return Failed, warnings, eris.Wrap(err, "upsert: write row")
	}
	rec.SN = res.SN
	rec.UpdatedAt = values[model.ColUpdatedAt]

	outcome := Updated
	if res.Inserted {
		outcome = Inserted
	}
	zap.L().Debug("upsert: record written",
		pii.Contact(rec),
		zap.Int64("sn", res.SN),
		zap.String("outcome", outcome.String()),
		zap.Int("columns", len(values)),
	)
	return outcome, warnings, nil
}

// dynamicColumns returns the non-fixed column names in values, sorted.
func dynamicColumns(values map[string]string) []string {
	var out []string
	for col := range values {
		if !model.IsFixedColumn(col) {
			out = append(out, col)
		}
	}
	sort.Strings(out)
	return out
}
