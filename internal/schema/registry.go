// Package schema tracks the truth table's column set and grows it as new
// enrichment fields appear.
package schema

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/truth-cli/internal/metrics"
	"github.com/sells-group/truth-cli/internal/model"
)

// Kind classifies a known column. KindOther marks an unprefixed column found
// in storage that is not one of the fixed columns; the registry keeps it but
// never creates one.
type Kind string

const (
	KindFixed   Kind = "fixed"
	KindPerson  Kind = "person"
	KindCompany Kind = "company"
	KindOther   Kind = "other"
)

// ColumnStore is the storage surface the registry needs.
type ColumnStore interface {
	ListColumns(ctx context.Context) ([]string, error)
	AddColumn(ctx context.Context, name string) error
}

// Registry is the process-wide set of known columns. It only grows.
type Registry struct {
	store   ColumnStore
	metrics *metrics.Metrics

	mu    sync.RWMutex
	known map[string]Kind

	// ddl serializes schema alterations so concurrent batches never issue
	// the same ALTER twice.
	ddl sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records column additions and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry seeds the registry with the fixed columns and every column the
// store already has.
func NewRegistry(ctx context.Context, store ColumnStore, opts ...Option) (*Registry, error) {
	r := &Registry{
		store: store,
		known: make(map[string]Kind, len(model.FixedColumns)),
	}
	for _, o := range opts {
		o(r)
	}
	for _, c := range model.FixedColumns {
		r.known[c] = KindFixed
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload merges the storage column set into the registry. Columns are never
// removed, even if the table no longer has them.
func (r *Registry) Reload(ctx context.Context) error {
	cols, err := r.store.ListColumns(ctx)
	if err != nil {
		return eris.Wrap(err, "schema: list columns")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cols {
		if _, ok := r.known[c]; ok {
			continue
		}
		r.known[c] = kindOf(c)
	}
	return nil
}

// Known reports whether name is a known column.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.known[name]
	return ok
}

// Kind returns the kind of a known column.
func (r *Registry) Kind(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.known[name]
	return k, ok
}

// Columns returns fixed columns in table order followed by every other known
// column sorted by name.
func (r *Registry) Columns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.known))
	out = append(out, model.FixedColumns...)
	var dynamic []string
	for c, k := range r.known {
		if k != KindFixed {
			dynamic = append(dynamic, c)
		}
	}
	sort.Strings(dynamic)
	return append(out, dynamic...)
}

// EnsureColumns guarantees every name exists in storage before a write. Names
// that could not be created are returned with their error; the caller drops
// them from the write. A nil map means every name is available.
func (r *Registry) EnsureColumns(ctx context.Context, names []string) map[string]error {
	missing := r.unknown(names)
	if len(missing) == 0 {
		return nil
	}

	r.ddl.Lock()
	defer r.ddl.Unlock()

	var dropped map[string]error
	drop := func(name string, err error) {
		if dropped == nil {
			dropped = make(map[string]error)
		}
		dropped[name] = err
	}

	// Another caller may have added some of these while we waited.
	for _, name := range r.unknown(missing) {
		kind := kindOf(name)
		if kind == KindOther {
			drop(name, eris.Errorf("schema: column %q has no enrichment prefix", name))
			continue
		}
		if err := r.store.AddColumn(ctx, name); err != nil {
			zap.L().Warn("schema: add column failed",
				zap.String("column", name),
				zap.Error(err),
			)
			r.metrics.RecordSchemaError()
			drop(name, eris.Wrapf(err, "schema: add column %q", name))
			continue
		}

		r.mu.Lock()
		r.known[name] = kind
		r.mu.Unlock()
		r.metrics.RecordColumnAdded()
		zap.L().Info("schema: column added", zap.String("column", name), zap.String("kind", string(kind)))
	}
	return dropped
}

// unknown returns the distinct names not yet known, in input order.
func (r *Registry) unknown(names []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	seen := make(map[string]bool)
	for _, n := range names {
		if _, ok := r.known[n]; ok || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// kindOf classifies a column by its name.
func kindOf(name string) Kind {
	origin, _, ok := model.ParseEnrichmentColumn(name)
	switch {
	case model.IsFixedColumn(name):
		return KindFixed
	case !ok:
		return KindOther
	case origin == model.OriginCompany:
		return KindCompany
	default:
		return KindPerson
	}
}
