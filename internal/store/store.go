package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/truth-cli/internal/db"
	"github.com/sells-group/truth-cli/internal/model"
)

// TruthTable is the single table holding the deduplicated dataset.
const TruthTable = "truth"

// UpsertResult reports which path an atomic upsert took.
type UpsertResult struct {
	SN       int64
	Inserted bool
}

// SearchQuery filters and pages truth rows. Filters match column values as
// case-insensitive substrings.
type SearchQuery struct {
	Filters map[string]string `json:"filters,omitempty"`
	Limit   int               `json:"limit,omitempty"`
	Offset  int               `json:"offset,omitempty"`
}

// Stats summarises the truth table.
type Stats struct {
	Total         int64            `json:"total_records" yaml:"total_records"`
	ByLeadSource  map[string]int64 `json:"by_lead_source" yaml:"by_lead_source"`
	RecentUpdates int64            `json:"recent_updates_7_days" yaml:"recent_updates_7_days"`
	TotalColumns  int              `json:"total_columns" yaml:"total_columns"`
}

// Store defines the persistence interface for the truth table.
type Store interface {
	// Records
	FindByEmail(ctx context.Context, email string) (*model.ContactRecord, error)
	// Upsert inserts or updates the row keyed by the email column in a single
	// atomic statement. Empty values never overwrite stored ones; insertOnly
	// columns are only written when the row is created.
	Upsert(ctx context.Context, values map[string]string, insertOnly []string) (UpsertResult, error)
	Search(ctx context.Context, q SearchQuery) ([]*model.ContactRecord, int64, error)
	Stats(ctx context.Context) (*Stats, error)

	// Schema
	ListColumns(ctx context.Context) ([]string, error)
	AddColumn(ctx context.Context, name string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// truthDDL renders the CREATE TABLE for the fixed columns. snDecl is the
// backend-specific declaration of the sequence column.
func truthDDL(snDecl string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", db.Table(TruthTable))
	for i, col := range model.FixedColumns {
		var decl string
		switch col {
		case model.ColSN:
			decl = snDecl
		case model.ColEmail:
			decl = "TEXT UNIQUE NOT NULL"
		case model.ColUpdatedAt:
			decl = "TEXT NOT NULL"
		default:
			decl = "TEXT"
		}
		fmt.Fprintf(&b, "\t%s %s", db.QuoteIdent(col), decl)
		if i < len(model.FixedColumns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(");\n")
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_truth_company ON %s (%s);\n",
		db.Table(TruthTable), db.QuoteIdent(model.ColCompanyName))
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_truth_updated ON %s (%s);\n",
		db.Table(TruthTable), db.QuoteIdent(model.ColUpdatedAt))
	return b.String()
}

// normalizePage applies the default page size.
func normalizePage(q SearchQuery) SearchQuery {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// requireColumns fails when the truth table has not been migrated.
func requireColumns(cols []string) error {
	if len(cols) == 0 {
		return eris.Errorf("store: table %s has no columns; run migrate first", TruthTable)
	}
	return nil
}

// checkFilterColumns rejects filters on columns the table does not have.
func checkFilterColumns(filters map[string]string, known []string) error {
	set := make(map[string]bool, len(known))
	for _, c := range known {
		set[c] = true
	}
	for col := range filters {
		if !set[col] {
			return eris.Errorf("store: unknown filter column %q", col)
		}
	}
	return nil
}

// recordFromRow builds a record from scanned nullable values.
func recordFromRow(cols []string, vals []*string) *model.ContactRecord {
	m := make(map[string]string, len(cols))
	for i, c := range cols {
		if vals[i] != nil {
			m[c] = *vals[i]
		}
	}
	return model.ContactFromColumns(m)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// recentCutoff returns the timestamp seven days before now in the persisted
// layout. The layout sorts lexically, so string comparison suffices.
func recentCutoff(now time.Time) string {
	return now.UTC().Add(-7 * 24 * time.Hour).Format(model.TimestampLayout)
}
