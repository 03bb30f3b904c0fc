package db

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Placeholder renders the i-th (1-based) bind parameter.
type Placeholder func(i int) string

// Dollar renders Postgres placeholders ($1, $2, ...).
func Dollar(i int) string { return fmt.Sprintf("$%d", i) }

// Question renders SQLite placeholders.
func Question(int) string { return "?" }

// UpsertConfig defines an insert-or-update of one row keyed by a unique column.
type UpsertConfig struct {
	Table       string            // target table (e.g., "truth" or "public.truth")
	ConflictKey string            // unique column
	Values      map[string]string // column -> value; must include ConflictKey
	InsertOnly  []string          // columns written on insert and never overwritten
	Returning   []string          // raw RETURNING expressions; empty = none
	Placeholder Placeholder
}

// UpsertStatement builds
//
//	INSERT INTO t (cols) VALUES (...) ON CONFLICT (key) DO UPDATE SET
//	  c = COALESCE(NULLIF(EXCLUDED.c, ''), t.c), ...
//
// so an empty incoming value never erases a stored one. Columns are emitted
// in sorted order; the returned args follow the same order.
func UpsertStatement(cfg UpsertConfig) (string, []any, error) {
	if cfg.Table == "" {
		return "", nil, eris.New("db: upsert: no table specified")
	}
	if cfg.ConflictKey == "" {
		return "", nil, eris.New("db: upsert: no conflict key specified")
	}
	if cfg.Values[cfg.ConflictKey] == "" {
		return "", nil, eris.Errorf("db: upsert: missing value for conflict key %s", cfg.ConflictKey)
	}
	ph := cfg.Placeholder
	if ph == nil {
		ph = Dollar
	}

	cols := make([]string, 0, len(cfg.Values))
	for c := range cfg.Values {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	insertOnly := make(map[string]bool, len(cfg.InsertOnly))
	for _, c := range cfg.InsertOnly {
		insertOnly[c] = true
	}

	table := sanitizeTable(cfg.Table)
	args := make([]any, len(cols))
	marks := make([]string, len(cols))
	var setClauses []string
	for i, c := range cols {
		args[i] = cfg.Values[c]
		marks[i] = ph(i + 1)
		if c == cfg.ConflictKey || insertOnly[c] {
			continue
		}
		q := QuoteIdent(c)
		setClauses = append(setClauses, fmt.Sprintf("%s = COALESCE(NULLIF(EXCLUDED.%s, ''), %s.%s)", q, q, table, q))
	}
	if len(setClauses) == 0 {
		q := QuoteIdent(cfg.ConflictKey)
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		quoteAndJoin(cols),
		strings.Join(marks, ", "),
		QuoteIdent(cfg.ConflictKey),
		strings.Join(setClauses, ", "),
	)
	if len(cfg.Returning) > 0 {
		sql += " RETURNING " + strings.Join(cfg.Returning, ", ")
	}
	return sql, args, nil
}

// AddColumnStatement builds an ALTER TABLE adding a nullable TEXT column.
func AddColumnStatement(table, column string, ifNotExists bool) string {
	clause := "ADD COLUMN"
	if ifNotExists {
		clause = "ADD COLUMN IF NOT EXISTS"
	}
	return fmt.Sprintf("ALTER TABLE %s %s %s TEXT", sanitizeTable(table), clause, QuoteIdent(column))
}

// QuoteIdent quotes a single identifier. Column names such as
// "Email ID (unique)" or "# Employees" are only valid when quoted.
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// SelectList quotes and joins column names for a SELECT.
func SelectList(cols []string) string {
	return quoteAndJoin(cols)
}

// Table quotes a possibly schema-qualified table name.
func Table(name string) string {
	return sanitizeTable(name)
}

// sanitizeTable handles schema-qualified table names like "public.truth".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
