package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/truth-cli/internal/db"
	"github.com/sells-group/truth-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Transactions begin IMMEDIATE so an upsert holds the write lock from its
// first read, including against other processes sharing the file.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", immediateTxDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer connection serializes upsert transactions; SQLite
	// would otherwise fail lock upgrades with SQLITE_BUSY under concurrency.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// immediateTxDSN adds _txlock=immediate unless the DSN already sets a lock mode.
func immediateTxDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_txlock=immediate"
	}
	return dsn + "?_txlock=immediate"
}

var sqliteMigration = truthDDL("INTEGER PRIMARY KEY AUTOINCREMENT")

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, values map[string]string, insertOnly []string) (UpsertResult, error) {
	stmt, args, err := db.UpsertStatement(db.UpsertConfig{
		Table:       TruthTable,
		ConflictKey: model.ColEmail,
		Values:      values,
		InsertOnly:  insertOnly,
		Returning:   []string{db.QuoteIdent(model.ColSN)},
		Placeholder: db.Question,
	})
	if err != nil {
		return UpsertResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	var existing int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", db.QuoteIdent(model.ColSN), db.Table(TruthTable), db.QuoteIdent(model.ColEmail)),
		values[model.ColEmail],
	).Scan(&existing)
	inserted := errors.Is(err, sql.ErrNoRows)
	if err != nil && !inserted {
		return UpsertResult{}, eris.Wrap(err, "sqlite: lookup existing row")
	}

	var res UpsertResult
	if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&res.SN); err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: upsert truth row")
	}
	if err := tx.Commit(); err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: commit upsert")
	}
	res.Inserted = inserted
	return res, nil
}

func (s *SQLiteStore) FindByEmail(ctx context.Context, email string) (*model.ContactRecord, error) {
	cols, err := s.ListColumns(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(cols); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", db.SelectList(cols), db.Table(TruthTable), db.QuoteIdent(model.ColEmail)),
		email,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find by email")
	}
	recs, err := scanSQLiteRecords(rows, cols)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

func (s *SQLiteStore) Search(ctx context.Context, q SearchQuery) ([]*model.ContactRecord, int64, error) {
	q = normalizePage(q)
	cols, err := s.ListColumns(ctx)
	if err != nil {
		return nil, 0, err
	}
	if err := requireColumns(cols); err != nil {
		return nil, 0, err
	}
	if err := checkFilterColumns(q.Filters, cols); err != nil {
		return nil, 0, err
	}

	var where []string
	var args []any
	for _, col := range sortedKeys(q.Filters) {
		where = append(where, fmt.Sprintf("%s LIKE ?", db.QuoteIdent(col)))
		args = append(args, "%"+q.Filters[col]+"%")
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", db.Table(TruthTable), whereSQL), args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count truth rows")
	}

	pageArgs := append(append([]any{}, args...), q.Limit, q.Offset)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT ? OFFSET ?",
			db.SelectList(cols), db.Table(TruthTable), whereSQL, db.QuoteIdent(model.ColSN)),
		pageArgs...,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: search truth rows")
	}
	recs, err := scanSQLiteRecords(rows, cols)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByLeadSource: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", db.Table(TruthTable))).Scan(&st.Total); err != nil {
		return nil, eris.Wrap(err, "sqlite: count total")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT COALESCE(%s, ''), COUNT(*) FROM %s GROUP BY 1",
		db.QuoteIdent(model.ColLeadSource), db.Table(TruthTable)))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by lead source")
	}
	for rows.Next() {
		var src string
		var n int64
		if err := rows.Scan(&src, &n); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan lead source count")
		}
		st.ByLeadSource[src] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate lead source counts")
	}

	cutoff := recentCutoff(time.Now())
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s >= ?",
		db.Table(TruthTable), db.QuoteIdent(model.ColUpdatedAt)), cutoff).Scan(&st.RecentUpdates); err != nil {
		return nil, eris.Wrap(err, "sqlite: count recent updates")
	}

	cols, err := s.ListColumns(ctx)
	if err != nil {
		return nil, err
	}
	st.TotalColumns = len(cols)
	return st, nil
}

func (s *SQLiteStore) ListColumns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, TruthTable)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list columns")
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan column name")
		}
		cols = append(cols, name)
	}
	return cols, eris.Wrap(rows.Err(), "sqlite: iterate columns")
}

func (s *SQLiteStore) AddColumn(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, db.AddColumnStatement(TruthTable, name, false))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate column name") {
			return nil
		}
		return eris.Wrapf(err, "sqlite: add column %s", name)
	}
	return nil
}

func scanSQLiteRecords(rows *sql.Rows, cols []string) ([]*model.ContactRecord, error) {
	defer rows.Close()
	var out []*model.ContactRecord
	for rows.Next() {
		vals := make([]*string, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan truth row")
		}
		out = append(out, recordFromRow(cols, vals))
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate truth rows")
}
