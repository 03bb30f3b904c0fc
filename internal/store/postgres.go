package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/truth-cli/internal/db"
	"github.com/sells-group/truth-cli/internal/model"
)

// pgDuplicateColumn is the SQLSTATE for "column already exists".
const pgDuplicateColumn = "42701"

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

var postgresMigration = truthDDL("BIGSERIAL PRIMARY KEY")

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, values map[string]string, insertOnly []string) (UpsertResult, error) {
	sql, args, err := db.UpsertStatement(db.UpsertConfig{
		Table:       TruthTable,
		ConflictKey: model.ColEmail,
		Values:      values,
		InsertOnly:  insertOnly,
		Returning:   []string{db.QuoteIdent(model.ColSN), "(xmax = 0)"},
		Placeholder: db.Dollar,
	})
	if err != nil {
		return UpsertResult{}, err
	}

	var res UpsertResult
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&res.SN, &res.Inserted); err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: upsert truth row")
	}
	return res, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*model.ContactRecord, error) {
	cols, err := s.ListColumns(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(cols); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		pgSelectList(cols), db.Table(TruthTable), db.QuoteIdent(model.ColEmail))
	rows, err := s.pool.Query(ctx, query, email)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find by email")
	}
	recs, err := scanPgRecords(rows, cols)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

func (s *PostgresStore) Search(ctx context.Context, q SearchQuery) ([]*model.ContactRecord, int64, error) {
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
		args = append(args, "%"+q.Filters[col]+"%")
		where = append(where, fmt.Sprintf("%s ILIKE $%d", db.QuoteIdent(col), len(args)))
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", db.Table(TruthTable), whereSQL)
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count truth rows")
	}

	pageArgs := append(append([]any{}, args...), q.Limit, q.Offset)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT $%d OFFSET $%d",
		pgSelectList(cols), db.Table(TruthTable), whereSQL, db.QuoteIdent(model.ColSN), len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: search truth rows")
	}
	recs, err := scanPgRecords(rows, cols)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByLeadSource: make(map[string]int64)}

	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", db.Table(TruthTable))).Scan(&st.Total); err != nil {
		return nil, eris.Wrap(err, "postgres: count total")
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT COALESCE(%s, ''), COUNT(*) FROM %s GROUP BY 1",
		db.QuoteIdent(model.ColLeadSource), db.Table(TruthTable)))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by lead source")
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int64
		if err := rows.Scan(&src, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead source count")
		}
		st.ByLeadSource[src] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate lead source counts")
	}

	cutoff := recentCutoff(time.Now())
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s >= $1",
		db.Table(TruthTable), db.QuoteIdent(model.ColUpdatedAt)), cutoff).Scan(&st.RecentUpdates); err != nil {
		return nil, eris.Wrap(err, "postgres: count recent updates")
	}

	cols, err := s.ListColumns(ctx)
	if err != nil {
		return nil, err
	}
	st.TotalColumns = len(cols)
	return st, nil
}

func (s *PostgresStore) ListColumns(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`,
		TruthTable,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list columns")
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan column name")
		}
		cols = append(cols, name)
	}
	return cols, eris.Wrap(rows.Err(), "postgres: iterate columns")
}

func (s *PostgresStore) AddColumn(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, db.AddColumnStatement(TruthTable, name, true))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateColumn {
			return nil
		}
		return eris.Wrapf(err, "postgres: add column %s", name)
	}
	return nil
}

// pgSelectList casts every column to text so rows scan uniformly.
func pgSelectList(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		q := db.QuoteIdent(c)
		parts[i] = fmt.Sprintf("CAST(%s AS TEXT) AS %s", q, q)
	}
	return strings.Join(parts, ", ")
}

func scanPgRecords(rows pgx.Rows, cols []string) ([]*model.ContactRecord, error) {
	defer rows.Close()
	var out []*model.ContactRecord
	for rows.Next() {
		vals := make([]*string, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan truth row")
		}
		out = append(out, recordFromRow(cols, vals))
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate truth rows")
}
