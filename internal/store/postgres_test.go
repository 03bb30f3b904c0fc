package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/truth-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "truth"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigration_Declarations(t *testing.T) {
	assert.Contains(t, postgresMigration, `"S.N." BIGSERIAL PRIMARY KEY`)
	assert.Contains(t, postgresMigration, `"Email ID (unique)" TEXT UNIQUE NOT NULL`)
	assert.Contains(t, postgresMigration, `"UPDATE AS ON" TEXT NOT NULL`)
	assert.Contains(t, postgresMigration, `"# Employees" TEXT`)
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectPing()

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_Inserted(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO "truth" .* ON CONFLICT \("Email ID \(unique\)"\) DO UPDATE SET .* RETURNING "S.N.", \(xmax = 0\)`).
		WithArgs("a@x.com", "No", "Jane", "2026-01-02T03:04:05Z").
		WillReturnRows(pgxmock.NewRows([]string{"S.N.", "inserted"}).AddRow(int64(7), true))

	res, err := s.Upsert(context.Background(), map[string]string{
		model.ColEmail:     "a@x.com",
		model.ColEmailSend: "No",
		model.ColFirstName: "Jane",
		model.ColUpdatedAt: "2026-01-02T03:04:05Z",
	}, []string{model.ColEmailSend})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.SN)
	assert.True(t, res.Inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_MissingEmail(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.Upsert(context.Background(), map[string]string{model.ColFirstName: "Jane"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing value for conflict key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddColumn(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ALTER TABLE "truth" ADD COLUMN IF NOT EXISTS "Apollo Person: Seniority" TEXT`).
		WillReturnResult(pgxmock.NewResult("ALTER TABLE", 0))

	require.NoError(t, s.AddColumn(context.Background(), "Apollo Person: Seniority"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddColumn_DuplicateIgnored(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ALTER TABLE "truth"`).
		WillReturnError(&pgconn.PgError{Code: pgDuplicateColumn, Message: "column already exists"})

	require.NoError(t, s.AddColumn(context.Background(), "Apollo Person: Seniority"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddColumn_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ALTER TABLE "truth"`).
		WillReturnError(&pgconn.PgError{Code: "42501", Message: "permission denied"})

	err := s.AddColumn(context.Background(), "Apollo Person: Seniority")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add column")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListColumns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT column_name FROM information_schema.columns`).
		WithArgs(TruthTable).
		WillReturnRows(pgxmock.NewRows([]string{"column_name"}).
			AddRow("S.N.").
			AddRow(model.ColEmail).
			AddRow("Apollo Company: Founded Year"))

	cols, err := s.ListColumns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"S.N.", model.ColEmail, "Apollo Company: Founded Year"}, cols)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByEmail_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT column_name FROM information_schema.columns`).
		WithArgs(TruthTable).
		WillReturnRows(pgxmock.NewRows([]string{"column_name"}).AddRow("S.N.").AddRow(model.ColEmail))
	mock.ExpectQuery(`SELECT CAST\("S.N." AS TEXT\) .* FROM "truth" WHERE "Email ID \(unique\)" = \$1`).
		WithArgs("nobody@x.com").
		WillReturnRows(pgxmock.NewRows([]string{"S.N.", model.ColEmail}))

	rec, err := s.FindByEmail(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByEmail_NotMigrated(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT column_name FROM information_schema.columns`).
		WithArgs(TruthTable).
		WillReturnRows(pgxmock.NewRows([]string{"column_name"}))

	_, err := s.FindByEmail(context.Background(), "a@x.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run migrate first")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Search_UnknownFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT column_name FROM information_schema.columns`).
		WithArgs(TruthTable).
		WillReturnRows(pgxmock.NewRows([]string{"column_name"}).AddRow(model.ColEmail))

	_, _, err := s.Search(context.Background(), SearchQuery{Filters: map[string]string{"Nope": "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown filter column")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSelectList(t *testing.T) {
	assert.Equal(t,
		`CAST("S.N." AS TEXT) AS "S.N.", CAST("# Employees" AS TEXT) AS "# Employees"`,
		pgSelectList([]string{"S.N.", "# Employees"}))
}
