package executor

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	apperrors "sql-assistant/internal/common/errors"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() Config {
	return Config{ReadOnly: true, MaxRows: 100, QueryTimeout: 2 * time.Second}
}

func newMockExecutor(t *testing.T, cfg Config) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	return newDriverExecutor(t, "postgres", cfg)
}

func newDriverExecutor(t *testing.T, driver string, cfg Config) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, driver, cfg, logger.NewTestLogger(t)), mock
}

func selectQuery(sql string) models.ValidatedQuery {
	return models.ValidatedQuery{SQL: sql, Kind: models.KindSelect}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestExecute_Success(t *testing.T) {
	tests := []struct {
		name           string
		cfg            Config
		mockQuery      func(mock sqlmock.Sqlmock)
		validateOutput func(t *testing.T, r *models.ExecutionResult)
	}{
		{
			name: "rows with columns in order",
			cfg:  createTestConfig(),
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT x, name FROM t`).WillReturnRows(
					sqlmock.NewRows([]string{"x", "name"}).AddRow(int64(1), []byte("one")).AddRow(int64(2), "two"))
			},
			validateOutput: func(t *testing.T, r *models.ExecutionResult) {
				assert.False(t, r.Failed())
				assert.Equal(t, []string{"x", "name"}, r.Columns)
				assert.Equal(t, [][]interface{}{{int64(1), "one"}, {int64(2), "two"}}, r.Rows)
				assert.Equal(t, 2, r.RowCount)
				assert.False(t, r.Truncated)
			},
		},
		{
			name: "zero rows is success",
			cfg:  createTestConfig(),
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT x, name FROM t`).WillReturnRows(sqlmock.NewRows([]string{"x", "name"}))
			},
			validateOutput: func(t *testing.T, r *models.ExecutionResult) {
				assert.False(t, r.Failed())
				assert.Equal(t, []string{"x", "name"}, r.Columns)
				assert.NotNil(t, r.Rows)
				assert.Empty(t, r.Rows)
				assert.Equal(t, 0, r.RowCount)
			},
		},
		{
			name: "rows beyond max are dropped",
			cfg:  Config{ReadOnly: true, MaxRows: 1},
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT x, name FROM t`).WillReturnRows(
					sqlmock.NewRows([]string{"x", "name"}).AddRow(1, "a").AddRow(2, "b").AddRow(3, "c"))
			},
			validateOutput: func(t *testing.T, r *models.ExecutionResult) {
				assert.Equal(t, 1, r.RowCount)
				assert.True(t, r.Truncated)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newMockExecutor(t, tt.cfg)
			tt.mockQuery(mock)

			r := e.Execute(context.Background(), selectQuery("SELECT x, name FROM t"))
			require.NotNil(t, r)
			tt.validateOutput(t, r)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// ==========================
// Read-only guard
// ==========================

func TestExecute_ReadOnlyGuard(t *testing.T) {
	tests := []struct {
		name    string
		query   models.ValidatedQuery
		allowed bool
	}{
		{"select", selectQuery("SELECT 1"), true},
		{"with", models.ValidatedQuery{SQL: "WITH a AS (SELECT 1) SELECT * FROM a", Kind: models.KindWith}, true},
		{"literal mentioning delete", selectQuery("SELECT * FROM audit WHERE action = 'DELETE'"), true},
		{"column with keyword prefix", selectQuery("SELECT updated_at, created_by FROM t"), true},
		{"delete", models.ValidatedQuery{SQL: "DELETE FROM t", Kind: models.KindDelete}, false},
		{"update", models.ValidatedQuery{SQL: "UPDATE t SET a = 1", Kind: models.KindUpdate}, false},
		{"insert", models.ValidatedQuery{SQL: "INSERT INTO t VALUES (1)", Kind: models.KindInsert}, false},
		{"data modifying cte", models.ValidatedQuery{
			SQL:  "WITH gone AS (DELETE FROM t RETURNING *) SELECT count(*) FROM gone",
			Kind: models.KindWith,
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newMockExecutor(t, createTestConfig())
			if tt.allowed {
				mock.ExpectQuery(`.*`).WillReturnRows(sqlmock.NewRows([]string{"c"}))
			}

			r := e.Execute(context.Background(), tt.query)

			if tt.allowed {
				assert.False(t, r.Failed())
			} else {
				require.True(t, r.Failed())
				assert.Equal(t, string(apperrors.ErrCodeStatementNotAllowed), r.Failure.Code)
			}
			// a rejected statement never reaches the database
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecute_GuardPerDialect(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		sql     string
		allowed bool
		reason  string
	}{
		{
			name:   "mysql escaped quote hides a second statement",
			driver: "mysql",
			sql:    `SELECT id FROM users WHERE name = 'O\'Brien'; DELETE FROM users WHERE 'a' = 'a'`,
			reason: "exactly one statement",
		},
		{
			name:    "mysql escaped quote in a single statement",
			driver:  "mysql",
			sql:     `SELECT id FROM users WHERE name = 'O\'Brien; DELETE'`,
			allowed: true,
		},
		{
			name:    "postgres treats backslash as a plain character",
			driver:  "postgres",
			sql:     `SELECT id FROM files WHERE path = 'C:\'`,
			allowed: true,
		},
		{
			name:   "stacked statements",
			driver: "sqlite",
			sql:    "SELECT 1; SELECT 2",
			reason: "exactly one statement",
		},
		{name: "semicolon inside a literal", driver: "sqlite", sql: "SELECT 'a;b'", allowed: true},
		{name: "select into new table", driver: "postgres", sql: "SELECT * INTO backup FROM users", reason: "INTO"},
		{name: "into outfile", driver: "mysql", sql: "SELECT * FROM users INTO OUTFILE '/tmp/u.csv'", reason: "INTO"},
		{name: "nextval", driver: "postgres", sql: "SELECT nextval('order_seq')", reason: "nextval()"},
		{name: "setval", driver: "postgres", sql: "SELECT setval('order_seq', 1)", reason: "setval()"},
		{name: "quoted identifier named update", driver: "postgres", sql: `SELECT "update" FROM t`, allowed: true},
		{name: "backtick identifier named delete", driver: "mysql", sql: "SELECT `delete` FROM t", allowed: true},
		{name: "line comment mentioning delete", driver: "sqlite", sql: "SELECT a -- delete later\nFROM t", allowed: true},
		{name: "block comment mentioning drop", driver: "postgres", sql: "SELECT /* drop me */ a FROM t", allowed: true},
		{name: "mysql executable comment", driver: "mysql", sql: "SELECT a FROM t /*! INTO OUTFILE '/tmp/x' */", reason: "INTO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newDriverExecutor(t, tt.driver, createTestConfig())
			if tt.allowed {
				mock.ExpectQuery(`.*`).WillReturnRows(sqlmock.NewRows([]string{"c"}))
			}

			r := e.Execute(context.Background(), selectQuery(tt.sql))

			if tt.allowed {
				assert.False(t, r.Failed())
			} else {
				require.True(t, r.Failed())
				assert.Equal(t, string(apperrors.ErrCodeStatementNotAllowed), r.Failure.Code)
				assert.Contains(t, r.Failure.Message, tt.reason)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecute_StackedStatementsRejectedWhenNotReadOnly(t *testing.T) {
	e, mock := newDriverExecutor(t, "mysql", Config{ReadOnly: false})

	r := e.Execute(context.Background(), models.ValidatedQuery{
		SQL:  `UPDATE t SET name = 'it\'s'; DROP TABLE t`,
		Kind: models.KindUpdate,
	})
	require.True(t, r.Failed())
	assert.Equal(t, string(apperrors.ErrCodeStatementNotAllowed), r.Failure.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_WritesAllowedWhenNotReadOnly(t *testing.T) {
	e, mock := newMockExecutor(t, Config{ReadOnly: false})
	mock.ExpectQuery(`DELETE FROM t`).WillReturnRows(sqlmock.NewRows([]string{}))

	r := e.Execute(context.Background(), models.ValidatedQuery{SQL: "DELETE FROM t", Kind: models.KindDelete})
	assert.False(t, r.Failed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Driver errors
// ==========================

func TestExecute_DriverErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
	}{
		{"postgres sqlstate", &pq.Error{Code: "42P01", Message: `relation "t" does not exist`}, "42P01", `relation "t" does not exist`},
		{"mysql number", &mysql.MySQLError{Number: 1146, Message: "Table 'shop.t' doesn't exist"}, "1146", "Table 'shop.t' doesn't exist"},
		{"connection", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, string(apperrors.ErrCodeDatabaseConnectionFailed), ""},
		{"other", errors.New("syntax error at or near FORM"), string(apperrors.ErrCodeQueryExecutionFailed), "syntax error at or near FORM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newMockExecutor(t, createTestConfig())
			mock.ExpectQuery(`SELECT`).WillReturnError(tt.err)

			r := e.Execute(context.Background(), selectQuery("SELECT a FROM t"))
			require.True(t, r.Failed())
			assert.Equal(t, tt.wantCode, r.Failure.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, r.Failure.Message)
			}
			assert.True(t, errors.Is(r.Failure, apperrors.ErrDatabase))
		})
	}
}

func TestExecute_SQLiteErrorCode(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	e := New(db, "sqlite", createTestConfig(), logger.NewNoOpLogger())
	r := e.Execute(context.Background(), selectQuery("SELECT * FROM missing"))

	require.True(t, r.Failed())
	assert.Equal(t, "1", r.Failure.Code)
	assert.Contains(t, r.Failure.Message, "no such table")
}

func TestExecute_SQLiteRows(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE t (id INTEGER, name TEXT); INSERT INTO t VALUES (1, 'a'), (2, NULL)`)
	require.NoError(t, err)

	e := New(db, "sqlite", createTestConfig(), logger.NewNoOpLogger())
	r := e.Execute(context.Background(), selectQuery("SELECT id, name FROM t ORDER BY id"))

	require.False(t, r.Failed())
	assert.Equal(t, [][]interface{}{{int64(1), "a"}, {int64(2), nil}}, r.Rows)
}

func TestExecute_Timeout(t *testing.T) {
	e, mock := newMockExecutor(t, Config{QueryTimeout: 20 * time.Millisecond})
	mock.ExpectQuery(`SELECT`).WillDelayFor(time.Second).WillReturnRows(sqlmock.NewRows([]string{"x"}))

	r := e.Execute(context.Background(), selectQuery("SELECT pg_sleep(5)"))
	require.True(t, r.Failed())
	assert.Equal(t, string(apperrors.ErrCodeQueryTimeout), r.Failure.Code)
}
