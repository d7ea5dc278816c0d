package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sql-assistant/internal/common/errors"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/llm"
	"sql-assistant/internal/models"
	"sql-assistant/internal/prompt"
)

// ==========================
// Deterministic parsing
// ==========================

func TestParse_Fixtures(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantSQL  string
		wantKind models.StatementKind
	}{
		{
			name:     "fenced with language tag",
			raw:      "```sql\nSELECT name FROM artists;\n```",
			wantSQL:  "SELECT name FROM artists",
			wantKind: models.KindSelect,
		},
		{
			name:     "fence surrounded by prose",
			raw:      "Here is the query:\n```postgresql\nSELECT COUNT(*) FROM albums\n```\nThis counts albums.",
			wantSQL:  "SELECT COUNT(*) FROM albums",
			wantKind: models.KindSelect,
		},
		{
			name:     "bare fence",
			raw:      "```\n  SELECT 1  \n```",
			wantSQL:  "SELECT 1",
			wantKind: models.KindSelect,
		},
		{
			name:     "single line fence",
			raw:      "```SELECT 1```",
			wantSQL:  "SELECT 1",
			wantKind: models.KindSelect,
		},
		{
			name:     "unterminated fence",
			raw:      "```sql\nSELECT 1",
			wantSQL:  "SELECT 1",
			wantKind: models.KindSelect,
		},
		{
			name:     "SQLQuery label",
			raw:      "SQLQuery: SELECT id FROM t LIMIT 5",
			wantSQL:  "SELECT id FROM t LIMIT 5",
			wantKind: models.KindSelect,
		},
		{
			name:     "language label on its own line",
			raw:      "sql\nSELECT 1",
			wantSQL:  "SELECT 1",
			wantKind: models.KindSelect,
		},
		{
			name:     "query chain output with result and answer",
			raw:      "SELECT COUNT(*) FROM \"Employee\"\nSQLResult: [(8,)]\nAnswer: There are 8 employees.",
			wantSQL:  `SELECT COUNT(*) FROM "Employee"`,
			wantKind: models.KindSelect,
		},
		{
			name:     "first of several statements",
			raw:      "SELECT 1; SELECT 2;",
			wantSQL:  "SELECT 1",
			wantKind: models.KindSelect,
		},
		{
			name:     "terminator inside string literal",
			raw:      "SELECT 'a;b' AS x; DROP TABLE t",
			wantSQL:  "SELECT 'a;b' AS x",
			wantKind: models.KindSelect,
		},
		{
			name:     "escaped quote",
			raw:      "SELECT 'it''s;' FROM t; DELETE FROM t",
			wantSQL:  "SELECT 'it''s;' FROM t",
			wantKind: models.KindSelect,
		},
		{
			name:     "terminator inside quoted identifier",
			raw:      "SELECT \"odd;name\" FROM t; SELECT 2",
			wantSQL:  `SELECT "odd;name" FROM t`,
			wantKind: models.KindSelect,
		},
		{
			name:     "terminator inside line comment",
			raw:      "SELECT a -- pick; a\nFROM t; SELECT 2",
			wantSQL:  "SELECT a -- pick; a\nFROM t",
			wantKind: models.KindSelect,
		},
		{
			name:     "terminator inside block comment",
			raw:      "SELECT /* ; */ 1; SELECT 2",
			wantSQL:  "SELECT /* ; */ 1",
			wantKind: models.KindSelect,
		},
		{
			name:     "prose before statement",
			raw:      "Sure! Here is what you asked for.\nSELECT title FROM albums",
			wantSQL:  "SELECT title FROM albums",
			wantKind: models.KindSelect,
		},
		{
			name:     "prose starting with a keyword",
			raw:      "Select the columns you need:\nSELECT a FROM t",
			wantSQL:  "SELECT a FROM t",
			wantKind: models.KindSelect,
		},
		{
			name:     "prose starting with with",
			raw:      "With this query you get the answer:\nSELECT 1",
			wantSQL:  "SELECT 1",
			wantKind: models.KindSelect,
		},
		{
			name:     "explanation paragraph after statement",
			raw:      "SELECT a\nFROM t\n\nThis returns all values of a.",
			wantSQL:  "SELECT a\nFROM t",
			wantKind: models.KindSelect,
		},
		{
			name:     "explanation on the next line",
			raw:      "SELECT name FROM users\nThis query returns every user name.",
			wantSQL:  "SELECT name FROM users",
			wantKind: models.KindSelect,
		},
		{
			name:     "comment line inside statement",
			raw:      "SELECT a\n\n-- comment\nFROM t",
			wantSQL:  "SELECT a\n\n-- comment\nFROM t",
			wantKind: models.KindSelect,
		},
		{
			name:     "comment line before explanation",
			raw:      "SELECT a FROM t\n-- every row\nThis lists every row of t.",
			wantSQL:  "SELECT a FROM t",
			wantKind: models.KindSelect,
		},
		{
			name:     "continuation line starting with a capital",
			raw:      "SELECT a\nFROM t\nOrder by a desc",
			wantSQL:  "SELECT a\nFROM t\nOrder by a desc",
			wantKind: models.KindSelect,
		},
		{
			name:     "backslash escaped quote",
			raw:      "```sql\nSELECT id FROM users WHERE name = 'O\\'Brien'; DELETE FROM users WHERE 'a' = 'a'\n```",
			wantSQL:  `SELECT id FROM users WHERE name = 'O\'Brien'`,
			wantKind: models.KindSelect,
		},
		{
			name:     "blank line inside statement",
			raw:      "SELECT a\n\nFROM t",
			wantSQL:  "SELECT a\n\nFROM t",
			wantKind: models.KindSelect,
		},
		{
			name:     "lower case",
			raw:      "select * from t",
			wantSQL:  "select * from t",
			wantKind: models.KindSelect,
		},
		{
			name:     "common table expression",
			raw:      "WITH top AS (SELECT 1 AS x) SELECT x FROM top;",
			wantSQL:  "WITH top AS (SELECT 1 AS x) SELECT x FROM top",
			wantKind: models.KindWith,
		},
		{
			name:     "update",
			raw:      "```\nUPDATE users SET active = 0 WHERE id = 4\n```",
			wantSQL:  "UPDATE users SET active = 0 WHERE id = 4",
			wantKind: models.KindUpdate,
		},
		{
			name:     "insert",
			raw:      "INSERT INTO t (a) VALUES (1)",
			wantSQL:  "INSERT INTO t (a) VALUES (1)",
			wantKind: models.KindInsert,
		},
		{
			name:     "delete",
			raw:      "DELETE FROM logs WHERE day < '2020-01-01';",
			wantSQL:  "DELETE FROM logs WHERE day < '2020-01-01'",
			wantKind: models.KindDelete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, q.SQL)
			assert.Equal(t, tt.wantKind, q.Kind)
			assert.NotContains(t, q.SQL, "```")
		})
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		raw     string
		wantSQL string
	}{
		{
			name:    "mysql backslash escape",
			driver:  "mysql",
			raw:     `SELECT id FROM users WHERE name = 'O\'Brien'; DELETE FROM users WHERE 'a' = 'a'`,
			wantSQL: `SELECT id FROM users WHERE name = 'O\'Brien'`,
		},
		{
			name:    "mysql backslash in double quoted string",
			driver:  "mysql",
			raw:     `SELECT "a\";b" FROM t; SELECT 2`,
			wantSQL: `SELECT "a\";b" FROM t`,
		},
		{
			name:    "mysql hash comment",
			driver:  "mysql",
			raw:     "SELECT a # pick; a\nFROM t; SELECT 2",
			wantSQL: "SELECT a # pick; a\nFROM t",
		},
		{
			name:    "postgres backslash is literal",
			driver:  "postgres",
			raw:     `SELECT 'C:\' AS dir; SELECT 2`,
			wantSQL: `SELECT 'C:\' AS dir`,
		},
		{
			name:    "postgres escape string",
			driver:  "postgres",
			raw:     `SELECT E'it\'s;' AS x; SELECT 2`,
			wantSQL: `SELECT E'it\'s;' AS x`,
		},
		{
			name:    "sqlite bracketed identifier",
			driver:  "sqlite",
			raw:     "SELECT [odd;name] FROM t; SELECT 2",
			wantSQL: "SELECT [odd;name] FROM t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseDialect(tt.raw, tt.driver)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, q.SQL)
			assert.Equal(t, models.KindSelect, q.Kind)
		})
	}
}

func TestParse_NoStatement(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"empty", "", "no SQL statement found"},
		{"prose only", "I cannot answer that question.", "no SQL statement found"},
		{"empty fence", "```\n\n```", "no SQL statement found"},
		{"ddl", "DROP TABLE users", "no SQL statement found"},
		{"unsupported statement", "```sql\nSHOW TABLES\n```", "no SQL statement found"},
		{"keyword in prose", "Update me when you know more", "incomplete UPDATE statement"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(tt.raw)
			assert.Nil(t, q)

			var nse *NoStatementError
			require.True(t, errors.As(err, &nse))
			assert.Equal(t, tt.raw, nse.Raw)
			assert.Equal(t, tt.reason, nse.Reason)
		})
	}
}

// ==========================
// Stage behaviour
// ==========================

func newPrompts(t *testing.T) *prompt.Engine {
	t.Helper()
	e, err := prompt.New()
	require.NoError(t, err)
	return e
}

func TestExtract_ParseMode(t *testing.T) {
	e := New(Config{}, nil, nil, logger.NewNoOpLogger())

	q, err := e.Extract(context.Background(), "```sql\nSELECT 1 AS x;\n```")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 AS x", q.SQL)

	_, err = e.Extract(context.Background(), "no sql here")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrExtractionFailed))

	var pe *apperrors.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, apperrors.StageExtract, pe.Stage)
	assert.Equal(t, apperrors.ErrCodeExtractionFailed, pe.Code)

	var nse *NoStatementError
	require.True(t, errors.As(err, &nse))
	assert.Equal(t, "no sql here", nse.Raw)
}

func TestExtract_ModelMode(t *testing.T) {
	model := llm.FakeTexts("SELECT name FROM artists")
	e := New(Config{Mode: ModeModel}, model, newPrompts(t), logger.NewTestLogger(t))

	q, err := e.Extract(context.Background(), "Sure, the query is `SELECT name FROM artists` and it lists artists")
	require.NoError(t, err)
	assert.Equal(t, "SELECT name FROM artists", q.SQL)

	require.Equal(t, 1, model.Calls())
	assert.Contains(t, model.Prompts()[0], "Text: Sure, the query is `SELECT name FROM artists`")
}

func TestExtract_ModelModeCleansFence(t *testing.T) {
	model := llm.FakeTexts("```sql\nSELECT 1;\n```")
	e := New(Config{Mode: ModeModel}, model, newPrompts(t), logger.NewNoOpLogger())

	q, err := e.Extract(context.Background(), "whatever")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", q.SQL)
}

func TestExtract_ModelModeFallsBackToRaw(t *testing.T) {
	model := llm.FakeTexts("I am not sure what you mean.")
	e := New(Config{Mode: ModeModel}, model, newPrompts(t), logger.NewNoOpLogger())

	q, err := e.Extract(context.Background(), "SQLQuery: SELECT 2")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", q.SQL)

	_, err = e.Extract(context.Background(), "nothing here either")
	assert.True(t, errors.Is(err, apperrors.ErrExtractionFailed))
}

func TestExtract_ModelModeFailure(t *testing.T) {
	down := apperrors.NewModelError(apperrors.ErrCodeModelUnavailable, "fake", "down", nil)
	model := llm.NewFake(llm.FakeResponse{Err: down})
	e := New(Config{Mode: ModeModel}, model, newPrompts(t), logger.NewNoOpLogger())

	_, err := e.Extract(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrExtractionFailed))
	assert.True(t, errors.Is(err, apperrors.ErrModelUnavailable))
}

func TestExtract_ModelModeNotConfigured(t *testing.T) {
	e := New(Config{Mode: ModeModel}, nil, nil, logger.NewNoOpLogger())

	_, err := e.Extract(context.Background(), "SELECT 1")
	assert.True(t, errors.Is(err, apperrors.ErrExtractionFailed))
}
