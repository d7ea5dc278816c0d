// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sql-assistant/internal/common/config"
	"sql-assistant/internal/common/database"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/llm"
	"sql-assistant/internal/pipeline"
	"sql-assistant/internal/server"
	"sql-assistant/internal/session"
	answerquestion "sql-assistant/internal/workers/answer-question"
)

// stack is everything a host process would build at startup, backed by a
// sqlite file, miniredis and a scripted model.
type stack struct {
	cfg      *config.Config
	db       *database.SQLClient
	model    *llm.Fake
	sessions session.Store
	pipeline *pipeline.Orchestrator
}

const configTemplate = `
logging:
  level: debug
  format: console
llm:
  provider: fake
database:
  driver: sqlite
  path: %s
redis:
  address: %s
pipeline:
  read_only: true
  max_rows: 50
session:
  store: redis
  ttl: 60000
  max_history: 10
workers:
  answer-question:
    enabled: true
    timeout: 10000
    max_retries: 1
`

func newStack(t *testing.T, model *llm.Fake) *stack {
	t.Helper()

	mr := miniredis.RunT(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(configTemplate, filepath.Join(dir, "chinook.db"), mr.Addr())
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	cfg, err := config.LoadFromFile(cfgPath)
	require.NoError(t, err)

	db, err := database.NewSQL(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.DB.Exec(`CREATE TABLE albums (id INTEGER PRIMARY KEY, title TEXT NOT NULL, artist TEXT);
		INSERT INTO albums (title, artist) VALUES ('Kind of Blue', 'Miles Davis'), ('Blue Train', 'John Coltrane')`)
	require.NoError(t, err)

	rc, err := database.NewRedis(cfg.Redis)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	sessions, err := session.New(cfg.Session, rc.Client)
	require.NoError(t, err)

	log := logger.NewTestLogger(t)
	orch, err := pipeline.NewFromConfig(cfg, pipeline.Collaborators{DB: db, Model: model}, log)
	require.NoError(t, err)

	return &stack{cfg: cfg, db: db, model: model, sessions: sessions, pipeline: orch}
}

// ==========================
// HTTP host
// ==========================

func TestE2E_HTTPQueryAndHistory(t *testing.T) {
	model := llm.FakeTexts(
		"```sql\nSELECT COUNT(*) AS n FROM albums;\n```",
		"There are 2 albums.",
	)
	st := newStack(t, model)

	srv := server.New(st.cfg.Server, st.cfg.Session, st.pipeline, st.sessions, st.db, logger.NewTestLogger(t))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	resp, err := client.Post(ts.URL+"/query", "application/json", strings.NewReader(`{"question":"How many albums are there?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var answer map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&answer))
	assert.Equal(t, "success", answer["status"])
	assert.Equal(t, "There are 2 albums.", answer["response"])
	assert.Equal(t, "SELECT COUNT(*) AS n FROM albums", answer["query"])

	hist, err := client.Get(ts.URL + "/history")
	require.NoError(t, err)
	defer hist.Body.Close()
	require.Equal(t, http.StatusOK, hist.StatusCode)

	var history struct {
		History []struct {
			Question string `json:"question"`
			Response string `json:"response"`
		} `json:"history"`
	}
	require.NoError(t, json.NewDecoder(hist.Body).Decode(&history))
	require.Len(t, history.History, 1)
	assert.Equal(t, "How many albums are there?", history.History[0].Question)
	assert.Equal(t, "There are 2 albums.", history.History[0].Response)

	ready, err := client.Get(ts.URL + "/ready")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	prompts := model.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], `CREATE TABLE "albums"`)
	assert.Contains(t, prompts[0], "Kind of Blue")
	assert.Contains(t, prompts[1], "SQL Result: n\n2")
}

func TestE2E_HTTPExecutionFailure(t *testing.T) {
	model := llm.FakeTexts("SELECT * FROM tracks")
	st := newStack(t, model)

	srv := server.New(st.cfg.Server, st.cfg.Session, st.pipeline, st.sessions, st.db, logger.NewTestLogger(t))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/query", "application/json", strings.NewReader(`{"question":"List all tracks"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "execute", body["stage"])
	assert.Contains(t, body["message"], "no such table")

	// generation only; the synthesizer never ran
	assert.Equal(t, 1, model.Calls())
}

func TestE2E_ReadOnlyGuard(t *testing.T) {
	model := llm.FakeTexts("DELETE FROM albums")
	st := newStack(t, model)

	_, err := st.pipeline.Answer(context.Background(), "Remove every album")
	require.Error(t, err)

	var n int
	require.NoError(t, st.db.DB.QueryRow(`SELECT COUNT(*) FROM albums`).Scan(&n))
	assert.Equal(t, 2, n)
}

// ==========================
// Job worker host
// ==========================

func TestE2E_WorkerExecute(t *testing.T) {
	model := llm.FakeTexts(
		"SELECT title FROM albums WHERE artist = 'Miles Davis'",
		"Miles Davis recorded Kind of Blue.",
	)
	st := newStack(t, model)

	handler, err := answerquestion.NewHandler(answerquestion.HandlerOptions{
		AppConfig: st.cfg,
		Runner:    st.pipeline,
		Sessions:  st.sessions,
		Logger:    logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, handler.Config().MaxRetries)

	out, err := handler.Execute(context.Background(), &answerquestion.Input{
		Question:  "Which album did Miles Davis record?",
		SessionID: "bpmn-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "Miles Davis recorded Kind of Blue.", out.Answer)
	assert.Equal(t, 1, out.RowCount)
	assert.NotEmpty(t, out.RunID)

	history, err := st.sessions.List(context.Background(), "bpmn-42")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, out.Answer, history[0].Response)
}
