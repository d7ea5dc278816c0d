// internal/workers/answer-question/models.go
package answerquestion

type Input struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId,omitempty"`
}

type Output struct {
	RunID    string `json:"runId"`
	Query    string `json:"query"`
	Answer   string `json:"answer"`
	RowCount int    `json:"rowCount"`
}
