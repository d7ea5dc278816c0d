package models

import (
	"fmt"
	"time"

	apperrors "sql-assistant/internal/common/errors"
)

// RunState is the position of a PipelineRun in its linear state machine.
type RunState string

const (
	StateInit      RunState = "init"
	StateGenerated RunState = "generated"
	StateValidated RunState = "validated"
	StateExecuted  RunState = "executed"
	StateAnswered  RunState = "answered"
	StateFailed    RunState = "failed"
)

var nextState = map[RunState]RunState{
	StateInit:      StateGenerated,
	StateGenerated: StateValidated,
	StateValidated: StateExecuted,
	StateExecuted:  StateAnswered,
}

func (s RunState) Terminal() bool {
	return s == StateAnswered || s == StateFailed
}

// StatementKind is the leading keyword of a validated statement.
type StatementKind string

const (
	KindSelect StatementKind = "SELECT"
	KindWith   StatementKind = "WITH"
	KindInsert StatementKind = "INSERT"
	KindUpdate StatementKind = "UPDATE"
	KindDelete StatementKind = "DELETE"
)

// ReadOnly reports whether the statement kind cannot modify data.
func (k StatementKind) ReadOnly() bool {
	return k == KindSelect || k == KindWith
}

// SchemaContext describes the tables the generator may reference.
type SchemaContext struct {
	Dialect     string   `json:"dialect"`
	Tables      []string `json:"tables"`
	Description string   `json:"description"`
}

// ValidatedQuery holds exactly one SQL statement with no terminator and no
// formatting artifacts.
type ValidatedQuery struct {
	SQL  string        `json:"sql"`
	Kind StatementKind `json:"kind"`
}

// ExecutionResult is either a table or a database failure, never both.
type ExecutionResult struct {
	Columns   []string                 `json:"columns,omitempty"`
	Rows      [][]interface{}          `json:"rows,omitempty"`
	RowCount  int                      `json:"rowCount"`
	Truncated bool                     `json:"truncated,omitempty"`
	Duration  time.Duration            `json:"duration"`
	Failure   *apperrors.DatabaseError `json:"failure,omitempty"`
}

func (r *ExecutionResult) Failed() bool {
	return r != nil && r.Failure != nil
}

// Example is a curated question/SQL pair used as a few-shot hint.
type Example struct {
	Question string  `json:"question"`
	SQL      string  `json:"sql"`
	Score    float64 `json:"score,omitempty"`
}

// PipelineRun records one invocation of the question-answering pipeline.
type PipelineRun struct {
	ID         string                   `json:"id"`
	Question   string                   `json:"question"`
	RawOutput  string                   `json:"rawOutput,omitempty"`
	Query      *ValidatedQuery          `json:"query,omitempty"`
	Result     *ExecutionResult         `json:"result,omitempty"`
	Answer     string                   `json:"answer,omitempty"`
	State      RunState                 `json:"state"`
	Failure    *apperrors.PipelineError `json:"failure,omitempty"`
	StartedAt  time.Time                `json:"startedAt"`
	FinishedAt time.Time                `json:"finishedAt,omitempty"`
}

func NewPipelineRun(id, question string) *PipelineRun {
	return &PipelineRun{
		ID:        id,
		Question:  question,
		State:     StateInit,
		StartedAt: time.Now().UTC(),
	}
}

// Advance moves the run to the next state. Skipping a state or leaving a
// terminal state is an error.
func (r *PipelineRun) Advance(to RunState) error {
	if r.State.Terminal() {
		return fmt.Errorf("run %s already %s", r.ID, r.State)
	}
	if nextState[r.State] != to {
		return fmt.Errorf("run %s cannot move from %s to %s", r.ID, r.State, to)
	}
	r.State = to
	if to.Terminal() {
		r.FinishedAt = time.Now().UTC()
	}
	return nil
}

func (r *PipelineRun) Fail(err *apperrors.PipelineError) {
	r.State = StateFailed
	r.Failure = err
	r.FinishedAt = time.Now().UTC()
}
