// Package synthesizer turns a question, its query and the query result into
// a natural-language answer.
package synthesizer

import (
	"context"
	"fmt"
	"strings"

	"sql-assistant/internal/common/database"
	apperrors "sql-assistant/internal/common/errors"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/llm"
	"sql-assistant/internal/models"
	"sql-assistant/internal/prompt"
)

type Synthesizer struct {
	model   llm.Client
	prompts *prompt.Engine
	logger  logger.Logger
}

func New(model llm.Client, prompts *prompt.Engine, log logger.Logger) *Synthesizer {
	return &Synthesizer{
		model:   model,
		prompts: prompts,
		logger:  log.WithFields(map[string]interface{}{"stage": apperrors.StageSynthesize}),
	}
}

// Synthesize calls the model exactly once. The answer is returned trimmed.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, q models.ValidatedQuery, result *models.ExecutionResult) (string, error) {
	p, err := s.prompts.Render(prompt.SynthesizeAnswer, prompt.Vars{
		"question": question,
		"query":    q.SQL,
		"result":   FormatResult(result),
	})
	if err != nil {
		return "", apperrors.NewPipelineError(apperrors.StageSynthesize, apperrors.ErrCodeSynthesisFailed,
			"render answer prompt", err)
	}

	answer, err := s.model.Complete(ctx, p)
	if err != nil {
		return "", apperrors.NewPipelineError(apperrors.StageSynthesize, apperrors.ErrCodeSynthesisFailed,
			"model call failed", err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", apperrors.NewPipelineError(apperrors.StageSynthesize, apperrors.ErrCodeSynthesisFailed,
			"model returned empty answer", nil)
	}

	s.logger.Debug("answer synthesized", map[string]interface{}{"length": len(answer)})
	return answer, nil
}

// FormatResult renders a result as a tab separated table with a header row.
// A failed result renders as its error text.
func FormatResult(result *models.ExecutionResult) string {
	if result == nil {
		return "(no result)"
	}
	if result.Failed() {
		return "Error: " + result.Failure.Error()
	}

	var b strings.Builder
	b.WriteString(strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		b.WriteByte('\n')
		for i, v := range row {
			if i > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(database.FormatValue(v))
		}
	}

	switch {
	case len(result.Rows) == 0:
		b.WriteString("\n(0 rows)")
	case result.Truncated:
		fmt.Fprintf(&b, "\n(showing the first %d rows; more rows were returned)", len(result.Rows))
	}
	return b.String()
}
