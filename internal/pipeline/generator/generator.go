// Package generator asks the model for a SQL statement answering a question.
package generator

import (
	"context"
	"strings"

	apperrors "sql-assistant/internal/common/errors"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/llm"
	"sql-assistant/internal/models"
	"sql-assistant/internal/prompt"
)

const defaultDialect = "SQL"

// ExampleSource supplies few-shot question/SQL pairs.
type ExampleSource interface {
	Similar(ctx context.Context, question string) ([]models.Example, error)
}

type Config struct {
	// TopK is the row limit the prompt asks the model to apply.
	TopK int
}

type Generator struct {
	cfg      Config
	model    llm.Client
	prompts  *prompt.Engine
	examples ExampleSource
	logger   logger.Logger
}

// New returns a generator. examples may be nil.
func New(cfg Config, model llm.Client, prompts *prompt.Engine, examples ExampleSource, log logger.Logger) *Generator {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Generator{
		cfg:      cfg,
		model:    model,
		prompts:  prompts,
		examples: examples,
		logger:   log.WithFields(map[string]interface{}{"stage": apperrors.StageGenerate}),
	}
}

// Generate calls the model exactly once and returns its text unmodified.
func (g *Generator) Generate(ctx context.Context, question string, schema models.SchemaContext) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", apperrors.NewPipelineError(apperrors.StageGenerate, apperrors.ErrCodeInvalidQuestion,
			"question must not be empty", nil)
	}

	dialect := schema.Dialect
	if dialect == "" {
		dialect = defaultDialect
	}

	p, err := g.prompts.Render(prompt.GenerateSQL, prompt.Vars{
		"dialect":    dialect,
		"top_k":      g.cfg.TopK,
		"table_info": schema.Description,
		"examples":   g.fewShot(ctx, question),
		"question":   question,
	})
	if err != nil {
		return "", apperrors.NewPipelineError(apperrors.StageGenerate, apperrors.ErrCodeGenerationFailed,
			"render generation prompt", err)
	}

	raw, err := g.model.Complete(ctx, p)
	if err != nil {
		return "", apperrors.NewPipelineError(apperrors.StageGenerate, apperrors.ErrCodeGenerationFailed,
			"model call failed", err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", apperrors.NewPipelineError(apperrors.StageGenerate, apperrors.ErrCodeGenerationFailed,
			"model returned empty output", nil)
	}
	return raw, nil
}

// fewShot never fails the stage; a lookup error only costs the hints.
func (g *Generator) fewShot(ctx context.Context, question string) []models.Example {
	if g.examples == nil {
		return nil
	}

	found, err := g.examples.Similar(ctx, question)
	if err != nil {
		g.logger.Warn("example lookup failed, generating without examples", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return found
}
