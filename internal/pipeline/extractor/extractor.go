// Package extractor turns raw model output into exactly one SQL statement.
package extractor

import (
	"context"
	"strings"

	apperrors "sql-assistant/internal/common/errors"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/llm"
	"sql-assistant/internal/models"
	"sql-assistant/internal/prompt"
)

const (
	ModeParse = "parse"
	ModeModel = "model"
)

type Config struct {
	Mode string
	// Dialect selects the quoting rules of the target database.
	Dialect string
}

type Extractor struct {
	cfg     Config
	model   llm.Client
	prompts *prompt.Engine
	logger  logger.Logger
}

// New returns an extractor. model and prompts are only used in ModeModel and
// may be nil otherwise.
func New(cfg Config, model llm.Client, prompts *prompt.Engine, log logger.Logger) *Extractor {
	if cfg.Mode == "" {
		cfg.Mode = ModeParse
	}
	return &Extractor{
		cfg:     cfg,
		model:   model,
		prompts: prompts,
		logger:  log.WithFields(map[string]interface{}{"stage": apperrors.StageExtract, "mode": cfg.Mode}),
	}
}

// Extract returns the statement or a *errors.PipelineError tagged extract.
func (e *Extractor) Extract(ctx context.Context, raw string) (*models.ValidatedQuery, error) {
	if e.cfg.Mode != ModeModel {
		return e.parse(raw)
	}

	cleaned, err := e.cleanup(ctx, raw)
	if err != nil {
		return nil, err
	}

	q, perr := ParseDialect(cleaned, e.cfg.Dialect)
	if perr == nil {
		return q, nil
	}

	// the cleanup call sometimes answers in prose; the original text may
	// still hold a usable statement
	e.logger.Warn("cleaned output has no statement, parsing raw output", map[string]interface{}{
		"error": perr.Error(),
	})
	return e.parse(raw)
}

func (e *Extractor) parse(raw string) (*models.ValidatedQuery, error) {
	q, err := ParseDialect(raw, e.cfg.Dialect)
	if err != nil {
		return nil, apperrors.NewPipelineError(apperrors.StageExtract, apperrors.ErrCodeExtractionFailed,
			"no recognizable SQL statement in model output", err)
	}
	return q, nil
}

func (e *Extractor) cleanup(ctx context.Context, raw string) (string, error) {
	if e.model == nil || e.prompts == nil {
		return "", apperrors.NewPipelineError(apperrors.StageExtract, apperrors.ErrCodeExtractionFailed,
			"model extraction is not configured", nil)
	}

	p, err := e.prompts.Render(prompt.ExtractSQL, prompt.Vars{"not_formatted_query": raw})
	if err != nil {
		return "", apperrors.NewPipelineError(apperrors.StageExtract, apperrors.ErrCodeExtractionFailed,
			"render extraction prompt", err)
	}

	out, err := e.model.Complete(ctx, p)
	if err != nil {
		return "", apperrors.NewPipelineError(apperrors.StageExtract, apperrors.ErrCodeExtractionFailed,
			"model extraction call failed", err)
	}
	return strings.TrimSpace(out), nil
}
