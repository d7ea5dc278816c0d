// Package pipeline sequences generation, extraction, execution and answer
// synthesis for one question.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "sql-assistant/internal/common/errors"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/common/metrics"
	"sql-assistant/internal/common/observability"
	"sql-assistant/internal/models"
)

type SchemaDescriber interface {
	DescribeSchema(ctx context.Context) (models.SchemaContext, error)
}

type QueryGenerator interface {
	Generate(ctx context.Context, question string, schema models.SchemaContext) (string, error)
}

type QueryExtractor interface {
	Extract(ctx context.Context, raw string) (*models.ValidatedQuery, error)
}

type QueryExecutor interface {
	Execute(ctx context.Context, q models.ValidatedQuery) *models.ExecutionResult
}

type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question string, q models.ValidatedQuery, result *models.ExecutionResult) (string, error)
}

// Dependencies are the stage implementations. Schema and Observability are
// optional.
type Dependencies struct {
	Schema        SchemaDescriber
	Generator     QueryGenerator
	Extractor     QueryExtractor
	Executor      QueryExecutor
	Synthesizer   AnswerSynthesizer
	Observability *observability.Observability
}

type Config struct {
	// Timeout bounds a whole run. Zero leaves the caller's deadline alone.
	Timeout time.Duration
}

type Orchestrator struct {
	cfg    Config
	deps   Dependencies
	obs    *observability.Observability
	logger logger.Logger
}

// step is one state transition: it reads the artifacts earlier steps left on
// the run and records its own.
type step struct {
	stage apperrors.Stage
	to    models.RunState
	run   func(ctx context.Context, run *models.PipelineRun) *apperrors.PipelineError
}

func New(cfg Config, deps Dependencies, log logger.Logger) (*Orchestrator, error) {
	switch {
	case deps.Generator == nil:
		return nil, fmt.Errorf("pipeline: generator is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("pipeline: extractor is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("pipeline: executor is required")
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("pipeline: synthesizer is required")
	}

	obs := deps.Observability
	if obs == nil {
		obs = observability.NewNoop()
	}

	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		obs:    obs,
		logger: log.WithFields(map[string]interface{}{"component": "pipeline"}),
	}, nil
}

// Answer runs the pipeline and returns only the answer text. A failure is
// always a *errors.PipelineError.
func (o *Orchestrator) Answer(ctx context.Context, question string) (string, error) {
	run, err := o.Run(ctx, question)
	if err != nil {
		return "", err
	}
	return run.Answer, nil
}

// Run returns the run record in every case. On failure the run is in state
// failed and the returned error is the same *errors.PipelineError as
// run.Failure.
func (o *Orchestrator) Run(ctx context.Context, question string) (*models.PipelineRun, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	run := models.NewPipelineRun(uuid.New().String(), question)
	log := o.logger.WithFields(map[string]interface{}{"runId": run.ID})
	log.Info("pipeline run started", map[string]interface{}{"question": question})

	ctx, endRun := o.obs.StartSpan(ctx, "pipeline.run", attribute.String("run.id", run.ID))

	for _, s := range o.steps() {
		if perr := o.runStep(ctx, s, run, log); perr != nil {
			run.Fail(perr)
			metrics.PipelineRuns.WithLabelValues(string(models.StateFailed)).Inc()
			o.obs.RecordRun(ctx, string(models.StateFailed))
			endRun(perr)

			log.Error("pipeline run failed", map[string]interface{}{
				"stage": perr.Stage,
				"code":  perr.Code,
				"error": perr.Error(),
			})
			return run, perr
		}
	}

	metrics.PipelineRuns.WithLabelValues(string(models.StateAnswered)).Inc()
	o.obs.RecordRun(ctx, string(models.StateAnswered))
	endRun(nil)

	log.Info("pipeline run answered", map[string]interface{}{
		"rows":       run.Result.RowCount,
		"durationMs": run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	})
	return run, nil
}

func (o *Orchestrator) steps() []step {
	return []step{
		{stage: apperrors.StageGenerate, to: models.StateGenerated, run: o.generate},
		{stage: apperrors.StageExtract, to: models.StateValidated, run: o.extract},
		{stage: apperrors.StageExecute, to: models.StateExecuted, run: o.execute},
		{stage: apperrors.StageSynthesize, to: models.StateAnswered, run: o.synthesize},
	}
}

func (o *Orchestrator) runStep(ctx context.Context, s step, run *models.PipelineRun, log logger.Logger) *apperrors.PipelineError {
	if err := ctx.Err(); err != nil {
		perr := apperrors.NewPipelineError(s.stage, apperrors.ErrCodePipelineCanceled,
			fmt.Sprintf("run canceled before %s", s.stage), err)
		metrics.PipelineStageFailures.WithLabelValues(string(s.stage), string(perr.Code)).Inc()
		return perr
	}

	stageCtx, end := o.obs.StartSpan(ctx, "pipeline."+string(s.stage),
		attribute.String("run.id", run.ID),
		attribute.String("stage", string(s.stage)),
	)
	start := time.Now()
	perr := s.run(stageCtx, run)
	elapsed := time.Since(start)

	metrics.PipelineStageDuration.WithLabelValues(string(s.stage)).Observe(elapsed.Seconds())

	if perr != nil {
		end(perr)
		o.obs.RecordStageDuration(ctx, string(s.stage), elapsed, "failed")
		metrics.PipelineStageFailures.WithLabelValues(string(s.stage), string(perr.Code)).Inc()
		return perr
	}
	end(nil)
	o.obs.RecordStageDuration(ctx, string(s.stage), elapsed, "success")

	if err := run.Advance(s.to); err != nil {
		return apperrors.NewPipelineError(s.stage, apperrors.ErrCodeInternal, "invalid state transition", err)
	}

	log.Debug("stage completed", map[string]interface{}{
		"stage":      s.stage,
		"state":      run.State,
		"durationMs": elapsed.Milliseconds(),
	})
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, run *models.PipelineRun) *apperrors.PipelineError {
	var schema models.SchemaContext
	if o.deps.Schema != nil {
		sc, err := o.deps.Schema.DescribeSchema(ctx)
		if err != nil {
			return apperrors.NewPipelineError(apperrors.StageGenerate, apperrors.ErrCodeSchemaUnavailable,
				"schema context unavailable", err)
		}
		schema = sc
	}

	raw, err := o.deps.Generator.Generate(ctx, run.Question, schema)
	if err != nil {
		return asPipelineError(apperrors.StageGenerate, apperrors.ErrCodeGenerationFailed, err)
	}
	run.RawOutput = raw
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, run *models.PipelineRun) *apperrors.PipelineError {
	q, err := o.deps.Extractor.Extract(ctx, run.RawOutput)
	if err != nil {
		return asPipelineError(apperrors.StageExtract, apperrors.ErrCodeExtractionFailed, err)
	}
	if q == nil {
		return apperrors.NewPipelineError(apperrors.StageExtract, apperrors.ErrCodeExtractionFailed,
			"extractor returned no statement", nil)
	}
	run.Query = q
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, run *models.PipelineRun) *apperrors.PipelineError {
	result := o.deps.Executor.Execute(ctx, *run.Query)
	if result == nil {
		return apperrors.NewPipelineError(apperrors.StageExecute, apperrors.ErrCodeDatabaseError,
			"executor returned no result", nil)
	}
	run.Result = result

	if result.Failed() {
		return apperrors.NewPipelineError(apperrors.StageExecute, executionCode(result.Failure),
			result.Failure.Message, result.Failure)
	}
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, run *models.PipelineRun) *apperrors.PipelineError {
	answer, err := o.deps.Synthesizer.Synthesize(ctx, run.Question, *run.Query, run.Result)
	if err != nil {
		return asPipelineError(apperrors.StageSynthesize, apperrors.ErrCodeSynthesisFailed, err)
	}
	run.Answer = answer
	return nil
}

// executionCode keeps the pipeline-level codes the hosts act on and folds
// every native driver code into DATABASE_ERROR.
func executionCode(failure *apperrors.DatabaseError) apperrors.ErrorCode {
	switch code := apperrors.ErrorCode(failure.Code); code {
	case apperrors.ErrCodeStatementNotAllowed, apperrors.ErrCodeQueryTimeout, apperrors.ErrCodeDatabaseConnectionFailed:
		return code
	}
	return apperrors.ErrCodeDatabaseError
}

// asPipelineError keeps a stage's own PipelineError and tags anything else
// with the stage that produced it.
func asPipelineError(stage apperrors.Stage, code apperrors.ErrorCode, err error) *apperrors.PipelineError {
	var pe *apperrors.PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return apperrors.NewPipelineError(stage, code, err.Error(), err)
}
