// internal/workers/answer-question/handler.go
package answerquestion

import (
	"context"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"sql-assistant/internal/common/config"
	"sql-assistant/internal/common/errors"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/common/metrics"
	"sql-assistant/internal/common/validation"
	"sql-assistant/internal/models"
	"sql-assistant/internal/session"
)

const TaskType = "answer-question"

// reportTimeout bounds the call that completes or fails a job. It runs on its
// own context so a job whose pipeline ran out of time is still reported.
const reportTimeout = 10 * time.Second

// Runner is the pipeline as seen by the worker.
type Runner interface {
	Run(ctx context.Context, question string) (*models.PipelineRun, error)
}

type Handler struct {
	config       *Config
	runner       Runner
	sessions     session.Store
	validator    *validation.Validator
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Runner       Runner
	// Sessions is optional; when set, answers for jobs carrying a sessionId
	// are appended to that session's history.
	Sessions session.Store
	Logger   logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("%s: pipeline runner is required", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       workerConfig,
		runner:       opts.Runner,
		sessions:     opts.Sessions,
		validator:    validation.MustValidator(validation.QuestionSchema),
		errorHandler: errors.NewErrorHandler(log).WithMaxRetries(workerConfig.MaxRetries),
		logger:       log,
	}, nil
}

func (h *Handler) Config() *Config {
	return h.config
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()
	reportCtx, cancelReport := context.WithTimeout(context.Background(), reportTimeout)
	defer cancelReport()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err != nil {
		h.failJob(reportCtx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.failJob(reportCtx, client, job, err)
		return
	}

	h.completeJob(reportCtx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("failed to parse job variables: %v", err))
	}

	result := h.validator.Validate(variables)
	if !result.Valid {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("validation errors: %v", result.GetErrorMessages()))
	}

	input := &Input{Question: variables["question"].(string)}
	if sessionID, ok := variables["sessionId"].(string); ok {
		input.SessionID = sessionID
	}
	return input, nil
}

// Execute runs the pipeline for one question. The error is the pipeline's
// *errors.PipelineError.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	run, err := h.runner.Run(ctx, input.Question)
	if err != nil {
		return nil, err
	}

	output := &Output{RunID: run.ID, Answer: run.Answer}
	if run.Query != nil {
		output.Query = run.Query.SQL
	}
	if run.Result != nil {
		output.RowCount = run.Result.RowCount
	}

	if h.sessions != nil && input.SessionID != "" {
		in := models.Interaction{Question: input.Question, Response: run.Answer, AskedAt: time.Now().UTC()}
		if err := h.sessions.Append(ctx, input.SessionID, in); err != nil {
			h.logger.Warn("failed to record interaction", map[string]interface{}{
				"sessionId": input.SessionID,
				"error":     err.Error(),
			})
		}
	}

	h.logger.Info("question answered", map[string]interface{}{
		"runId":    output.RunID,
		"rowCount": output.RowCount,
	})
	return output, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.GetKey()).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		h.failJob(ctx, client, job, err)
		return
	}

	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	h.logger.Info("job completed", map[string]interface{}{
		"jobKey": job.GetKey(),
		"runId":  output.RunID,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	code := errors.ToStandardError(err).Code
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
