package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type ErrorCode string

const (
	ErrCodeInvalidQuestion  ErrorCode = "INVALID_QUESTION"
	ErrCodeGenerationFailed ErrorCode = "GENERATION_FAILED"
	ErrCodeExtractionFailed ErrorCode = "EXTRACTION_FAILED"
	ErrCodeSynthesisFailed  ErrorCode = "SYNTHESIS_FAILED"
	ErrCodePipelineCanceled ErrorCode = "PIPELINE_CANCELED"

	ErrCodeDatabaseError            ErrorCode = "DATABASE_ERROR"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeStatementNotAllowed      ErrorCode = "STATEMENT_NOT_ALLOWED"
	ErrCodeSchemaUnavailable        ErrorCode = "SCHEMA_UNAVAILABLE"

	ErrCodeModelUnavailable ErrorCode = "MODEL_UNAVAILABLE"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrCodeModelTimeout     ErrorCode = "MODEL_TIMEOUT"

	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// Stage names one step of the question-answering pipeline.
type Stage string

const (
	StageGenerate   Stage = "generate"
	StageExtract    Stage = "extract"
	StageExecute    Stage = "execute"
	StageSynthesize Stage = "synthesize"
)

// Sentinels matched with errors.Is against a *PipelineError.
var (
	ErrGenerationFailed = stderrors.New("GENERATION_FAILED")
	ErrExtractionFailed = stderrors.New("EXTRACTION_FAILED")
	ErrDatabase         = stderrors.New("DATABASE_ERROR")
	ErrSynthesisFailed  = stderrors.New("SYNTHESIS_FAILED")

	ErrModelUnavailable = stderrors.New("MODEL_UNAVAILABLE")
	ErrRateLimited      = stderrors.New("RATE_LIMITED")
	ErrModelTimeout     = stderrors.New("MODEL_TIMEOUT")
)

var stageSentinels = map[Stage]error{
	StageGenerate:   ErrGenerationFailed,
	StageExtract:    ErrExtractionFailed,
	StageExecute:    ErrDatabase,
	StageSynthesize: ErrSynthesisFailed,
}

// PipelineError is the only error type the orchestrator returns. Stage names
// the step that failed; Cause carries the underlying failure.
type PipelineError struct {
	Stage   Stage     `json:"stage"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func NewPipelineError(stage Stage, code ErrorCode, message string, cause error) *PipelineError {
	return &PipelineError{Stage: stage, Code: code, Message: message, Cause: cause}
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("PipelineError[%s/%s]: %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("PipelineError[%s/%s]: %s", e.Stage, e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

func (e *PipelineError) Is(target error) bool {
	return stageSentinels[e.Stage] == target
}

// DatabaseError is a driver failure reduced to its native code and message.
type DatabaseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("DatabaseError[%s]: %s", e.Code, e.Message)
}

func (e *DatabaseError) Is(target error) bool {
	return target == ErrDatabase
}

// ModelError is a classified language model failure.
type ModelError struct {
	Code     ErrorCode `json:"code"`
	Provider string    `json:"provider"`
	Message  string    `json:"message"`
	Cause    error     `json:"-"`
}

func NewModelError(code ErrorCode, provider, message string, cause error) *ModelError {
	return &ModelError{Code: code, Provider: provider, Message: message, Cause: cause}
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("ModelError[%s/%s]: %s", e.Provider, e.Code, e.Message)
}

func (e *ModelError) Unwrap() error {
	return e.Cause
}

func (e *ModelError) Is(target error) bool {
	switch e.Code {
	case ErrCodeModelUnavailable:
		return target == ErrModelUnavailable
	case ErrCodeRateLimited:
		return target == ErrRateLimited
	case ErrCodeModelTimeout:
		return target == ErrModelTimeout
	}
	return false
}

type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Invalid input",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewSchemaUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSchemaUnavailable,
		Message:   "Schema introspection failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "EXTERNAL_SERVICE_ERROR",
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "TIMEOUT_ERROR",
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ToStandardError normalizes any error reaching a host. The code of a
// wrapped model or database failure is kept in Metadata["causeCode"].
func ToStandardError(err error) *StandardError {
	if err == nil {
		return nil
	}

	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}

	var pe *PipelineError
	if !stderrors.As(err, &pe) {
		return &StandardError{
			Code:      ErrCodeInternal,
			Message:   "Unexpected error",
			Details:   err.Error(),
			Retryable: false,
			Timestamp: time.Now().UTC(),
		}
	}

	out := &StandardError{
		Code:      pe.Code,
		Message:   pe.Message,
		Metadata:  map[string]interface{}{"stage": string(pe.Stage)},
		Timestamp: time.Now().UTC(),
	}
	if pe.Cause != nil {
		out.Details = pe.Cause.Error()
	}

	causeCode := causeCodeOf(pe)
	if causeCode != "" {
		out.Metadata["causeCode"] = string(causeCode)
	}
	out.Retryable = IsRetryableErrorCode(pe.Code) || IsRetryableErrorCode(causeCode)
	return out
}

func causeCodeOf(pe *PipelineError) ErrorCode {
	var me *ModelError
	if stderrors.As(pe.Cause, &me) {
		return me.Code
	}
	var de *DatabaseError
	if stderrors.As(pe.Cause, &de) {
		switch ErrorCode(de.Code) {
		case ErrCodeQueryTimeout, ErrCodeStatementNotAllowed, ErrCodeDatabaseConnectionFailed:
			return ErrorCode(de.Code)
		}
		return ErrCodeDatabaseError
	}
	return ""
}

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidQuestion:          "INVALID_QUESTION",
	ErrCodeGenerationFailed:         "SQL_GENERATION_FAILED",
	ErrCodeExtractionFailed:         "SQL_EXTRACTION_FAILED",
	ErrCodeDatabaseError:            "SQL_EXECUTION_FAILED",
	ErrCodeStatementNotAllowed:      "SQL_STATEMENT_NOT_ALLOWED",
	ErrCodeSynthesisFailed:          "ANSWER_SYNTHESIS_FAILED",
	ErrCodePipelineCanceled:         "PIPELINE_CANCELED",
	ErrCodeDatabaseConnectionFailed: "DATABASE_CONNECTION_FAILED",
	ErrCodeQueryExecutionFailed:     "QUERY_EXECUTION_FAILED",
	ErrCodeQueryTimeout:             "QUERY_TIMEOUT",
	ErrCodeSchemaUnavailable:        "SCHEMA_UNAVAILABLE",
	ErrCodeModelUnavailable:         "MODEL_UNAVAILABLE",
	ErrCodeRateLimited:              "RATE_LIMITED",
	ErrCodeModelTimeout:             "MODEL_TIMEOUT",
	ErrCodeInvalidInput:             "INVALID_INPUT",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeModelUnavailable,
		ErrCodeRateLimited,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeSchemaUnavailable:
		return 3 // transient infrastructure

	case ErrCodeQueryTimeout,
		ErrCodeQueryExecutionFailed:
		return 2

	case ErrCodeModelTimeout:
		return 1

	default:
		return 0 // deterministic failures
	}
}

// RetryBudget is the number of retries a host may spend on stdErr.
func RetryBudget(stdErr *StandardError) int {
	if stdErr == nil || !stdErr.Retryable {
		return 0
	}
	if c, ok := stdErr.Metadata["causeCode"].(string); ok {
		if n := GetRetryCount(ErrorCode(c)); n > 0 {
			return n
		}
	}
	return GetRetryCount(stdErr.Code)
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for _, key := range []string{"stage", "causeCode"} {
		if v, ok := stdErr.Metadata[key]; ok {
			vars[key] = v
		}
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        RetryBudget(stdErr),
		ErrorVariables: vars,
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "MODEL") || strings.Contains(codeStr, "RATE") ||
		strings.Contains(codeStr, "GENERATION") || strings.Contains(codeStr, "SYNTHESIS"):
		return "AI"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") ||
		strings.Contains(codeStr, "STATEMENT") || strings.Contains(codeStr, "SCHEMA"):
		return "DATABASE"
	case strings.Contains(codeStr, "EXTRACTION"):
		return "PARSING"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

// HTTPStatus maps a pipeline failure to the status an HTTP host returns.
func HTTPStatus(err error) int {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		switch pe.Code {
		case ErrCodeInvalidQuestion:
			return http.StatusBadRequest
		case ErrCodePipelineCanceled:
			return http.StatusGatewayTimeout
		}
	}

	var me *ModelError
	if stderrors.As(err, &me) {
		switch me.Code {
		case ErrCodeRateLimited:
			return http.StatusTooManyRequests
		case ErrCodeModelTimeout:
			return http.StatusGatewayTimeout
		case ErrCodeModelUnavailable:
			return http.StatusServiceUnavailable
		}
	}

	var stdErr *StandardError
	if stderrors.As(err, &stdErr) && stdErr.Code == ErrCodeInvalidInput {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}
