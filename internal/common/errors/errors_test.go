package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// PipelineError
// ==========================

func TestPipelineError_StageSentinels(t *testing.T) {
	tests := []struct {
		stage    Stage
		sentinel error
	}{
		{StageGenerate, ErrGenerationFailed},
		{StageExtract, ErrExtractionFailed},
		{StageExecute, ErrDatabase},
		{StageSynthesize, ErrSynthesisFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			err := NewPipelineError(tt.stage, ErrCodeInternal, "failed", nil)
			assert.True(t, stderrors.Is(err, tt.sentinel))

			for _, other := range tests {
				if other.stage != tt.stage {
					assert.False(t, stderrors.Is(err, other.sentinel))
				}
			}
		})
	}
}

func TestPipelineError_UnwrapsCause(t *testing.T) {
	cause := NewModelError(ErrCodeRateLimited, "gemini", "quota exhausted", nil)
	err := fmt.Errorf("answer: %w", NewPipelineError(StageGenerate, ErrCodeGenerationFailed, "model call failed", cause))

	assert.True(t, stderrors.Is(err, ErrGenerationFailed))
	assert.True(t, stderrors.Is(err, ErrRateLimited))
	assert.False(t, stderrors.Is(err, ErrModelTimeout))

	var me *ModelError
	require.True(t, stderrors.As(err, &me))
	assert.Equal(t, "gemini", me.Provider)

	assert.Contains(t, err.Error(), "generate/GENERATION_FAILED")
	assert.Contains(t, err.Error(), "quota exhausted")
}

func TestDatabaseError_IsDatabaseSentinel(t *testing.T) {
	de := &DatabaseError{Code: "42P01", Message: `relation "orders" does not exist`}
	assert.True(t, stderrors.Is(de, ErrDatabase))
	assert.Equal(t, `DatabaseError[42P01]: relation "orders" does not exist`, de.Error())
}

// ==========================
// Normalization
// ==========================

func TestToStandardError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      ErrorCode
		wantRetryable bool
		wantCause     string
	}{
		{
			name:          "rate limited generation",
			err:           NewPipelineError(StageGenerate, ErrCodeGenerationFailed, "model call failed", NewModelError(ErrCodeRateLimited, "openai", "429", nil)),
			wantCode:      ErrCodeGenerationFailed,
			wantRetryable: true,
			wantCause:     "RATE_LIMITED",
		},
		{
			name:          "bad sql",
			err:           NewPipelineError(StageExecute, ErrCodeDatabaseError, "query failed", &DatabaseError{Code: "1146", Message: "Table 'x' doesn't exist"}),
			wantCode:      ErrCodeDatabaseError,
			wantRetryable: false,
			wantCause:     "DATABASE_ERROR",
		},
		{
			name:          "query timeout",
			err:           NewPipelineError(StageExecute, ErrCodeDatabaseError, "query failed", &DatabaseError{Code: string(ErrCodeQueryTimeout), Message: "deadline"}),
			wantCode:      ErrCodeDatabaseError,
			wantRetryable: true,
			wantCause:     "QUERY_TIMEOUT",
		},
		{
			name:          "extraction",
			err:           NewPipelineError(StageExtract, ErrCodeExtractionFailed, "no statement", nil),
			wantCode:      ErrCodeExtractionFailed,
			wantRetryable: false,
		},
		{
			name:          "plain error",
			err:           stderrors.New("boom"),
			wantCode:      ErrCodeInternal,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			std := ToStandardError(tt.err)
			require.NotNil(t, std)
			assert.Equal(t, tt.wantCode, std.Code)
			assert.Equal(t, tt.wantRetryable, std.Retryable)
			if tt.wantCause != "" {
				assert.Equal(t, tt.wantCause, std.Metadata["causeCode"])
			}
		})
	}

	assert.Nil(t, ToStandardError(nil))
}

func TestConvertToBPMNError(t *testing.T) {
	err := NewPipelineError(StageGenerate, ErrCodeGenerationFailed, "model call failed",
		NewModelError(ErrCodeModelUnavailable, "gemini", "503", nil))

	bpmn := ConvertToBPMNError(ToStandardError(err))

	assert.Equal(t, "SQL_GENERATION_FAILED", bpmn.Code)
	assert.Equal(t, 3, bpmn.Retries)
	assert.True(t, bpmn.Retryable)

	vars := bpmn.ToErrorVariables()
	assert.Equal(t, "SQL_GENERATION_FAILED", vars["errorCode"])
	assert.Equal(t, "generate", vars["stage"])
	assert.Equal(t, "MODEL_UNAVAILABLE", vars["causeCode"])
	assert.Equal(t, "GENERATION_FAILED", vars["originalErrorCode"])
}

func TestConvertToBPMNError_UnmappedCodeFallsBack(t *testing.T) {
	bpmn := ConvertToBPMNError(&StandardError{Code: "SOMETHING_NEW", Message: "x"})
	assert.Equal(t, "SOMETHING_NEW", bpmn.Code)
	assert.Equal(t, 0, bpmn.Retries)
}

// ==========================
// Classification helpers
// ==========================

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "AI", GetErrorCategory(ErrCodeRateLimited))
	assert.Equal(t, "AI", GetErrorCategory(ErrCodeSynthesisFailed))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeStatementNotAllowed))
	assert.Equal(t, "PARSING", GetErrorCategory(ErrCodeExtractionFailed))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInvalidQuestion))
	assert.Equal(t, "OTHER", GetErrorCategory(ErrCodeInternal))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"empty question", NewPipelineError(StageGenerate, ErrCodeInvalidQuestion, "empty", nil), http.StatusBadRequest},
		{"rate limited", NewPipelineError(StageGenerate, ErrCodeGenerationFailed, "x", NewModelError(ErrCodeRateLimited, "gemini", "x", nil)), http.StatusTooManyRequests},
		{"model timeout", NewPipelineError(StageSynthesize, ErrCodeSynthesisFailed, "x", NewModelError(ErrCodeModelTimeout, "gemini", "x", nil)), http.StatusGatewayTimeout},
		{"canceled", NewPipelineError(StageExecute, ErrCodePipelineCanceled, "x", nil), http.StatusGatewayTimeout},
		{"invalid input", NewInvalidInputError("question missing"), http.StatusBadRequest},
		{"database", NewPipelineError(StageExecute, ErrCodeDatabaseError, "x", &DatabaseError{Code: "42601"}), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
