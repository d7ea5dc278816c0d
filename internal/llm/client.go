// Package llm provides the language model clients the pipeline stages call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sql-assistant/internal/common/config"
	apperrors "sql-assistant/internal/common/errors"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/common/metrics"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderFake   = "fake"
)

// Client sends one prompt and returns the generated text. Implementations
// keep no per-call state and are safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// New builds the client named by cfg.Provider wrapped with metrics and
// logging. The returned close func releases provider resources.
func New(ctx context.Context, cfg config.LLMConfig, log logger.Logger) (Client, func() error, error) {
	var (
		client Client
		closer = func() error { return nil }
	)

	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini:
		g, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		client, closer = g, g.Close
	case ProviderOpenAI:
		client = NewOpenAI(cfg)
	case ProviderFake:
		client = NewFake()
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	return Instrument(client, cfg.Provider, config.Millis(cfg.Timeout), log), closer, nil
}

type instrumented struct {
	next     Client
	provider string
	timeout  time.Duration
	logger   logger.Logger
}

// Instrument bounds each call by timeout (when > 0), normalizes failures
// into *errors.ModelError and records the outcome.
func Instrument(next Client, provider string, timeout time.Duration, log logger.Logger) Client {
	return &instrumented{
		next:     next,
		provider: provider,
		timeout:  timeout,
		logger:   log.With(map[string]interface{}{"provider": provider}),
	}
}

func (c *instrumented) Complete(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.next.Complete(ctx, prompt)
	if err != nil {
		me := Classify(c.provider, err)
		metrics.ModelCalls.WithLabelValues(c.provider, string(me.Code)).Inc()
		c.logger.Warn("model call failed", map[string]interface{}{
			"code":       me.Code,
			"error":      err.Error(),
			"durationMs": time.Since(start).Milliseconds(),
		})
		return "", me
	}

	metrics.ModelCalls.WithLabelValues(c.provider, "success").Inc()
	c.logger.Debug("model call completed", map[string]interface{}{
		"promptChars": len(prompt),
		"outputChars": len(text),
		"durationMs":  time.Since(start).Milliseconds(),
	})
	return text, nil
}

// Classify maps any client failure onto a *errors.ModelError. Errors that are
// already classified keep their code.
func Classify(provider string, err error) *apperrors.ModelError {
	var me *apperrors.ModelError
	if errors.As(err, &me) {
		return me
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewModelError(apperrors.ErrCodeModelTimeout, provider, "model call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.NewModelError(apperrors.ErrCodeModelTimeout, provider, "model call canceled", err)
	}
	return apperrors.NewModelError(apperrors.ErrCodeModelUnavailable, provider, err.Error(), err)
}
