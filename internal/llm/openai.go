package llm

import (
	"context"
	"errors"
	"strings"

	"sql-assistant/internal/common/config"
	apperrors "sql-assistant/internal/common/errors"
	httpclient "sql-assistant/internal/common/http"
)

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	http        *httpclient.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func NewOpenAI(cfg config.LLMConfig) *OpenAIClient {
	return &OpenAIClient{
		http:        httpclient.NewClient(0),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var resp chatResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return "", httpModelError(ProviderOpenAI, se.StatusCode, se.Body, err)
		}
		return "", Classify(ProviderOpenAI, err)
	}

	if len(resp.Choices) == 0 {
		return "", apperrors.NewModelError(apperrors.ErrCodeModelUnavailable, ProviderOpenAI, "response has no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}
