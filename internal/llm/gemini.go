package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sql-assistant/internal/common/config"
	apperrors "sql-assistant/internal/common/errors"
)

// GeminiClient talks to Google Generative AI.
type GeminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGemini(ctx context.Context, cfg config.LLMConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(float32(cfg.Temperature))
	if cfg.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(cfg.MaxTokens))
	}

	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyGemini(err)
	}
	return geminiText(resp)
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", apperrors.NewModelError(apperrors.ErrCodeModelUnavailable, ProviderGemini, "empty response", nil)
	}

	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", apperrors.NewModelError(apperrors.ErrCodeModelUnavailable, ProviderGemini,
			fmt.Sprintf("no content, finish reason %s", cand.FinishReason), nil)
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

func classifyGemini(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Classify(ProviderGemini, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return httpModelError(ProviderGemini, gerr.Code, gerr.Message, err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return apperrors.NewModelError(apperrors.ErrCodeRateLimited, ProviderGemini, st.Message(), err)
		case codes.DeadlineExceeded:
			return apperrors.NewModelError(apperrors.ErrCodeModelTimeout, ProviderGemini, st.Message(), err)
		}
	}

	return apperrors.NewModelError(apperrors.ErrCodeModelUnavailable, ProviderGemini, err.Error(), err)
}

// httpModelError classifies a provider failure by HTTP status.
func httpModelError(provider string, code int, msg string, cause error) *apperrors.ModelError {
	switch {
	case code == http.StatusTooManyRequests:
		return apperrors.NewModelError(apperrors.ErrCodeRateLimited, provider, msg, cause)
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return apperrors.NewModelError(apperrors.ErrCodeModelTimeout, provider, msg, cause)
	default:
		return apperrors.NewModelError(apperrors.ErrCodeModelUnavailable, provider,
			fmt.Sprintf("status %d: %s", code, msg), cause)
	}
}
