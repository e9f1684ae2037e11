package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GeminiOracle backs the engine with Google's Gemini API.
type GeminiOracle struct {
	client *genai.Client
	model  string
}

func NewGeminiOracle(ctx context.Context, apiKey, model string) (*GeminiOracle, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiOracle{client: client, model: model}, nil
}

func (o *GeminiOracle) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.Models.GenerateContent(ctx, o.model, genai.Text(user), &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0.3),
		MaxOutputTokens:   2048,
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	})
	if err != nil {
		if isRetryableAPIError(err) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrOracleTransient, err)
		}
		return "", fmt.Errorf("gemini request: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		// An empty candidate list usually means the backend hiccuped.
		return "", fmt.Errorf("%w: empty completion", ErrOracleTransient)
	}
	return text, nil
}

func isRetryableAPIError(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
}
