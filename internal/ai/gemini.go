package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	DefaultGeminiModel  = "gemini-flash-lite-latest"
	resourceExhausted   = "RESOURCE_EXHAUSTED"
	geminiModelResource = "models/"
)

// GeminiConfig configures the Gemini client. Endpoint overrides the API base URL and
// HTTPClient the transport; both are meant for tests against a local server.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Endpoint   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// GeminiClient calls models.generateContent on the Gemini Developer API.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiClient constructs the client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("ai: gemini api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultGeminiModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: endpoint}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("ai: create gemini client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiClient{client: client, model: strings.TrimPrefix(model, geminiModelResource), logger: logger}, nil
}

// Complete sends the prompt and returns the concatenated text of the first candidate.
func (g *GeminiClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	parts := []*genai.Part{{Text: prompt.Text}}
	if prompt.Attachment != nil && len(prompt.Attachment.Data) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: prompt.Attachment.MIMEType,
				Data:     prompt.Attachment.Data,
			},
		})
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, generationConfig(prompt.Options))
	if err != nil {
		return "", classifyGeminiError(err)
	}
	text := responseText(response)
	if strings.TrimSpace(text) == "" {
		g.logger.Debug("gemini returned no text", zap.String("model", g.model))
		return "", ErrEmptyResponse
	}
	return text, nil
}

func generationConfig(options GenerationOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if options.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(options.Temperature))
	}
	if options.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(options.TopK))
	}
	if options.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(options.TopP))
	}
	if options.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(options.MaxOutputTokens)
	}
	if options.JSONResponse {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// responseText skips thought parts; only answer text is returned.
func responseText(response *genai.GenerateContentResponse) string {
	if response == nil {
		return ""
	}
	for _, candidate := range response.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		var builder strings.Builder
		for _, part := range candidate.Content.Parts {
			if part != nil && !part.Thought {
				builder.WriteString(part.Text)
			}
		}
		if builder.Len() > 0 {
			return builder.String()
		}
	}
	return ""
}

func classifyGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	apiErr, ok := asAPIError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if apiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	}
	if apiErr.Status == resourceExhausted || strings.Contains(apiErr.Message, resourceExhausted) {
		return fmt.Errorf("%w: %s", ErrQuotaExhausted, apiErr.Message)
	}
	return fmt.Errorf("%w: status %d", ErrUpstream, apiErr.Code)
}

func asAPIError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var pointer *genai.APIError
	if errors.As(err, &pointer) && pointer != nil {
		return *pointer, true
	}
	return genai.APIError{}, false
}
