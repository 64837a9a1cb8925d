package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/upb/ai-orchestrator/services/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	charsPerToken  = 4.0
)

// OpenAIAdapter implements the Provider interface for OpenAI
type OpenAIAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
	pricing    providers.PricingTable
}

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(config providers.ProviderConfig) *OpenAIAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HealthCheckTimeout == 0 {
		config.HealthCheckTimeout = providers.DefaultHealthCheckTimeout
	}

	return &OpenAIAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		pricing: pricingTable(),
	}
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Models returns all priced models
func (a *OpenAIAdapter) Models() []string {
	return a.pricing.Models()
}

// GenerateText performs a chat completion request with a single user message
func (a *OpenAIAdapter) GenerateText(ctx context.Context, prompt string, opts providers.GenerateOptions) (*providers.GenerationResult, error) {
	startTime := time.Now()

	model := a.resolveModel(opts.Model)
	pricing, err := a.pricing.Lookup(a.Name(), model)
	if err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	status, body, err := providers.DoJSON(ctx, a.httpClient, http.MethodPost, a.config.BaseURL+"/chat/completions", a.headers(), a.buildOpenAIRequest(model, prompt, opts))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", status, true, err)
	}
	if status != http.StatusOK {
		return nil, a.handleErrorResponse(status, body)
	}

	var openaiResp OpenAIChatResponse
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", status, false, err)
	}
	if len(openaiResp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "Response contained no choices", status, true, nil)
	}

	if openaiResp.Model != "" {
		model = openaiResp.Model
	}

	return &providers.GenerationResult{
		Text:           openaiResp.Choices[0].Message.Content,
		Model:          model,
		ProviderName:   a.Name(),
		TokensUsed:     openaiResp.Usage.TotalTokens,
		Cost:           pricing.Cost(openaiResp.Usage.PromptTokens, openaiResp.Usage.CompletionTokens),
		ResponseTimeMs: time.Since(startTime).Milliseconds(),
	}, nil
}

// EstimateCost estimates the cost for a given prompt
func (a *OpenAIAdapter) EstimateCost(prompt string, opts providers.GenerateOptions) (*providers.CostEstimate, error) {
	return a.pricing.Estimate(a.Name(), a.resolveModel(opts.Model), prompt, opts, charsPerToken)
}

// CheckHealth lists models as a low-cost health check
func (a *OpenAIAdapter) CheckHealth(ctx context.Context) providers.ProviderHealth {
	return providers.RunHealthCheck(ctx, a.config.HealthCheckTimeout, a.listModels)
}

// IsAvailable checks if the provider is currently available
func (a *OpenAIAdapter) IsAvailable(ctx context.Context) bool {
	return a.CheckHealth(ctx).Available
}

func (a *OpenAIAdapter) listModels(ctx context.Context) error {
	status, body, err := providers.DoJSON(ctx, a.httpClient, http.MethodGet, a.config.BaseURL+"/models", a.headers(), nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return a.handleErrorResponse(status, body)
	}
	return nil
}

func (a *OpenAIAdapter) resolveModel(model string) string {
	if model == "" {
		return a.config.DefaultModel
	}
	return model
}

func (a *OpenAIAdapter) headers() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + a.config.APIKey,
	}
	if a.config.OrgID != "" {
		headers["OpenAI-Organization"] = a.config.OrgID
	}
	for k, v := range a.config.Headers {
		headers[k] = v
	}
	return headers
}

// pricingTable returns per-token prices for supported models
func pricingTable() providers.PricingTable {
	return providers.NewPricingTable(
		providers.ModelPricing{
			Model:          "gpt-4",
			InputPerToken:  0.00003, // $0.03 per 1K tokens
			OutputPerToken: 0.00006, // $0.06 per 1K tokens
			ContextWindow:  8192,
		},
		providers.ModelPricing{
			Model:          "gpt-4-turbo",
			InputPerToken:  0.00001, // $0.01 per 1K tokens
			OutputPerToken: 0.00003, // $0.03 per 1K tokens
			ContextWindow:  128000,
		},
		providers.ModelPricing{
			Model:          "gpt-3.5-turbo",
			InputPerToken:  0.0000005, // $0.0005 per 1K tokens
			OutputPerToken: 0.0000015, // $0.0015 per 1K tokens
			ContextWindow:  16385,
		},
		providers.ModelPricing{
			Model:          "gpt-4o",
			InputPerToken:  0.000005, // $0.005 per 1K tokens
			OutputPerToken: 0.000015, // $0.015 per 1K tokens
			ContextWindow:  128000,
		},
		providers.ModelPricing{
			Model:          "gpt-4o-mini",
			InputPerToken:  0.00000015, // $0.00015 per 1K tokens
			OutputPerToken: 0.0000006,  // $0.0006 per 1K tokens
			ContextWindow:  128000,
		},
	)
}

// buildOpenAIRequest converts a prompt and options to OpenAI format
func (a *OpenAIAdapter) buildOpenAIRequest(model, prompt string, opts providers.GenerateOptions) *OpenAIChatRequest {
	openaiReq := &OpenAIChatRequest{
		Model: model,
	}

	if opts.SystemPrompt != "" {
		openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{Role: "system", Content: opts.SystemPrompt})
	}
	openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{Role: "user", Content: prompt})

	if opts.MaxTokens > 0 {
		openaiReq.MaxTokens = &opts.MaxTokens
	}
	if opts.Temperature > 0 {
		openaiReq.Temperature = &opts.Temperature
	}
	if user, ok := opts.Metadata[providers.MetadataUser]; ok && user != "" {
		openaiReq.User = &user
	}

	return openaiReq
}

// handleErrorResponse handles OpenAI error responses
func (a *OpenAIAdapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp OpenAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.StatusError(a.Name(), statusCode, "", string(body))
	}

	provErr := providers.StatusError(a.Name(), statusCode, errResp.Error.Type, errResp.Error.Message)
	provErr.Cause = errors.New(errResp.Error.Message)
	return provErr
}

// OpenAI-specific request/response types

type OpenAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	User        *string         `json:"user,omitempty"`
}

type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type OpenAIErrorResponse struct {
	Error OpenAIError `json:"error"`
}

type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
