package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/upb/ai-orchestrator/services/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-3-5-haiku-20241022"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024

	// Claude tokenizers average slightly fewer characters per token
	charsPerToken = 3.5
)

// Adapter implements the Provider interface for the Anthropic Messages API
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
	pricing    providers.PricingTable
}

// NewAdapter creates a new Anthropic adapter
func NewAdapter(config providers.ProviderConfig) *Adapter {
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

	return &Adapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		pricing: providers.NewPricingTable(
			providers.ModelPricing{Model: "claude-3-5-sonnet-20241022", InputPerToken: 0.000003, OutputPerToken: 0.000015, ContextWindow: 200000},
			providers.ModelPricing{Model: "claude-3-5-haiku-20241022", InputPerToken: 0.0000008, OutputPerToken: 0.000004, ContextWindow: 200000},
			providers.ModelPricing{Model: "claude-3-opus-20240229", InputPerToken: 0.000015, OutputPerToken: 0.000075, ContextWindow: 200000},
			providers.ModelPricing{Model: "claude-3-haiku-20240307", InputPerToken: 0.00000025, OutputPerToken: 0.00000125, ContextWindow: 200000},
		),
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "anthropic"
}

// Models returns the priced Claude models
func (a *Adapter) Models() []string {
	return a.pricing.Models()
}

// GenerateText sends a Messages API request
func (a *Adapter) GenerateText(ctx context.Context, prompt string, opts providers.GenerateOptions) (*providers.GenerationResult, error) {
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

	req := messagesRequest{
		Model:     model,
		MaxTokens: opts.MaxTokens,
		System:    opts.SystemPrompt,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}
	if user := opts.Metadata[providers.MetadataUser]; user != "" {
		req.Metadata = &requestMetadata{UserID: user}
	}

	status, body, err := providers.DoJSON(ctx, a.httpClient, http.MethodPost, a.config.BaseURL+"/v1/messages", a.headers(), req)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", status, true, err)
	}
	if status != http.StatusOK {
		return nil, a.handleErrorResponse(status, body)
	}

	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", status, false, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "Response contained no text content", status, true, nil)
	}

	if resp.Model != "" {
		model = resp.Model
	}

	return &providers.GenerationResult{
		Text:           text.String(),
		Model:          model,
		ProviderName:   a.Name(),
		TokensUsed:     resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Cost:           pricing.Cost(resp.Usage.InputTokens, resp.Usage.OutputTokens),
		ResponseTimeMs: time.Since(startTime).Milliseconds(),
	}, nil
}

// EstimateCost predicts the cost from the prompt length and MaxTokens
func (a *Adapter) EstimateCost(prompt string, opts providers.GenerateOptions) (*providers.CostEstimate, error) {
	return a.pricing.Estimate(a.Name(), a.resolveModel(opts.Model), prompt, opts, charsPerToken)
}

// CheckHealth calls GET /v1/models
func (a *Adapter) CheckHealth(ctx context.Context) providers.ProviderHealth {
	return providers.RunHealthCheck(ctx, a.config.HealthCheckTimeout, func(ctx context.Context) error {
		status, body, err := providers.DoJSON(ctx, a.httpClient, http.MethodGet, a.config.BaseURL+"/v1/models", a.headers(), nil)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return a.handleErrorResponse(status, body)
		}
		return nil
	})
}

// IsAvailable reports whether the health check succeeds
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.CheckHealth(ctx).Available
}

func (a *Adapter) resolveModel(model string) string {
	if model == "" {
		return a.config.DefaultModel
	}
	return model
}

func (a *Adapter) headers() map[string]string {
	headers := map[string]string{
		"x-api-key":         a.config.APIKey,
		"anthropic-version": apiVersion,
	}
	for k, v := range a.config.Headers {
		headers[k] = v
	}
	return headers
}

func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.StatusError(a.Name(), statusCode, "", string(body))
	}

	provErr := providers.StatusError(a.Name(), statusCode, errResp.Error.Type, errResp.Error.Message)
	// overloaded_error is transient regardless of status
	if errResp.Error.Type == "overloaded_error" {
		provErr.Retryable = true
	}
	provErr.Cause = errors.New(errResp.Error.Message)
	return provErr
}

type messagesRequest struct {
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens"`
	System      string           `json:"system,omitempty"`
	Messages    []message        `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	Metadata    *requestMetadata `json:"metadata,omitempty"`
}

type requestMetadata struct {
	UserID string `json:"user_id"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
