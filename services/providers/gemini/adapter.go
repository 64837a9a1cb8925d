package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upb/ai-orchestrator/services/providers"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.0-flash"
	charsPerToken  = 4.0
)

// Adapter implements the Provider interface for the Gemini generateContent API
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
	pricing    providers.PricingTable
}

// NewAdapter creates a new Gemini adapter
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
			providers.ModelPricing{Model: "gemini-2.0-flash", InputPerToken: 0.0000001, OutputPerToken: 0.0000004, ContextWindow: 1048576},
			providers.ModelPricing{Model: "gemini-1.5-flash", InputPerToken: 0.000000075, OutputPerToken: 0.0000003, ContextWindow: 1048576},
			providers.ModelPricing{Model: "gemini-1.5-pro", InputPerToken: 0.00000125, OutputPerToken: 0.000005, ContextWindow: 2097152},
		),
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "gemini"
}

// Models returns the priced Gemini models
func (a *Adapter) Models() []string {
	return a.pricing.Models()
}

// GenerateText calls generateContent for the resolved model.
// generateContent has no end-user field, so Metadata is not forwarded.
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

	req := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	}
	if opts.SystemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: opts.SystemPrompt}}}
	}
	if opts.MaxTokens > 0 || opts.Temperature > 0 {
		req.GenerationConfig = &generationConfig{}
		if opts.MaxTokens > 0 {
			req.GenerationConfig.MaxOutputTokens = opts.MaxTokens
		}
		if opts.Temperature > 0 {
			req.GenerationConfig.Temperature = &opts.Temperature
		}
	}

	endpoint := a.config.BaseURL + "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
	status, body, err := providers.DoJSON(ctx, a.httpClient, http.MethodPost, endpoint, a.headers(), req)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", status, true, err)
	}
	if status != http.StatusOK {
		return nil, a.handleErrorResponse(status, body)
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", status, false, err)
	}
	if len(resp.Candidates) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "Response contained no candidates", status, true, nil)
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}

	usage := resp.UsageMetadata
	return &providers.GenerationResult{
		Text:           text.String(),
		Model:          model,
		ProviderName:   a.Name(),
		TokensUsed:     usage.TotalTokenCount,
		Cost:           pricing.Cost(usage.PromptTokenCount, usage.CandidatesTokenCount),
		ResponseTimeMs: time.Since(startTime).Milliseconds(),
	}, nil
}

// EstimateCost predicts the cost from the prompt length and MaxTokens
func (a *Adapter) EstimateCost(prompt string, opts providers.GenerateOptions) (*providers.CostEstimate, error) {
	return a.pricing.Estimate(a.Name(), a.resolveModel(opts.Model), prompt, opts, charsPerToken)
}

// CheckHealth calls GET /v1beta/models
func (a *Adapter) CheckHealth(ctx context.Context) providers.ProviderHealth {
	return providers.RunHealthCheck(ctx, a.config.HealthCheckTimeout, func(ctx context.Context) error {
		status, body, err := providers.DoJSON(ctx, a.httpClient, http.MethodGet, a.config.BaseURL+"/v1beta/models?pageSize=1", a.headers(), nil)
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
		"x-goog-api-key": a.config.APIKey,
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

	provErr := providers.StatusError(a.Name(), statusCode, errResp.Error.Status, errResp.Error.Message)
	provErr.Cause = errors.New(errResp.Error.Message)
	return provErr
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
