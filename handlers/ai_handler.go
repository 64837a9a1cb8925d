package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/ai-orchestrator/middleware"
	"github.com/upb/ai-orchestrator/models"
	"github.com/upb/ai-orchestrator/services"
	"github.com/upb/ai-orchestrator/services/orchestrator"
	"github.com/upb/ai-orchestrator/services/providers"
	"github.com/upb/ai-orchestrator/utils"
)

const (
	// DefaultUsageWindow is used when /usage is called without ?since
	DefaultUsageWindow = 24 * time.Hour
)

// GenerateRequest is the body of POST /api/v1/ai/generate and /estimate
type GenerateRequest struct {
	Prompt       string   `json:"prompt" validate:"required"`
	Model        string   `json:"model,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty" validate:"gte=0"`
	Temperature  *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	TimeoutMs    int64    `json:"timeout_ms,omitempty" validate:"gte=0,lte=600000"`
}

// options converts the request into provider options for the given request ID
func (r GenerateRequest) options(ctx context.Context) providers.GenerateOptions {
	opts := providers.GenerateOptions{
		Model:        r.Model,
		MaxTokens:    r.MaxTokens,
		SystemPrompt: r.SystemPrompt,
		Timeout:      time.Duration(r.TimeoutMs) * time.Millisecond,
		Metadata:     map[string]string{},
	}
	if r.Temperature != nil {
		opts.Temperature = *r.Temperature
	}
	if requestID := middleware.GetRequestIDFromContext(ctx); requestID != "" {
		opts.Metadata[orchestrator.MetadataRequestID] = requestID
	}
	// the authenticated caller is forwarded to vendors as the end user
	if subject := middleware.GetSubjectFromContext(ctx); subject != "" {
		opts.Metadata[providers.MetadataUser] = subject
	}
	return opts
}

// GenerateResponse is the data of a successful generation
type GenerateResponse struct {
	RequestID      string  `json:"request_id,omitempty"`
	Text           string  `json:"text"`
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	TokensUsed     int     `json:"tokens_used"`
	Cost           float64 `json:"cost"`
	ResponseTimeMs int64   `json:"response_time_ms"`
}

// EstimateResponse lists per-provider estimates and the cheapest provider
type EstimateResponse struct {
	Estimates map[string]*providers.CostEstimate `json:"estimates"`
	Cheapest  string                             `json:"cheapest,omitempty"`
}

// ProviderInfo describes one registered provider
type ProviderInfo struct {
	Name   string   `json:"name"`
	Models []string `json:"models"`
}

// UsageResponse is the per-provider usage summary for a window
type UsageResponse struct {
	Since     time.Time                      `json:"since"`
	Providers []*models.ProviderUsageSummary `json:"providers"`
}

// Orchestrator is the subset of the orchestrator the HTTP layer drives
type Orchestrator interface {
	GenerateText(ctx context.Context, prompt string, opts providers.GenerateOptions) (*providers.GenerationResult, error)
	EstimateCosts(ctx context.Context, prompt string, opts providers.GenerateOptions) (map[string]*providers.CostEstimate, error)
	GetProviderHealth(ctx context.Context) (map[string]providers.ProviderHealth, error)
	Providers() []providers.Provider
}

// UsageReader reads persisted generation records
type UsageReader interface {
	Summary(ctx context.Context, since time.Time) ([]*models.ProviderUsageSummary, error)
	Recent(ctx context.Context, limit int) ([]*models.GenerationRecord, error)
}

// AIHandler exposes the orchestrator over HTTP
type AIHandler struct {
	orchestrator Orchestrator
	usage        UsageReader
	logger       *zap.Logger
	now          func() time.Time
}

// NewAIHandler creates a new AIHandler. usage may be nil when persistence is disabled.
func NewAIHandler(orch Orchestrator, usage UsageReader, logger *zap.Logger) *AIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIHandler{
		orchestrator: orch,
		usage:        usage,
		logger:       logger,
		now:          time.Now,
	}
}

// HandleGenerate handles POST /api/v1/ai/generate
func (h *AIHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.orchestrator.GenerateText(ctx, req.Prompt, req.options(ctx))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	response := GenerateResponse{
		RequestID:      middleware.GetRequestIDFromContext(ctx),
		Text:           result.Text,
		Provider:       result.ProviderName,
		Model:          result.Model,
		TokensUsed:     result.TokensUsed,
		Cost:           result.Cost,
		ResponseTimeMs: result.ResponseTimeMs,
	}
	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write generate response", zap.Error(err))
	}
}

// HandleEstimate handles POST /api/v1/ai/estimate
func (h *AIHandler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	estimates, err := h.orchestrator.EstimateCosts(ctx, req.Prompt, req.options(ctx))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	response := EstimateResponse{
		Estimates: estimates,
		Cheapest:  h.cheapest(estimates),
	}
	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write estimate response", zap.Error(err))
	}
}

// HandleListProviders handles GET /api/v1/ai/providers
func (h *AIHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	registered := h.orchestrator.Providers()

	infos := make([]ProviderInfo, 0, len(registered))
	for _, p := range registered {
		infos = append(infos, ProviderInfo{Name: p.Name(), Models: p.Models()})
	}

	if err := utils.WriteOK(w, infos); err != nil {
		h.logger.Error("failed to write providers response", zap.Error(err))
	}
}

// HandleProviderHealth handles GET /api/v1/ai/providers/health
func (h *AIHandler) HandleProviderHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.orchestrator.GetProviderHealth(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, health); err != nil {
		h.logger.Error("failed to write provider health response", zap.Error(err))
	}
}

// HandleUsage handles GET /api/v1/ai/usage?since=24h
func (h *AIHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		HandleServiceError(w, services.ErrUsageDisabled, h.logger)
		return
	}

	window := DefaultUsageWindow
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			_ = utils.WriteBadRequest(w, "since must be a positive duration such as 24h", nil)
			return
		}
		window = d
	}
	since := h.now().UTC().Add(-window)

	summary, err := h.usage.Summary(r.Context(), since)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to summarize usage", err), h.logger)
		return
	}

	if err := utils.WriteOK(w, UsageResponse{Since: since, Providers: summary}); err != nil {
		h.logger.Error("failed to write usage response", zap.Error(err))
	}
}

// HandleRecentUsage handles GET /api/v1/ai/usage/recent?limit=50
func (h *AIHandler) HandleRecentUsage(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		HandleServiceError(w, services.ErrUsageDisabled, h.logger)
		return
	}

	// zero or absent selects the repository default
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			_ = utils.WriteBadRequest(w, "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	records, err := h.usage.Recent(r.Context(), limit)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to list usage records", err), h.logger)
		return
	}

	if err := utils.WriteOK(w, records); err != nil {
		h.logger.Error("failed to write recent usage response", zap.Error(err))
	}
}

// decodeRequest parses and validates a GenerateRequest, writing a 400 on failure
func (h *AIHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (GenerateRequest, bool) {
	var req GenerateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return req, false
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		HandleServiceError(w, services.ErrEmptyPrompt, h.logger)
		return req, false
	}
	return req, true
}

// cheapest returns the lowest-cost provider; ties go to the earlier registration
func (h *AIHandler) cheapest(estimates map[string]*providers.CostEstimate) string {
	best := ""
	var bestCost float64
	for _, p := range h.orchestrator.Providers() {
		est, ok := estimates[p.Name()]
		if !ok || est == nil {
			continue
		}
		if best == "" || est.EstimatedCost < bestCost {
			best = p.Name()
			bestCost = est.EstimatedCost
		}
	}
	return best
}
