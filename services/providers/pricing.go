package providers

import (
	"math"
	"sort"
	"unicode/utf8"
)

const (
	// DefaultCharsPerToken is the average English characters per token
	DefaultCharsPerToken = 4.0

	// DefaultOutputTokens is assumed when GenerateOptions.MaxTokens is unset
	DefaultOutputTokens = 500

	// CurrencyUSD is the currency every pricing table is expressed in
	CurrencyUSD = "USD"
)

// ModelPricing is the static price of one model, per token
type ModelPricing struct {
	Model          string
	InputPerToken  float64
	OutputPerToken float64
	ContextWindow  int
}

// Cost prices the given token counts
func (p ModelPricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.InputPerToken + float64(outputTokens)*p.OutputPerToken
}

// PricingTable maps model -> pricing for one provider
type PricingTable map[string]ModelPricing

// NewPricingTable builds a table from a list of model prices
func NewPricingTable(prices ...ModelPricing) PricingTable {
	table := make(PricingTable, len(prices))
	for _, p := range prices {
		table[p.Model] = p
	}
	return table
}

// Lookup returns the pricing for model or an UnknownModelError naming it
func (t PricingTable) Lookup(provider, model string) (ModelPricing, error) {
	pricing, ok := t[model]
	if !ok {
		return ModelPricing{}, NewUnknownModelError(provider, model)
	}
	return pricing, nil
}

// Models returns the priced models in lexical order
func (t PricingTable) Models() []string {
	models := make([]string, 0, len(t))
	for model := range t {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// Estimate prices a prompt for model using the chars-per-token heuristic.
// Output tokens come from opts.MaxTokens or DefaultOutputTokens.
func (t PricingTable) Estimate(provider, model, prompt string, opts GenerateOptions, charsPerToken float64) (*CostEstimate, error) {
	pricing, err := t.Lookup(provider, model)
	if err != nil {
		return nil, err
	}

	inputTokens := EstimateTokens(prompt, charsPerToken)
	if opts.SystemPrompt != "" {
		inputTokens += EstimateTokens(opts.SystemPrompt, charsPerToken)
	}

	outputTokens := opts.MaxTokens
	if outputTokens <= 0 {
		outputTokens = DefaultOutputTokens
	}

	return &CostEstimate{
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		EstimatedCost: pricing.Cost(inputTokens, outputTokens),
		Currency:      CurrencyUSD,
	}, nil
}

// EstimateTokens approximates the token count of text.
// The result is non-decreasing in the length of text.
func EstimateTokens(text string, charsPerToken float64) int {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	chars := utf8.RuneCountInString(text)
	if chars == 0 {
		return 0
	}
	return int(math.Ceil(float64(chars) / charsPerToken))
}
