package routing

// ModelPricing holds per-token costs for a model.
type ModelPricing struct {
	InputPerMToken  float64 `json:"input_per_m_token"`  // Cost per million input tokens
	OutputPerMToken float64 `json:"output_per_m_token"` // Cost per million output tokens
}

// DefaultPricingMatrix maps model ID prefixes to their pricing.
// Uses prefix matching (same pattern as DefaultContextWindows).
var DefaultPricingMatrix = map[string]ModelPricing{
	"openai/gpt-5-mini":           {InputPerMToken: 0.25, OutputPerMToken: 2.0},
	"openai/gpt-5-nano":           {InputPerMToken: 0.05, OutputPerMToken: 0.40},
	"openai/gpt-5":                {InputPerMToken: 1.25, OutputPerMToken: 10.0},
	"openai/gpt-4o-mini":          {InputPerMToken: 0.15, OutputPerMToken: 0.60},
	"openai/gpt-4o":               {InputPerMToken: 2.50, OutputPerMToken: 10.0},
	"openai/o3":                   {InputPerMToken: 2.0, OutputPerMToken: 8.0},
	"anthropic/claude-sonnet-4.5": {InputPerMToken: 3.0, OutputPerMToken: 15.0},
	"anthropic/claude-haiku-4.5":  {InputPerMToken: 0.80, OutputPerMToken: 4.0},
	"anthropic/claude-opus-4.1":   {InputPerMToken: 15.0, OutputPerMToken: 75.0},
	"deepseek/deepseek-chat":      {InputPerMToken: 0.27, OutputPerMToken: 1.10},
	"deepseek/deepseek-reasoner":  {InputPerMToken: 0.55, OutputPerMToken: 2.19},
	"meta-llama/llama-3.3-70b":    {InputPerMToken: 0.13, OutputPerMToken: 0.40},
	"meta-llama/llama-3.1-8b":     {InputPerMToken: 0.02, OutputPerMToken: 0.05},
	"google/gemini-2.5-flash":     {InputPerMToken: 0.15, OutputPerMToken: 0.60},
	"google/gemini-2.5-pro":       {InputPerMToken: 1.25, OutputPerMToken: 10.0},
	"qwen/qwen-2.5-72b":           {InputPerMToken: 0.12, OutputPerMToken: 0.39},
}

// DefaultContextWindows maps model ID prefixes to context window sizes in
// tokens. Prefix matching handles date-suffixed variants.
var DefaultContextWindows = map[string]int{
	"openai/gpt-5":      272_000,
	"openai/gpt-4o":     128_000,
	"openai/o3":         200_000,
	"anthropic/claude":  200_000,
	"deepseek/deepseek": 64_000,
	"meta-llama/llama":  128_000,
	"google/gemini-2.5": 1_000_000,
	"qwen/qwen-2.5":     131_072,
}

// PricingForModel returns the pricing for a given model using prefix matching.
// Falls back to a zero-cost default if no match found.
func PricingForModel(pricing map[string]ModelPricing, model string) ModelPricing {
	if model == "" {
		return ModelPricing{}
	}
	// Exact match first
	if p, ok := pricing[model]; ok {
		return p
	}
	// Prefix match (handles date-suffixed models like gpt-5-2026-01-15).
	// Longest prefix wins so gpt-5-nano never resolves via gpt-5.
	var best string
	for prefix := range pricing {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return pricing[best]
	}
	return ModelPricing{}
}

// ContextWindowForModel returns the context window for a model using prefix
// matching, or 0 when unknown.
func ContextWindowForModel(windows map[string]int, model string) int {
	if model == "" {
		return 0
	}
	if w, ok := windows[model]; ok {
		return w
	}
	var best string
	for prefix := range windows {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return windows[best]
	}
	return 0
}

// CalculateCost returns the estimated cost for a given model and token usage.
func CalculateCost(pricing map[string]ModelPricing, model string, inputTokens, outputTokens int) float64 {
	p := PricingForModel(pricing, model)
	inputCost := float64(inputTokens) / 1_000_000.0 * p.InputPerMToken
	outputCost := float64(outputTokens) / 1_000_000.0 * p.OutputPerMToken
	return inputCost + outputCost
}
