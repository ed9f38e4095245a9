package routing

import (
	"log"
)

// Selection is the selector's output: a concrete model, its fallback chain,
// and the cost picture versus the baseline.
type Selection struct {
	Model        string   `json:"model"`
	Chain        []string `json:"chain"`
	CostEstimate float64  `json:"cost_estimate"`
	BaselineCost float64  `json:"baseline_cost"`
	Savings      float64  `json:"savings"`
}

// Selector picks the cheapest capable model chain for a classified request.
type Selector struct {
	catalog *Catalog
}

// NewSelector creates a Selector over the given catalog.
func NewSelector(catalog *Catalog) *Selector {
	return &Selector{catalog: catalog}
}

// Select resolves the tier table for the profile, filters the chain by
// context window, and computes cost estimates. inputTokens and
// maxOutputTokens drive both the window check and the cost math.
func (s *Selector) Select(tier Tier, profile Profile, agentic bool, inputTokens, maxOutputTokens int) Selection {
	tc := s.catalog.TierFor(profile, tier, agentic)
	chain := tc.Chain()

	// Drop models whose context window cannot hold the estimated total with
	// a 10% margin. If nothing survives, keep the unfiltered chain so the
	// request still has somewhere to go.
	estimatedTotal := inputTokens + maxOutputTokens
	needed := float64(estimatedTotal) * 1.1
	filtered := make([]string, 0, len(chain))
	for _, m := range chain {
		if w := ContextWindowForModel(s.catalog.Windows, m); float64(w) >= needed {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) == 0 {
		log.Printf("[Selector] No model in %s/%s chain fits ~%d tokens, keeping unfiltered chain",
			profile, tier, estimatedTotal)
		filtered = chain
	} else if len(filtered) < len(chain) {
		log.Printf("[Selector] Window filter trimmed %s/%s chain from %d to %d models (~%d tokens)",
			profile, tier, len(chain), len(filtered), estimatedTotal)
	}

	model := filtered[0]
	cost := CalculateCost(s.catalog.Pricing, model, inputTokens, maxOutputTokens)
	baseline := CalculateCost(s.catalog.Pricing, s.catalog.Baseline, inputTokens, maxOutputTokens)

	var savings float64
	if profile != ProfilePremium && baseline > 0 {
		savings = 1 - cost/baseline
		if savings < 0 {
			savings = 0
		}
	}

	return Selection{
		Model:        model,
		Chain:        filtered,
		CostEstimate: cost,
		BaselineCost: baseline,
		Savings:      savings,
	}
}
