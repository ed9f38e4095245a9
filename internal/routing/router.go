package routing

import (
	"fmt"
	"log"
)

// Router is the routing facade: it classifies a prompt and selects the
// cheapest capable model chain. Safe for concurrent use.
type Router struct {
	classifier *Classifier
	selector   *Selector
	catalog    *Catalog
}

// NewRouter wires a Router from scoring config, overrides, and a catalog.
// Catalog validation failures surface here rather than at request time.
func NewRouter(scoring ScoringConfig, overrides Overrides, catalog *Catalog) (*Router, error) {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	scorer := NewScorer(scoring)
	return &Router{
		classifier: NewClassifier(scorer, overrides),
		selector:   NewSelector(catalog),
		catalog:    catalog,
	}, nil
}

// Route produces a full routing decision for the given prompt and system
// text. maxOutputTokens of 0 means the caller did not set max_tokens; a
// conservative 1024 is assumed for cost and window math. Route returns an
// error only when opts.ForceModel names a model absent from the catalog.
func (r *Router) Route(prompt, system string, maxOutputTokens int, opts RouteOptions) (Decision, error) {
	estimatedInput := EstimateTokens(system) + EstimateTokens(prompt)
	if maxOutputTokens <= 0 {
		maxOutputTokens = 1024
	}

	cls := r.classifier.Classify(prompt, system, estimatedInput)

	if opts.ForceModel != "" {
		return r.routeForced(opts.ForceModel, opts.Profile, cls, estimatedInput, maxOutputTokens)
	}

	sel := r.selector.Select(cls.Tier, opts.Profile, cls.Agentic, estimatedInput, maxOutputTokens)

	decision := Decision{
		Model:                sel.Model,
		Chain:                sel.Chain,
		Tier:                 cls.Tier,
		Profile:              opts.Profile,
		Agentic:              cls.Agentic,
		Confidence:           cls.Confidence,
		Method:               MethodRules,
		Reasoning:            cls.Reasoning,
		CostEstimate:         sel.CostEstimate,
		BaselineCost:         sel.BaselineCost,
		Savings:              sel.Savings,
		EstimatedInputTokens: estimatedInput,
	}

	log.Printf("[Router] %s -> %s (tier=%s profile=%s conf=%.2f est=$%.6f save=%.0f%%)",
		truncate(prompt, 48), decision.Model, decision.Tier, decision.Profile,
		decision.Confidence, decision.CostEstimate, decision.Savings*100)

	return decision, nil
}

// routeForced handles an explicit model override. The forced model leads the
// chain and the rest of its tier's chain provides fallbacks.
func (r *Router) routeForced(model string, profile Profile, cls Classification, inputTokens, maxOutputTokens int) (Decision, error) {
	if !r.catalog.ContainsModel(model) {
		return Decision{}, fmt.Errorf("router: unknown model %q", model)
	}

	tier, ok := r.catalog.TierOfModel(profile, model)
	if !ok {
		// Model exists in the catalog but not under this profile; keep the
		// classified tier so fallbacks stay tier-appropriate.
		tier = cls.Tier
	}

	chain := []string{model}
	for _, m := range r.catalog.TierFor(profile, tier, false).Chain() {
		if m != model {
			chain = append(chain, m)
		}
	}

	cost := CalculateCost(r.catalog.Pricing, model, inputTokens, maxOutputTokens)
	baseline := CalculateCost(r.catalog.Pricing, r.catalog.Baseline, inputTokens, maxOutputTokens)
	var savings float64
	if profile != ProfilePremium && baseline > 0 {
		savings = 1 - cost/baseline
		if savings < 0 {
			savings = 0
		}
	}

	return Decision{
		Model:                model,
		Chain:                chain,
		Tier:                 tier,
		Profile:              profile,
		Agentic:              cls.Agentic,
		Confidence:           cls.Confidence,
		Method:               MethodRules,
		Reasoning:            fmt.Sprintf("explicit model override: %s", model),
		CostEstimate:         cost,
		BaselineCost:         baseline,
		Savings:              savings,
		EstimatedInputTokens: inputTokens,
	}, nil
}

// Catalog exposes the router's catalog for callers that list models.
func (r *Router) Catalog() *Catalog {
	return r.catalog
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
