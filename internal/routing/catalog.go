package routing

import (
	"fmt"
)

// TierConfig maps a tier to its primary model and ordered fallbacks.
type TierConfig struct {
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// Chain returns the full fallback chain for the tier: primary first, then
// fallbacks in order.
func (tc TierConfig) Chain() []string {
	chain := make([]string, 0, 1+len(tc.Fallbacks))
	chain = append(chain, tc.Primary)
	chain = append(chain, tc.Fallbacks...)
	return chain
}

// Catalog holds the model tables the selector works from: per-profile tier
// tables, the agentic overlay, pricing, and context windows.
type Catalog struct {
	// Tiers maps profile -> tier -> models.
	Tiers map[Profile]map[Tier]TierConfig `json:"tiers"`

	// AgenticTiers overlays Tiers for agentic workloads. Only consulted for
	// ProfileAuto; explicit cost profiles keep their own tables.
	AgenticTiers map[Tier]TierConfig `json:"agentic_tiers"`

	// Baseline is the model used to compute the savings comparison.
	Baseline string `json:"baseline"`

	// EmergencyModel is the free model of last resort after the chain is
	// exhausted.
	EmergencyModel string `json:"emergency_model"`

	Pricing map[string]ModelPricing `json:"pricing"`
	Windows map[string]int          `json:"windows"`
}

// DefaultCatalog returns the built-in model tables. Chains under the cost
// profiles (and the agentic overlay) are ordered cheapest-capable first, so a
// fallback never costs less than the model that just failed; costs are
// compared at a reference shape of 10k input / 1k output tokens. Premium is
// the exception: its chains are ordered by quality and report zero savings.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Tiers: map[Profile]map[Tier]TierConfig{
			ProfileAuto: {
				TierSimple:    {Primary: "openai/gpt-5-nano", Fallbacks: []string{"meta-llama/llama-3.3-70b", "google/gemini-2.5-flash"}},
				TierMedium:    {Primary: "deepseek/deepseek-chat", Fallbacks: []string{"openai/gpt-5-mini", "anthropic/claude-haiku-4.5"}},
				TierComplex:   {Primary: "openai/gpt-5", Fallbacks: []string{"google/gemini-2.5-pro", "anthropic/claude-sonnet-4.5"}},
				TierReasoning: {Primary: "deepseek/deepseek-reasoner", Fallbacks: []string{"openai/o3", "anthropic/claude-opus-4.1"}},
			},
			ProfileFree: {
				TierSimple:    {Primary: "meta-llama/llama-3.1-8b", Fallbacks: []string{"qwen/qwen-2.5-72b"}},
				TierMedium:    {Primary: "qwen/qwen-2.5-72b", Fallbacks: []string{"meta-llama/llama-3.3-70b"}},
				TierComplex:   {Primary: "meta-llama/llama-3.3-70b", Fallbacks: []string{"deepseek/deepseek-chat"}},
				TierReasoning: {Primary: "deepseek/deepseek-reasoner", Fallbacks: []string{"openai/o3"}},
			},
			ProfileEco: {
				TierSimple:    {Primary: "meta-llama/llama-3.1-8b", Fallbacks: []string{"openai/gpt-5-nano", "google/gemini-2.5-flash"}},
				TierMedium:    {Primary: "google/gemini-2.5-flash", Fallbacks: []string{"deepseek/deepseek-chat", "openai/gpt-5-mini"}},
				TierComplex:   {Primary: "openai/gpt-5", Fallbacks: []string{"google/gemini-2.5-pro", "anthropic/claude-sonnet-4.5"}},
				TierReasoning: {Primary: "deepseek/deepseek-reasoner", Fallbacks: []string{"openai/o3"}},
			},
			ProfilePremium: {
				TierSimple:    {Primary: "openai/gpt-5", Fallbacks: []string{"anthropic/claude-sonnet-4.5"}},
				TierMedium:    {Primary: "anthropic/claude-sonnet-4.5", Fallbacks: []string{"openai/gpt-5"}},
				TierComplex:   {Primary: "anthropic/claude-opus-4.1", Fallbacks: []string{"openai/gpt-5", "anthropic/claude-sonnet-4.5"}},
				TierReasoning: {Primary: "anthropic/claude-opus-4.1", Fallbacks: []string{"openai/o3"}},
			},
		},
		AgenticTiers: map[Tier]TierConfig{
			TierSimple:    {Primary: "openai/gpt-5-mini", Fallbacks: []string{"anthropic/claude-haiku-4.5"}},
			TierMedium:    {Primary: "openai/gpt-5", Fallbacks: []string{"anthropic/claude-sonnet-4.5"}},
			TierComplex:   {Primary: "openai/gpt-5", Fallbacks: []string{"anthropic/claude-sonnet-4.5", "anthropic/claude-opus-4.1"}},
			TierReasoning: {Primary: "openai/o3", Fallbacks: []string{"anthropic/claude-sonnet-4.5", "anthropic/claude-opus-4.1"}},
		},
		Baseline:       "anthropic/claude-opus-4.1",
		EmergencyModel: "meta-llama/llama-3.1-8b",
		Pricing:        DefaultPricingMatrix,
		Windows:        DefaultContextWindows,
	}
}

// Validate checks the catalog for internal consistency: every profile has
// all four tiers, every chain has at least one fallback with no duplicates
// and no primary repeated in its own fallbacks, every referenced model has
// pricing and a context window, and the baseline and emergency models are
// known.
func (c *Catalog) Validate() error {
	if c.Baseline == "" {
		return fmt.Errorf("catalog: baseline model is required")
	}
	if c.EmergencyModel == "" {
		return fmt.Errorf("catalog: emergency model is required")
	}

	allTiers := []Tier{TierSimple, TierMedium, TierComplex, TierReasoning}
	allProfiles := []Profile{ProfileAuto, ProfileFree, ProfileEco, ProfilePremium}

	for _, p := range allProfiles {
		table, ok := c.Tiers[p]
		if !ok {
			return fmt.Errorf("catalog: missing tier table for profile %s", p)
		}
		for _, t := range allTiers {
			if err := c.checkChain(table[t]); err != nil {
				return fmt.Errorf("catalog: profile %s tier %s: %w", p, t, err)
			}
		}
	}
	for _, t := range allTiers {
		if err := c.checkChain(c.AgenticTiers[t]); err != nil {
			return fmt.Errorf("catalog: agentic tier %s: %w", t, err)
		}
	}

	if err := c.checkModel(c.Baseline); err != nil {
		return fmt.Errorf("catalog: baseline: %w", err)
	}
	if err := c.checkModel(c.EmergencyModel); err != nil {
		return fmt.Errorf("catalog: emergency: %w", err)
	}
	return nil
}

func (c *Catalog) checkChain(tc TierConfig) error {
	if tc.Primary == "" {
		return fmt.Errorf("missing primary model")
	}
	if len(tc.Fallbacks) == 0 {
		return fmt.Errorf("primary %q has no fallbacks", tc.Primary)
	}
	seen := map[string]bool{tc.Primary: true}
	for _, fb := range tc.Fallbacks {
		if fb == tc.Primary {
			return fmt.Errorf("primary %q repeated in fallbacks", tc.Primary)
		}
		if seen[fb] {
			return fmt.Errorf("duplicate chain entry %q", fb)
		}
		seen[fb] = true
	}
	for _, m := range tc.Chain() {
		if err := c.checkModel(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) checkModel(model string) error {
	if p := PricingForModel(c.Pricing, model); p == (ModelPricing{}) {
		return fmt.Errorf("model %q has no pricing entry", model)
	}
	if w := ContextWindowForModel(c.Windows, model); w == 0 {
		return fmt.Errorf("model %q has no context window entry", model)
	}
	return nil
}

// TierFor returns the tier table entry for the given profile, tier, and
// agentic flag. The agentic overlay applies only under ProfileAuto.
func (c *Catalog) TierFor(profile Profile, tier Tier, agentic bool) TierConfig {
	if agentic && profile == ProfileAuto {
		if tc, ok := c.AgenticTiers[tier]; ok {
			return tc
		}
	}
	return c.Tiers[profile][tier]
}

// Models returns the deduplicated set of model IDs referenced anywhere in
// the catalog, in no particular order.
func (c *Catalog) Models() []string {
	seen := make(map[string]bool)
	var models []string
	collect := func(tc TierConfig) {
		for _, m := range tc.Chain() {
			if !seen[m] {
				seen[m] = true
				models = append(models, m)
			}
		}
	}
	for _, table := range c.Tiers {
		for _, tc := range table {
			collect(tc)
		}
	}
	for _, tc := range c.AgenticTiers {
		collect(tc)
	}
	for _, m := range []string{c.Baseline, c.EmergencyModel} {
		if !seen[m] {
			seen[m] = true
			models = append(models, m)
		}
	}
	return models
}

// ContainsModel reports whether the model appears anywhere in the catalog
// tables (exact match).
func (c *Catalog) ContainsModel(model string) bool {
	for _, m := range c.Models() {
		if m == model {
			return true
		}
	}
	return false
}

// TierOfModel finds the tier a model belongs to under the given profile,
// searching primaries first, then fallbacks. Returns false when the model is
// not in the profile's tables.
func (c *Catalog) TierOfModel(profile Profile, model string) (Tier, bool) {
	table := c.Tiers[profile]
	for _, t := range []Tier{TierSimple, TierMedium, TierComplex, TierReasoning} {
		if table[t].Primary == model {
			return t, true
		}
	}
	for _, t := range []Tier{TierSimple, TierMedium, TierComplex, TierReasoning} {
		for _, fb := range table[t].Fallbacks {
			if fb == model {
				return t, true
			}
		}
	}
	return TierMedium, false
}
