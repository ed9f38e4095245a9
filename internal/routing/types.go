package routing

// Tier represents the estimated complexity tier of a request. Tiers are
// totally ordered: Simple < Medium < Complex < Reasoning.
type Tier int

const (
	// TierSimple is a straightforward query: greetings, short factual
	// lookups, yes/no questions.
	TierSimple Tier = iota

	// TierMedium is a moderate task: summarization, light editing, short
	// code snippets.
	TierMedium

	// TierComplex is a multi-step task requiring deep reasoning, larger
	// code work, or long context.
	TierComplex

	// TierReasoning is a task that benefits from an explicit reasoning
	// model: proofs, derivations, hard math, intricate planning.
	TierReasoning
)

// String returns a human-readable name for the tier.
func (t Tier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierMedium:
		return "medium"
	case TierComplex:
		return "complex"
	case TierReasoning:
		return "reasoning"
	default:
		return "unknown"
	}
}

// Profile selects the cost/quality trade-off used when mapping a tier to a
// concrete model.
type Profile int

const (
	// ProfileAuto is the default balance of cost and quality.
	ProfileAuto Profile = iota

	// ProfileFree routes everything to free or near-free models.
	ProfileFree

	// ProfileEco favors the cheapest capable model per tier.
	ProfileEco

	// ProfilePremium always picks the highest-quality tier member and
	// reports zero savings.
	ProfilePremium
)

// String returns a human-readable name for the profile.
func (p Profile) String() string {
	switch p {
	case ProfileAuto:
		return "auto"
	case ProfileFree:
		return "free"
	case ProfileEco:
		return "eco"
	case ProfilePremium:
		return "premium"
	default:
		return "unknown"
	}
}

// ParseProfile maps a profile keyword from the request's model field to a
// Profile. The second return is false when the keyword is not a profile.
func ParseProfile(s string) (Profile, bool) {
	switch s {
	case "auto":
		return ProfileAuto, true
	case "free":
		return ProfileFree, true
	case "eco":
		return ProfileEco, true
	case "premium":
		return ProfilePremium, true
	default:
		return ProfileAuto, false
	}
}

// Method records how a routing decision was made. Only rule-based
// classification is implemented; MethodLLMFallback is reserved on the wire
// for deployments that escalate ambiguous prompts to a classifier model.
const (
	MethodRules       = "rules"
	MethodLLMFallback = "llm-fallback"
)

// Decision is the outcome of routing a single request. It is created once
// per request, consumed by the dispatcher, logged, and never mutated.
type Decision struct {
	// Model is the selected model ID ("provider/model-name").
	Model string `json:"model"`

	// Chain is the ordered fallback chain, starting with Model.
	Chain []string `json:"chain"`

	// Tier is the complexity tier the request was classified into.
	Tier Tier `json:"tier"`

	// Profile is the routing profile that produced the selection.
	Profile Profile `json:"profile"`

	// Agentic is true when the agentic score crossed the threshold and an
	// agentic tier set was applied.
	Agentic bool `json:"agentic,omitempty"`

	// Confidence is the classifier's confidence in the tier, in [0,1].
	Confidence float64 `json:"confidence"`

	// Method is MethodRules or MethodLLMFallback.
	Method string `json:"method"`

	// Reasoning is a human-readable explanation of the decision.
	Reasoning string `json:"reasoning"`

	// CostEstimate is the estimated request cost in USD for Model.
	CostEstimate float64 `json:"cost_estimate"`

	// BaselineCost is the same estimate priced at the baseline model.
	BaselineCost float64 `json:"baseline_cost"`

	// Savings is max(0, (baseline-cost)/baseline); always 0 for premium.
	Savings float64 `json:"savings"`

	// EstimatedInputTokens is the chars/4 estimate used for cost math.
	EstimatedInputTokens int `json:"estimated_input_tokens"`
}

// RouteOptions carries per-request routing inputs beyond the prompt text.
type RouteOptions struct {
	// Profile selects the tier-to-model table. Defaults to ProfileAuto.
	Profile Profile

	// ForceModel, when non-empty, bypasses classification entirely. The
	// decision still carries a fallback chain derived from the tier the
	// model belongs to.
	ForceModel string
}
