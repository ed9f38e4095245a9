package routing

import (
	"fmt"
	"regexp"
	"strings"
)

// Overrides adjusts classification after scoring. Zero values disable the
// corresponding override except AmbiguousDefaultTier, which always applies
// when the scorer abstains.
type Overrides struct {
	// MaxTokensForceComplex forces at least TierComplex when the estimated
	// input token count reaches this value. 0 disables.
	MaxTokensForceComplex int `json:"max_tokens_force_complex"`

	// StructuredOutputMinTier raises the tier to at least this value when
	// the prompt asks for structured output.
	StructuredOutputMinTier Tier `json:"structured_output_min_tier"`

	// AmbiguousDefaultTier is used when the scorer lands in a boundary band.
	AmbiguousDefaultTier Tier `json:"ambiguous_default_tier"`

	// AgenticMode enables the agentic tier tables for high agentic scores.
	AgenticMode bool `json:"agentic_mode"`
}

// DefaultOverrides returns the standard override set.
func DefaultOverrides() Overrides {
	return Overrides{
		MaxTokensForceComplex:   32000,
		StructuredOutputMinTier: TierMedium,
		AmbiguousDefaultTier:    TierMedium,
		AgenticMode:             true,
	}
}

// Classification is the classifier's verdict for one request.
type Classification struct {
	Tier       Tier    `json:"tier"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Agentic    bool    `json:"agentic"`
}

// Classifier turns scorer output into a final tier decision by applying
// overrides in a fixed precedence order.
type Classifier struct {
	scorer    *Scorer
	overrides Overrides

	structuredRe *regexp.Regexp
}

// NewClassifier creates a Classifier around the given scorer.
func NewClassifier(scorer *Scorer, overrides Overrides) *Classifier {
	return &Classifier{
		scorer:       scorer,
		overrides:    overrides,
		structuredRe: regexp.MustCompile(`(?i)json|schema|structured`),
	}
}

// Classify scores the prompt and resolves the tier. Precedence: the
// large-context override wins outright, then the scorer's tier, then the
// ambiguous default, and finally the structured-output floor is applied to
// whatever tier emerged.
func (c *Classifier) Classify(prompt, system string, estimatedTokens int) Classification {
	result := c.scorer.Score(prompt, system, estimatedTokens)
	agentic := c.overrides.AgenticMode && result.AgenticScore >= c.scorer.cfg.AgenticThreshold

	if c.overrides.MaxTokensForceComplex > 0 && estimatedTokens > c.overrides.MaxTokensForceComplex {
		return Classification{
			Tier:       TierComplex,
			Confidence: 0.95,
			Reasoning:  fmt.Sprintf("large context (~%d tokens) forces complex tier", estimatedTokens),
			Agentic:    agentic,
		}
	}

	var tier Tier
	var confidence float64
	var reason string

	if result.Tier != nil {
		tier = *result.Tier
		confidence = result.Confidence
		reason = fmt.Sprintf("score %.2f -> %s", result.Score, tier)
	} else {
		tier = c.overrides.AmbiguousDefaultTier
		confidence = 0.5
		reason = fmt.Sprintf("score %.2f near tier boundary, defaulting to %s", result.Score, tier)
	}

	// System prompts carry the output contract ("always respond in JSON"),
	// so the floor keys off the system text.
	if c.structuredRe.MatchString(system) && tier < c.overrides.StructuredOutputMinTier {
		tier = c.overrides.StructuredOutputMinTier
		reason += fmt.Sprintf("; structured output raises tier to %s", tier)
	}

	if len(result.Signals) > 0 {
		reason += " [" + strings.Join(result.Signals, ", ") + "]"
	}

	return Classification{
		Tier:       tier,
		Confidence: confidence,
		Reasoning:  reason,
		Agentic:    agentic,
	}
}

// EstimateTokens approximates the token count of text as ceil(len/4). The
// proxy never tokenizes; a 4-chars-per-token heuristic is close enough for
// routing and window checks.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
