package routing

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// TierBoundaries holds the score thresholds between adjacent tiers.
type TierBoundaries struct {
	SimpleMedium     float64 `json:"simple_medium"`
	MediumComplex    float64 `json:"medium_complex"`
	ComplexReasoning float64 `json:"complex_reasoning"`
}

// Weights holds the contribution of each scoring dimension. Positive weights
// push toward higher tiers; negative weights pull toward Simple.
type Weights struct {
	CodeFence          float64 `json:"code_fence"`
	CodeKeywords       float64 `json:"code_keywords"`
	ReasoningMarkers   float64 `json:"reasoning_markers"`
	ProofRequest       float64 `json:"proof_request"`
	MathNotation       float64 `json:"math_notation"`
	AgenticMarkers     float64 `json:"agentic_markers"`
	StructuredOutput   float64 `json:"structured_output"`
	MultiStep          float64 `json:"multi_step"`
	TechnicalDomain    float64 `json:"technical_domain"`
	ConstraintLanguage float64 `json:"constraint_language"`
	CreativeWriting    float64 `json:"creative_writing"`
	QuestionDensity    float64 `json:"question_density"`
	LongPrompt         float64 `json:"long_prompt"`
	VeryLongPrompt     float64 `json:"very_long_prompt"`
	SystemPromptWeight float64 `json:"system_prompt_weight"`
	Greeting           float64 `json:"greeting"`
	YesNoOpener        float64 `json:"yes_no_opener"`
	TinyPrompt         float64 `json:"tiny_prompt"`
}

// ScoringConfig configures the rule-based scorer.
type ScoringConfig struct {
	Weights    Weights        `json:"weights"`
	Boundaries TierBoundaries `json:"boundaries"`

	// BoundaryEpsilon is the half-width of the neutral band around each
	// tier boundary. A score landing inside a band yields Tier == nil.
	BoundaryEpsilon float64 `json:"boundary_epsilon"`

	// AgenticThreshold is the agentic score at which the agentic tier set
	// applies (when enabled by Overrides.AgenticMode).
	AgenticThreshold float64 `json:"agentic_threshold"`

	// LongPromptTokens and VeryLongPromptTokens are the token-estimate
	// bands for the length dimensions.
	LongPromptTokens     int `json:"long_prompt_tokens"`
	VeryLongPromptTokens int `json:"very_long_prompt_tokens"`
}

// DefaultScoringConfig returns the built-in scoring configuration.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: Weights{
			CodeFence:          0.18,
			CodeKeywords:       0.12,
			ReasoningMarkers:   0.20,
			ProofRequest:       0.35,
			MathNotation:       0.12,
			AgenticMarkers:     0.10,
			StructuredOutput:   0.10,
			MultiStep:          0.10,
			TechnicalDomain:    0.10,
			ConstraintLanguage: 0.06,
			CreativeWriting:    0.06,
			QuestionDensity:    0.08,
			LongPrompt:         0.08,
			VeryLongPrompt:     0.15,
			SystemPromptWeight: 0.08,
			Greeting:           -0.25,
			YesNoOpener:        -0.10,
			TinyPrompt:         -0.10,
		},
		Boundaries: TierBoundaries{
			SimpleMedium:     0.25,
			MediumComplex:    0.55,
			ComplexReasoning: 0.80,
		},
		BoundaryEpsilon:      0.05,
		AgenticThreshold:     0.45,
		LongPromptTokens:     400,
		VeryLongPromptTokens: 1500,
	}
}

// ScoreResult is the scorer's output for a single prompt.
type ScoreResult struct {
	// Score is the weighted complexity score, clamped to [0,1].
	Score float64 `json:"score"`

	// AgenticScore estimates multi-step/tool-using intent, in [0,1].
	AgenticScore float64 `json:"agentic_score"`

	// Signals records which dimensions fired, for the reasoning field.
	Signals []string `json:"signals,omitempty"`

	// Tier is the proposed tier, or nil when the score falls inside the
	// neutral band around a boundary.
	Tier *Tier `json:"tier,omitempty"`

	// Confidence reflects distance from the nearest boundary, in [0,1].
	Confidence float64 `json:"confidence"`
}

// Scorer computes complexity and agentic scores from prompt text. All
// regular expressions are compiled once at construction and the scorer is
// safe for concurrent use.
type Scorer struct {
	cfg ScoringConfig

	codeFence    *regexp.Regexp
	codeKeywords *regexp.Regexp
	reasoning    *regexp.Regexp
	mathNotation *regexp.Regexp
	structured   *regexp.Regexp
	multiStep    *regexp.Regexp
	technical    *regexp.Regexp
	constraints  *regexp.Regexp
	creative     *regexp.Regexp
	greeting     *regexp.Regexp
	yesNoOpener  *regexp.Regexp

	agenticVerbs    *regexp.Regexp
	agenticSequence *regexp.Regexp
	agenticTargets  *regexp.Regexp
}

// NewScorer creates a Scorer from the given configuration.
func NewScorer(cfg ScoringConfig) *Scorer {
	return &Scorer{
		cfg: cfg,

		codeFence:    regexp.MustCompile("```"),
		codeKeywords: regexp.MustCompile(`(?i)\b(func|def|class|import|struct|interface|const|var|return|public|private|println|printf)\b|=>|::`),
		reasoning:    regexp.MustCompile(`(?i)\b(prove|derive|deduce|theorem|lemma|step[ -]by[ -]step|rigorous|formally|chain of thought|why does|why is|optimi[sz]e|complexity analysis)\b`),
		mathNotation: regexp.MustCompile(`[∑∫√±≠≤≥^]|\b\d+\s*[*/^]\s*\d+|\bsqrt\b|\bintegral\b|\bmatrix\b`),
		structured:   regexp.MustCompile(`(?i)\b(json|schema|yaml|xml|csv|markdown table|structured)\b`),
		multiStep:    regexp.MustCompile(`(?m)^\s*\d+[.)]\s|\b(first|second|third|finally|and then|after that)\b`),
		technical:    regexp.MustCompile(`(?i)\b(kubernetes|database|compiler|cryptograph|distributed|concurren|protocol|algorithm|refactor|architecture|migration)\b`),
		constraints:  regexp.MustCompile(`(?i)\b(must|should|require[sd]?|constraint|ensure|guarantee|without using|at most|at least)\b`),
		creative:     regexp.MustCompile(`(?i)\b(story|poem|essay|blog post|fiction|lyrics)\b`),
		greeting:     regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|thanks|thank you|good (morning|afternoon|evening))\b`),
		yesNoOpener:  regexp.MustCompile(`(?i)^\s*(is|are|was|were|do|does|did|can|could|should|would|will)\b[^?]*\?\s*$`),

		agenticVerbs:    regexp.MustCompile(`(?i)\b(analyze|research|investigate|plan|orchestrate|automate|execute|browse|search the web|scrape|iterate|monitor)\b`),
		agenticSequence: regexp.MustCompile(`(?i)\b(then|after that|next,|followed by|once (that|you)|step \d)\b`),
		agenticTargets:  regexp.MustCompile(`(?i)\b(tool|file|directory|repo|repository|terminal|command|script|api call|endpoint|run)\b`),
	}
}

// Score evaluates prompt and system text against every dimension and
// proposes a tier. estimatedTokens is the caller's chars/4 estimate over
// system+prompt.
func (s *Scorer) Score(prompt, system string, estimatedTokens int) ScoreResult {
	w := s.cfg.Weights
	var score, agentic float64
	var signals []string

	add := func(v float64, signal string) {
		score += v
		signals = append(signals, signal)
	}

	// Positive dimensions.
	if s.codeFence.MatchString(prompt) {
		add(w.CodeFence, "code fence present")
	}
	if s.codeKeywords.MatchString(prompt) {
		add(w.CodeKeywords, "code keywords")
	}
	// Reasoning markers accumulate per hit (capped): one "why" is a
	// question, several stacked markers are a derivation request.
	reasoningHits := len(s.reasoning.FindAllStringIndex(prompt, 3))
	if reasoningHits > 0 {
		add(w.ReasoningMarkers*float64(reasoningHits), fmt.Sprintf("reasoning markers (%d)", reasoningHits))
	}
	mathHit := s.mathNotation.MatchString(prompt)
	if mathHit {
		add(w.MathNotation, "math notation")
	}
	if reasoningHits >= 2 && mathHit {
		add(w.ProofRequest, "explicit proof request")
	}
	if s.structured.MatchString(prompt) {
		add(w.StructuredOutput, "structured output requested")
	}
	if s.multiStep.MatchString(prompt) {
		add(w.MultiStep, "multi-step enumeration")
	}
	if s.technical.MatchString(prompt) {
		add(w.TechnicalDomain, "technical domain terms")
	}
	if s.constraints.MatchString(prompt) {
		add(w.ConstraintLanguage, "constraint language")
	}
	if s.creative.MatchString(prompt) {
		add(w.CreativeWriting, "creative writing request")
	}
	if strings.Count(prompt, "?") >= 3 {
		add(w.QuestionDensity, "several questions")
	}

	// Length proxies.
	switch {
	case estimatedTokens > s.cfg.VeryLongPromptTokens:
		add(w.VeryLongPrompt, fmt.Sprintf("very long prompt (~%d tokens)", estimatedTokens))
	case estimatedTokens > s.cfg.LongPromptTokens:
		add(w.LongPrompt, fmt.Sprintf("long prompt (~%d tokens)", estimatedTokens))
	case estimatedTokens < 20 && reasoningHits == 0:
		// A short prompt carrying reasoning markers is dense, not trivial;
		// the length penalty only applies to genuinely small asks.
		add(w.TinyPrompt, "tiny prompt")
	}

	// A heavyweight system prompt usually means an involved workload even
	// when the user turn itself is short.
	if len(system) > 2000 {
		add(w.SystemPromptWeight, "large system prompt")
	}

	// Negative dimensions.
	if s.greeting.MatchString(prompt) {
		add(w.Greeting, "greeting/pleasantry")
	}
	if s.yesNoOpener.MatchString(prompt) {
		add(w.YesNoOpener, "yes/no question form")
	}

	// Agentic dimensions accumulate separately; a single weighted slice of
	// the agentic family also feeds the complexity score.
	agenticHits := 0
	if n := len(s.agenticVerbs.FindAllStringIndex(prompt, 4)); n > 0 {
		agentic += 0.25 * float64(n)
		agenticHits += n
	}
	if s.agenticSequence.MatchString(prompt) {
		agentic += 0.20
		agenticHits++
	}
	if n := len(s.agenticTargets.FindAllStringIndex(prompt, 3)); n > 0 {
		agentic += 0.15 * float64(n)
		agenticHits += n
	}
	if agenticHits > 0 {
		add(w.AgenticMarkers, fmt.Sprintf("agentic markers (%d)", agenticHits))
	}

	score = clamp01(score)
	agentic = clamp01(agentic)

	tier, confidence := s.proposeTier(score)

	return ScoreResult{
		Score:        score,
		AgenticScore: agentic,
		Signals:      signals,
		Tier:         tier,
		Confidence:   confidence,
	}
}

// proposeTier maps a score to a tier using the configured boundaries. A
// score inside the ±epsilon band of any boundary is ambiguous: tier is nil
// and confidence drops to 0.5.
func (s *Scorer) proposeTier(score float64) (*Tier, float64) {
	b := s.cfg.Boundaries
	eps := s.cfg.BoundaryEpsilon

	nearest := math.MaxFloat64
	for _, boundary := range []float64{b.SimpleMedium, b.MediumComplex, b.ComplexReasoning} {
		if d := math.Abs(score - boundary); d < nearest {
			nearest = d
		}
	}
	if nearest < eps {
		return nil, 0.5
	}

	var tier Tier
	switch {
	case score < b.SimpleMedium:
		tier = TierSimple
	case score < b.MediumComplex:
		tier = TierMedium
	case score < b.ComplexReasoning:
		tier = TierComplex
	default:
		tier = TierReasoning
	}

	// Confidence grows with distance from the nearest boundary.
	confidence := math.Min(0.95, 0.60+nearest*2)
	return &tier, confidence
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
