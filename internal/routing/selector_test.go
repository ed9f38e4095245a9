package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector_PicksTierPrimary(t *testing.T) {
	s := NewSelector(DefaultCatalog())

	sel := s.Select(TierSimple, ProfileAuto, false, 100, 100)
	assert.Equal(t, "openai/gpt-5-nano", sel.Model)
	assert.Len(t, sel.Chain, 3)
	assert.Equal(t, sel.Model, sel.Chain[0])
}

func TestSelector_WindowFilterDropsSmallModels(t *testing.T) {
	s := NewSelector(DefaultCatalog())

	// 108K total tokens * 1.1 margin excludes the deepseek-chat primary
	// (64K window); the first fallback takes over.
	sel := s.Select(TierMedium, ProfileAuto, false, 100_000, 8_000)
	assert.Equal(t, "openai/gpt-5-mini", sel.Model)
	require.Len(t, sel.Chain, 2)
	assert.NotContains(t, sel.Chain, "deepseek/deepseek-chat")
}

func TestSelector_WindowFilterKeepsChainWhenNothingFits(t *testing.T) {
	s := NewSelector(DefaultCatalog())

	// Free complex models top out at 128K; at 150K input nothing fits, but
	// the chain survives unfiltered.
	sel := s.Select(TierComplex, ProfileFree, false, 150_000, 0)
	assert.Equal(t, "meta-llama/llama-3.3-70b", sel.Model)
	assert.Len(t, sel.Chain, 2)
}

func TestSelector_SavingsAgainstBaseline(t *testing.T) {
	s := NewSelector(DefaultCatalog())

	// gpt-5-nano at $0.05/M vs opus baseline at $15/M input.
	sel := s.Select(TierSimple, ProfileAuto, false, 100_000, 0)
	assert.InDelta(t, 0.005, sel.CostEstimate, 0.0001)
	assert.InDelta(t, 1.5, sel.BaselineCost, 0.0001)
	assert.InDelta(t, 0.9967, sel.Savings, 0.001)
}

func TestSelector_PremiumSavingsAlwaysZero(t *testing.T) {
	s := NewSelector(DefaultCatalog())

	sel := s.Select(TierMedium, ProfilePremium, false, 10_000, 1_000)
	assert.Equal(t, "anthropic/claude-sonnet-4.5", sel.Model)
	assert.Less(t, sel.CostEstimate, sel.BaselineCost)
	assert.Equal(t, 0.0, sel.Savings)
}

func TestSelector_SavingsNeverNegative(t *testing.T) {
	s := NewSelector(DefaultCatalog())

	// Eco reasoning can exceed the baseline on output-heavy requests only if
	// pricing flips; savings still floors at zero for any configuration.
	sel := s.Select(TierReasoning, ProfileAuto, false, 1_000, 1_000)
	assert.GreaterOrEqual(t, sel.Savings, 0.0)
	assert.LessOrEqual(t, sel.Savings, 1.0)
}

func TestSelector_AgenticChain(t *testing.T) {
	s := NewSelector(DefaultCatalog())

	sel := s.Select(TierComplex, ProfileAuto, true, 1_000, 1_000)
	assert.Equal(t, "openai/gpt-5", sel.Model)
	assert.Contains(t, sel.Chain, "anthropic/claude-opus-4.1")
}
