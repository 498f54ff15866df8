package bayes

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iaros/optimization-engine/internal/models"
	"github.com/iaros/optimization-engine/internal/rng"
)

func freshState(mode models.RiskMode) models.BayesianState {
	return models.NewBayesianState(50.0, mode, 50)
}

func TestBetaPosteriorMeanMovesTowardObservedRate(t *testing.T) {
	alpha, beta := betaPosterior(0.02, 10, ArmObservation{Impressions: 10000, Conversions: 1000})
	mean := betaMean(alpha, beta)
	assert.Greater(t, mean, 0.05, "posterior mean should move well above the 2%% prior given a 10%% observed rate")
	assert.Less(t, mean, 0.11)
}

func TestUpdateIsDeterministicForAGivenSeed(t *testing.T) {
	state := freshState(models.RiskBalanced)
	control := ArmObservation{Impressions: 5000, Conversions: 200, Revenue: decimal.NewFromInt(10000)}
	variant := ArmObservation{Impressions: 5000, Conversions: 260, Revenue: decimal.NewFromInt(13000)}

	r1 := Update(state, control, variant, 0.5, DefaultConfig(), rng.NewMulberry32(42))
	r2 := Update(state, control, variant, 0.5, DefaultConfig(), rng.NewMulberry32(42))

	assert.Equal(t, r1.PVariantBetter, r2.PVariantBetter, "same seed must produce identical draws")
	assert.Equal(t, r1.VariantShare, r2.VariantShare)
}

// TestAutoPromote exercises seeded scenario 4: a variant with a
// sustained, material RPV advantage over a large sample should
// eventually promote.
func TestAutoPromote(t *testing.T) {
	state := freshState(models.RiskBalanced)
	cfg := DefaultConfig()
	source := rng.NewMulberry32(7)

	control := ArmObservation{Impressions: 20000, Conversions: 800, Revenue: decimal.NewFromInt(800 * 50)}
	variant := ArmObservation{Impressions: 20000, Conversions: 1100, Revenue: decimal.NewFromInt(1100 * 55)}

	result := Update(state, control, variant, 0.5, cfg, source)

	require.True(t, result.ShouldPromote, "a variant with materially higher conversion rate and AOV over 20k impressions per arm should promote")
	assert.False(t, result.ShouldStop)
	assert.Contains(t, strings.ToLower(result.Reasoning), "promote")
}

// TestSafetyStop exercises seeded scenario 5: a variant performing
// far worse than control must exhaust the safety budget and halt, and
// the reasoning string must literally mention the exhausted budget.
func TestSafetyStop(t *testing.T) {
	state := freshState(models.RiskBalanced)
	state.SafetyBudget = 3
	cfg := DefaultConfig()
	source := rng.NewMulberry32(99)

	control := ArmObservation{Impressions: 10000, Conversions: 400, Revenue: decimal.NewFromInt(400 * 50)}
	variant := ArmObservation{Impressions: 10000, Conversions: 100, Revenue: decimal.NewFromInt(100 * 50)}

	var result Result
	currentShare := 0.5
	for i := 0; i < 10 && state.SafetyBudget > 0; i++ {
		result = Update(state, control, variant, currentShare, cfg, source)
		state = result.State
		currentShare = result.VariantShare
	}

	require.True(t, result.ShouldStop, "a variant performing 4x worse than control should exhaust the safety budget and stop")
	assert.Contains(t, result.Reasoning, "safety budget exhausted")
}

func TestAllocationNeverBelowRiskModeFloor(t *testing.T) {
	state := freshState(models.RiskCautious)
	cfg := DefaultConfig()
	source := rng.NewMulberry32(5)

	// Variant dominating heavily; even so, cautious mode must never let
	// control drop below 75%.
	control := ArmObservation{Impressions: 50000, Conversions: 500, Revenue: decimal.NewFromInt(500 * 50)}
	variant := ArmObservation{Impressions: 50000, Conversions: 5000, Revenue: decimal.NewFromInt(5000 * 80)}

	result := Update(state, control, variant, 0.5, cfg, source)

	assert.GreaterOrEqual(t, result.ControlShare, 0.75-1e-9)
	assert.LessOrEqual(t, result.VariantShare, 0.25+1e-9)
}

func TestEMASmoothingLimitsSingleStepMovement(t *testing.T) {
	state := freshState(models.RiskBalanced)
	cfg := DefaultConfig()
	source := rng.NewMulberry32(3)

	control := ArmObservation{Impressions: 1000, Conversions: 10, Revenue: decimal.NewFromInt(500)}
	variant := ArmObservation{Impressions: 1000, Conversions: 80, Revenue: decimal.NewFromInt(4000)}

	result := Update(state, control, variant, 0.5, cfg, source)

	movement := result.VariantShare - 0.5
	assert.LessOrEqual(t, movement, cfg.EMAFactor+0.01, "a single update should not move the share by more than roughly EMAFactor in one step")
}
