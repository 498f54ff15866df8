// Package bayes implements the pure posterior-update and allocation
// engine from spec §4.2. It is intentionally free of I/O: every call
// takes the current counters and persisted state and returns a new
// allocation, a promote/stop verdict, and the updated state to
// persist. No suspension points live here, per spec §5.
package bayes

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/iaros/optimization-engine/internal/models"
	"github.com/iaros/optimization-engine/internal/rng"
)

// Config tunes the engine's thresholds; all fields have the defaults
// named in spec §4.2.
type Config struct {
	MinSampleSize          int     // minimum impressions per arm before promotion is considered
	NumDraws               int     // Thompson sampling draws per update
	EMAFactor              float64 // smoothing applied to the new allocation vs the current one
	PromotionConfidence    float64 // p_variant_better threshold for promotion
	StopConfidence         float64 // p_variant_better threshold (from below) for safety stop
	RevenueUpliftThreshold float64 // minimum relative RPV uplift required to promote
	priorStrength          float64 // pseudo-count weight of the conversion-rate prior
}

// DefaultConfig matches the defaults named throughout spec §4.2.
func DefaultConfig() Config {
	return Config{
		MinSampleSize:          100,
		NumDraws:               1024,
		EMAFactor:              0.3,
		PromotionConfidence:    0.95,
		StopConfidence:         0.05,
		RevenueUpliftThreshold: 0.02,
		priorStrength:          10,
	}
}

// ArmObservation is the current aggregate counters for one arm.
type ArmObservation struct {
	Impressions int64
	Conversions int64
	Revenue     decimal.Decimal
}

// RPV returns revenue per visitor for this arm's observed data
// (distinct from the posterior-estimated RPV used for allocation).
func (a ArmObservation) RPV() float64 {
	if a.Impressions == 0 {
		return 0
	}
	rev, _ := a.Revenue.Float64()
	return rev / float64(a.Impressions)
}

// Result is the outcome of one allocation update.
type Result struct {
	ControlShare    float64
	VariantShare    float64
	PVariantBetter  float64
	ShouldPromote   bool
	ShouldStop      bool
	Reasoning       string
	State           models.BayesianState
}

// betaPosterior returns the Beta(alpha, beta) parameters for an arm's
// conversion-rate posterior given a weakly informative prior mean.
// alpha/beta grow unboundedly with traffic; computing their ratio
// directly (rather than via Lgamma machinery) stays numerically stable
// even at the alpha,beta >= 10,000 scale spec §4.2 calls out, because
// float64 division of two large-but-finite values never overflows the
// way a naive Gamma-function evaluation would.
func betaPosterior(priorMean float64, priorStrength float64, obs ArmObservation) (alpha, beta float64) {
	alpha0 := priorMean * priorStrength
	beta0 := (1 - priorMean) * priorStrength
	alpha = alpha0 + float64(obs.Conversions)
	beta = beta0 + float64(obs.Impressions-obs.Conversions)
	if beta < 0.0001 {
		beta = 0.0001
	}
	return alpha, beta
}

// betaMean is E[CR] under the Beta(alpha, beta) posterior.
func betaMean(alpha, beta float64) float64 {
	return alpha / (alpha + beta)
}

// logNormalParams derives the (mu, sigma) of the AOV log-normal
// posterior. With fewer than 5 conversions there isn't enough signal
// to trust the observed average, so the prior mean is used outright
// (spec §4.2); sigma shrinks as conversions accumulate, reflecting
// growing confidence in the estimate.
func logNormalParams(priorMean float64, obs ArmObservation) (mu, sigma float64) {
	const minConversionsForObservedAOV = 5
	const baseCV = 0.4
	const minSigma = 0.03

	mean := priorMean
	if obs.Conversions >= minConversionsForObservedAOV {
		revenue, _ := obs.Revenue.Float64()
		mean = revenue / float64(obs.Conversions)
	}
	if mean <= 0 {
		mean = priorMean
	}
	if mean <= 0 {
		mean = 1
	}

	n := float64(obs.Conversions)
	if n < 1 {
		n = 1
	}
	sigma = baseCV / math.Sqrt(n)
	if sigma < minSigma {
		sigma = minSigma
	}

	return math.Log(mean), sigma
}

// sampleGamma draws from Gamma(shape, 1) using the Marsaglia-Tsang
// method, boosting shape<1 via the standard u^(1/shape) trick.
func sampleGamma(shape float64, source rng.Source) float64 {
	if shape < 1 {
		u := rng.Clamp01(source.Float64())
		return sampleGamma(shape+1, source) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)

	for {
		var x, v float64
		for {
			x = sampleNormal(source)
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Clamp01(source.Float64())

		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// sampleNormal draws a standard normal via the Box-Muller transform.
func sampleNormal(source rng.Source) float64 {
	u1 := rng.Clamp01(source.Float64())
	u2 := rng.Clamp01(source.Float64())
	if u1 <= 0 {
		u1 = 1e-12
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// sampleBeta draws from Beta(alpha, beta) via the ratio-of-gammas
// identity.
func sampleBeta(alpha, beta float64, source rng.Source) float64 {
	x := sampleGamma(alpha, source)
	y := sampleGamma(beta, source)
	if x+y == 0 {
		return 0
	}
	return x / (x + y)
}

// sampleLogNormal draws one AOV value from the arm's log-normal
// posterior.
func sampleLogNormal(mu, sigma float64, source rng.Source) float64 {
	return math.Exp(mu + sigma*sampleNormal(source))
}

// Update runs one full Bayesian allocation pass: posterior refresh,
// Thompson-sampled allocation, and promote/stop verdicts. source
// supplies the Thompson-sampling draws; pass a deterministic
// rng.Mulberry32 in tests, a rng.CryptoSource in production.
func Update(state models.BayesianState, control, variant ArmObservation, currentVariantShare float64, cfg Config, source rng.Source) Result {
	controlAlpha, controlBeta := betaPosterior(state.Control.ConversionRatePriorMean, cfg.priorStrength, control)
	variantAlpha, variantBeta := betaPosterior(state.Variant.ConversionRatePriorMean, cfg.priorStrength, variant)

	controlMu, controlSigma := logNormalParams(state.Control.AOVPriorMean, control)
	variantMu, variantSigma := logNormalParams(state.Variant.AOVPriorMean, variant)

	numDraws := cfg.NumDraws
	if numDraws <= 0 {
		numDraws = 1024
	}

	variantWins := 0
	var controlRPVSum, variantRPVSum float64

	for i := 0; i < numDraws; i++ {
		controlCR := sampleBeta(controlAlpha, controlBeta, source)
		variantCR := sampleBeta(variantAlpha, variantBeta, source)
		controlAOV := sampleLogNormal(controlMu, controlSigma, source)
		variantAOV := sampleLogNormal(variantMu, variantSigma, source)

		controlRPV := controlCR * controlAOV
		variantRPV := variantCR * variantAOV

		controlRPVSum += controlRPV
		variantRPVSum += variantRPV

		if variantRPV > controlRPV {
			variantWins++
		}
	}

	pVariantBetter := float64(variantWins) / float64(numDraws)
	controlExpectedRPV := controlRPVSum / float64(numDraws)
	variantExpectedRPV := variantRPVSum / float64(numDraws)

	controlFloor, variantFloor := state.RiskMode.ControlFloor()
	minVariantShare := variantFloor
	maxVariantShare := 1 - controlFloor

	targetVariantShare := clampShare(pVariantBetter, minVariantShare, maxVariantShare)
	smoothedVariantShare := currentVariantShare + cfg.EMAFactor*(targetVariantShare-currentVariantShare)
	smoothedVariantShare = clampShare(smoothedVariantShare, minVariantShare, maxVariantShare)

	newState := state
	newState.Control.ConversionRatePriorMean = betaMean(controlAlpha, controlBeta)
	newState.Variant.ConversionRatePriorMean = betaMean(variantAlpha, variantBeta)
	newState.Control.AOVPriorMean = math.Exp(controlMu)
	newState.Variant.AOVPriorMean = math.Exp(variantMu)
	newState.PromotionCheckCount = state.PromotionCheckCount + 1

	totalImpressions := control.Impressions
	if variant.Impressions < totalImpressions {
		totalImpressions = variant.Impressions
	}

	revenueUplift := 0.0
	if controlExpectedRPV > 0 {
		revenueUplift = (variantExpectedRPV - controlExpectedRPV) / controlExpectedRPV
	}

	minSample := cfg.MinSampleSize
	if minSample <= 0 {
		minSample = 100
	}

	shouldPromote := totalImpressions >= int64(minSample) &&
		pVariantBetter >= cfg.PromotionConfidence &&
		revenueUplift >= cfg.RevenueUpliftThreshold &&
		newState.PromotionCheckCount >= 1

	shouldStop := false
	reasoning := ""

	if newState.SafetyBudget <= 0 {
		shouldStop = true
		reasoning = "safety budget exhausted: variant underperformed control repeatedly until the safety budget reached zero"
	} else if pVariantBetter <= cfg.StopConfidence && totalImpressions >= int64(minSample)*5 {
		shouldStop = true
		newState.SafetyBudget = 0
		reasoning = fmt.Sprintf("safety stop: p_variant_better=%.4f at %d impressions per arm (>= 5x min sample size), variant underperforming control with high confidence; safety budget exhausted", pVariantBetter, totalImpressions)
	} else if variantExpectedRPV < controlExpectedRPV && totalImpressions >= int64(minSample) {
		newState.SafetyBudget--
		if newState.SafetyBudget <= 0 {
			shouldStop = true
			reasoning = "safety budget exhausted: variant underperformed control repeatedly until the safety budget reached zero"
		}
	}

	if !shouldStop {
		if shouldPromote {
			reasoning = fmt.Sprintf("auto-promote: p_variant_better=%.4f >= %.2f, variant RPV exceeds control by %.2f%% (>= %.2f%% threshold), %d impressions per arm (>= min sample %d)",
				pVariantBetter, cfg.PromotionConfidence, revenueUplift*100, cfg.RevenueUpliftThreshold*100, totalImpressions, minSample)
		} else if reasoning == "" {
			reasoning = fmt.Sprintf("continuing: p_variant_better=%.4f, revenue uplift=%.2f%%, %d/%d impressions per arm observed",
				pVariantBetter, revenueUplift*100, totalImpressions, minSample)
		}
	}

	newState.LastUpdateAt = state.LastUpdateAt

	return Result{
		ControlShare:   1 - smoothedVariantShare,
		VariantShare:   smoothedVariantShare,
		PVariantBetter: pVariantBetter,
		ShouldPromote:  shouldPromote && !shouldStop,
		ShouldStop:     shouldStop,
		Reasoning:      reasoning,
		State:          newState,
	}
}

func clampShare(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
