// Command simulate runs a deterministic, in-memory batch simulation
// of an optimization's full lifecycle: repeated assign/impression/
// conversion draws against the Bayesian engine until a promote or
// safety-stop verdict fires, recording an evolution snapshot every
// 100 impressions. Flag-driven cobra CLI shape grounded on
// elchinoo-stormdb's cmd/stormdb/main.go.
package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iaros/optimization-engine/internal/bayes"
	"github.com/iaros/optimization-engine/internal/models"
	"github.com/iaros/optimization-engine/internal/rng"
)

func main() {
	var (
		seed                 int64
		riskMode             string
		controlConversion    float64
		variantConversion    float64
		meanOrderValue       float64
		maxImpressionsPerArm int
		snapshotEvery        int
	)

	rootCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate an optimization's allocation evolution against synthetic traffic",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSimulation(simulationOptions{
				seed:                 seed,
				riskMode:             models.RiskMode(riskMode),
				controlConversion:    controlConversion,
				variantConversion:    variantConversion,
				meanOrderValue:       meanOrderValue,
				maxImpressionsPerArm: maxImpressionsPerArm,
				snapshotEvery:        snapshotEvery,
			})
		},
	}

	rootCmd.Flags().Int64Var(&seed, "seed", 1, "Deterministic PRNG seed (mulberry32)")
	rootCmd.Flags().StringVar(&riskMode, "risk-mode", "balanced", "Risk mode: cautious, balanced, or aggressive")
	rootCmd.Flags().Float64Var(&controlConversion, "control-cr", 0.04, "True control conversion rate used to generate synthetic traffic")
	rootCmd.Flags().Float64Var(&variantConversion, "variant-cr", 0.05, "True variant conversion rate used to generate synthetic traffic")
	rootCmd.Flags().Float64Var(&meanOrderValue, "aov", 50.0, "Mean order value used to generate synthetic conversions")
	rootCmd.Flags().IntVar(&maxImpressionsPerArm, "max-impressions", 20000, "Safety cap on impressions per arm before the simulation stops unresolved")
	rootCmd.Flags().IntVar(&snapshotEvery, "snapshot-every", 100, "Record an evolution snapshot every N impressions")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// defaultSafetyBudget matches the seeded scenario in spec.md §8
// (scenario 5, "safety_budget=50"): this many unfavorable updates (not
// necessarily consecutive; the counter never resets) before a forced
// safety stop.
const defaultSafetyBudget = 50

type simulationOptions struct {
	seed                 int64
	riskMode             models.RiskMode
	controlConversion    float64
	variantConversion    float64
	meanOrderValue       float64
	maxImpressionsPerArm int
	snapshotEvery        int
}

func runSimulation(opts simulationOptions) error {
	trafficSource := rng.NewMulberry32(uint32(opts.seed))
	allocationSource := rng.NewMulberry32(uint32(opts.seed) ^ 0x9E3779B9)

	state := models.NewBayesianState(opts.meanOrderValue, opts.riskMode, defaultSafetyBudget)
	cfg := bayes.DefaultConfig()

	control := bayes.ArmObservation{}
	variant := bayes.ArmObservation{}
	controlShare, variantShare := 0.5, 0.5

	snapshots := 0
	for i := 0; control.Impressions < int64(opts.maxImpressionsPerArm) && variant.Impressions < int64(opts.maxImpressionsPerArm); i++ {
		showVariant := trafficSource.Float64() < variantShare
		if showVariant {
			variant.Impressions++
			if trafficSource.Float64() < opts.variantConversion {
				variant.Conversions++
				variant.Revenue = variant.Revenue.Add(decimal.NewFromFloat(opts.meanOrderValue))
			}
		} else {
			control.Impressions++
			if trafficSource.Float64() < opts.controlConversion {
				control.Conversions++
				control.Revenue = control.Revenue.Add(decimal.NewFromFloat(opts.meanOrderValue))
			}
		}

		totalImpressions := control.Impressions + variant.Impressions
		if totalImpressions%int64(opts.snapshotEvery) != 0 {
			continue
		}

		result := bayes.Update(state, control, variant, variantShare, cfg, allocationSource)
		state = result.State
		controlShare, variantShare = result.ControlShare, result.VariantShare
		snapshots++

		fmt.Printf("impressions=%d control_share=%.4f variant_share=%.4f p_variant_better=%.4f reasoning=%q\n",
			totalImpressions, controlShare, variantShare, result.PVariantBetter, result.Reasoning)

		if result.ShouldPromote {
			fmt.Printf("PROMOTED after %d total impressions (control=%d, variant=%d), %d snapshots recorded\n",
				totalImpressions, control.Impressions, variant.Impressions, snapshots)
			return nil
		}
		if result.ShouldStop {
			fmt.Printf("SAFETY STOPPED after %d total impressions (control=%d, variant=%d), %d snapshots recorded\n",
				totalImpressions, control.Impressions, variant.Impressions, snapshots)
			return nil
		}
	}

	fmt.Printf("UNRESOLVED after reaching max-impressions=%d per arm, %d snapshots recorded\n", opts.maxImpressionsPerArm, snapshots)
	return nil
}
