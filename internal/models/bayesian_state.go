package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RiskMode controls exploration temperature and the minimum control
// share the allocator will ever fall to. Values and floors are pinned
// here so every call site agrees, resolving the source's inconsistent
// "cautious 75/5 vs balanced 50/50" floors (see DESIGN.md).
type RiskMode string

const (
	RiskCautious   RiskMode = "cautious"
	RiskBalanced   RiskMode = "balanced"
	RiskAggressive RiskMode = "aggressive"
)

// ControlFloor returns the minimum allowed control share and the
// minimum allowed variant share for this risk mode, as fractions of
// the total allocation (e.g. cautious -> control never below 0.75,
// variant never below 0.05).
func (m RiskMode) ControlFloor() (controlFloor, variantFloor float64) {
	switch m {
	case RiskCautious:
		return 0.75, 0.05
	case RiskAggressive:
		return 0.25, 0.05
	default: // balanced
		return 0.50, 0.05
	}
}

// ArmState carries one arm's conversion-rate and AOV prior means. The
// Bayesian engine reads them as priors and overwrites them with the
// latest posterior means after each update; raw counters stay on the
// Optimization row.
type ArmState struct {
	ConversionRatePriorMean float64 `json:"conversion_rate_prior_mean"`
	AOVPriorMean            float64 `json:"aov_prior_mean"`
}

// BayesianState is the tagged, versioned record persisted alongside an
// Optimization. It replaces the source's opaque "any" config blob
// (spec.md §9) so posterior schema evolution is explicit instead of
// silent.
type BayesianState struct {
	SchemaVersion       int      `json:"schema_version"`
	Control             ArmState `json:"control"`
	Variant             ArmState `json:"variant"`
	RiskMode            RiskMode `json:"risk_mode"`
	SafetyBudget        int      `json:"safety_budget"`
	PromotionCheckCount int      `json:"promotion_check_count"`
	LastUpdateAt        time.Time `json:"last_update_at"`
}

const currentBayesianStateVersion = 1

// NewBayesianState seeds state at activation time from the product
// price and a 2% default conversion rate, per spec §4.2.
func NewBayesianState(productPrice float64, riskMode RiskMode, safetyBudget int) BayesianState {
	arm := ArmState{ConversionRatePriorMean: 0.02, AOVPriorMean: productPrice}
	return BayesianState{
		SchemaVersion: currentBayesianStateVersion,
		Control:       arm,
		Variant:       arm,
		RiskMode:      riskMode,
		SafetyBudget:  safetyBudget,
		LastUpdateAt:  time.Now().UTC(),
	}
}

// Value implements driver.Valuer so gorm can store this as a single
// JSON column.
func (s BayesianState) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner, decoding the JSON column back into the
// versioned struct. Unknown/old SchemaVersion values are accepted as-is
// here; callers that need migration logic check SchemaVersion
// explicitly rather than relying on silent schema drift.
func (s *BayesianState) Scan(value interface{}) error {
	if value == nil {
		*s = BayesianState{SchemaVersion: currentBayesianStateVersion}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, ok := value.(string); ok {
			bytes = []byte(str)
		} else {
			return fmt.Errorf("bayesian_state: unsupported scan type %T", value)
		}
	}
	return json.Unmarshal(bytes, s)
}

// GormDataType tells gorm's migrator which column type to use.
func (BayesianState) GormDataType() string {
	return "text"
}
