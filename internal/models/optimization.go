package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptimizationType names which aspect of the product page is under
// test.
type OptimizationType string

const (
	OptimizationTypeTitle       OptimizationType = "title"
	OptimizationTypeDescription OptimizationType = "description"
	OptimizationTypePrice       OptimizationType = "price"
)

// OptimizationStatus is the lifecycle state from spec §4.3.
type OptimizationStatus string

const (
	StatusDraft     OptimizationStatus = "draft"
	StatusActive    OptimizationStatus = "active"
	StatusPaused    OptimizationStatus = "paused"
	StatusCompleted OptimizationStatus = "completed"
	StatusCancelled OptimizationStatus = "cancelled"
)

// Variant names the two arms of an optimization.
type Variant string

const (
	VariantControl Variant = "control"
	VariantVariant Variant = "variant"
)

// Optimization is one A/B experiment over a single aspect of one
// product. See spec.md §3 for the full invariant list; RecalculateARPU
// and the *Allocation helpers keep the derived fields in sync whenever
// the store mutates counters.
type Optimization struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Shop   string `gorm:"size:255;index:idx_opt_shop_product_status" json:"shop"`
	ProductID uint `gorm:"index:idx_opt_shop_product_status" json:"product_id"`

	OptimizationType OptimizationType `gorm:"size:20" json:"optimization_type"`

	ControlData string `gorm:"type:text" json:"control_data"` // opaque JSON matching OptimizationType
	VariantData string `gorm:"type:text" json:"variant_data"`

	Status OptimizationStatus `gorm:"size:20;index:idx_opt_shop_product_status" json:"status"`

	ControlAllocation float64 `json:"control_allocation"` // percentages summing to ~100
	VariantAllocation float64 `json:"variant_allocation"`

	BayesianState BayesianState `gorm:"type:text" json:"bayesian_state"`

	Impressions          int64 `json:"impressions"`
	ControlImpressions   int64 `json:"control_impressions"`
	VariantImpressions   int64 `json:"variant_impressions"`

	Conversions        int64 `json:"conversions"`
	ControlConversions int64 `json:"control_conversions"`
	VariantConversions int64 `json:"variant_conversions"`

	Revenue        decimal.Decimal `gorm:"type:decimal(14,4)" json:"revenue"`
	ControlRevenue decimal.Decimal `gorm:"type:decimal(14,4)" json:"control_revenue"`
	VariantRevenue decimal.Decimal `gorm:"type:decimal(14,4)" json:"variant_revenue"`

	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Optimization) TableName() string { return "optimizations" }

// ARPU is revenue / conversions across both arms; zero when there are
// no conversions yet.
func (o *Optimization) ARPU() decimal.Decimal {
	if o.Conversions == 0 {
		return decimal.Zero
	}
	return o.Revenue.DivRound(decimal.NewFromInt(o.Conversions), 4)
}

// ArmARPU is revenue / conversions for a single arm.
func (o *Optimization) ArmARPU(v Variant) decimal.Decimal {
	switch v {
	case VariantControl:
		if o.ControlConversions == 0 {
			return decimal.Zero
		}
		return o.ControlRevenue.DivRound(decimal.NewFromInt(o.ControlConversions), 4)
	default:
		if o.VariantConversions == 0 {
			return decimal.Zero
		}
		return o.VariantRevenue.DivRound(decimal.NewFromInt(o.VariantConversions), 4)
	}
}

// NormalizedAllocation returns the control/variant split as fractions
// summing to 1, defaulting to 50/50 when both allocations are zero and
// normalizing when they don't sum to 100, per spec §4.4 step 3.
func (o *Optimization) NormalizedAllocation() (control, variant float64) {
	c, v := o.ControlAllocation, o.VariantAllocation
	if c == 0 && v == 0 {
		return 0.5, 0.5
	}
	total := c + v
	return c / total, v / total
}

// IsActive reports whether the optimization currently serves traffic.
func (o *Optimization) IsActive() bool {
	return o.Status == StatusActive
}
