package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptimizationImpression is an append-only record of one variant view.
// Used to reconstruct aggregates in testing and to back the
// attribution audit trail.
type OptimizationImpression struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Shop           string    `gorm:"size:255" json:"shop"`
	OptimizationID uint      `gorm:"index" json:"optimization_id"`
	SessionID      string    `gorm:"size:255" json:"session_id"`
	Variant        Variant   `gorm:"size:20" json:"variant"`
	CreatedAt      time.Time `json:"created_at"`
}

func (OptimizationImpression) TableName() string { return "optimization_impressions" }

// OptimizationConversion is an append-only record of one attributed
// order credited to a variant.
type OptimizationConversion struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Shop           string          `gorm:"size:255" json:"shop"`
	OptimizationID uint            `gorm:"index" json:"optimization_id"`
	SessionID      string          `gorm:"size:255" json:"session_id"`
	Variant        Variant         `gorm:"size:20" json:"variant"`
	Revenue        decimal.Decimal `gorm:"type:decimal(14,4)" json:"revenue"`
	Quantity       int64           `json:"quantity"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (OptimizationConversion) TableName() string { return "optimization_conversions" }

// EvolutionSnapshot is an append-only time-series point recorded at
// every allocation update (and every 100 impressions in batch
// simulation). Snapshots are strictly ordered by CumulativeImpressions
// within an optimization.
type EvolutionSnapshot struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	OptimizationID uint    `gorm:"index:idx_snapshot_opt_impressions" json:"optimization_id"`

	CumulativeImpressions int64 `gorm:"index:idx_snapshot_opt_impressions" json:"cumulative_impressions"`

	ControlImpressions int64           `json:"control_impressions"`
	ControlConversions int64           `json:"control_conversions"`
	ControlRevenue     decimal.Decimal `gorm:"type:decimal(14,4)" json:"control_revenue"`
	ControlRPV         float64         `json:"control_rpv"`

	VariantImpressions int64           `json:"variant_impressions"`
	VariantConversions int64           `json:"variant_conversions"`
	VariantRevenue     decimal.Decimal `gorm:"type:decimal(14,4)" json:"variant_revenue"`
	VariantRPV         float64         `json:"variant_rpv"`

	ControlAllocation float64   `json:"control_allocation"`
	VariantAllocation float64   `json:"variant_allocation"`
	CreatedAt         time.Time `json:"created_at"`
}

func (EvolutionSnapshot) TableName() string { return "optimization_evolution_snapshots" }

// ProcessedOrder records that an order webhook delivery has already
// been applied, making attribution idempotent under retried
// deliveries (resolves the dedup gap named in spec.md §9).
type ProcessedOrder struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Shop            string    `gorm:"size:255;uniqueIndex:idx_processed_order_shop_external" json:"shop"`
	ExternalOrderID string    `gorm:"size:255;uniqueIndex:idx_processed_order_shop_external" json:"external_order_id"`
	ProcessedAt     time.Time `json:"processed_at"`
}

func (ProcessedOrder) TableName() string { return "processed_orders" }
