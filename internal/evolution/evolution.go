// Package evolution is C7: recording the allocation time series an
// optimization traveled through, so the admin UI and the batch
// simulator can replay how the split moved over time. Bulk-insert
// style is grounded on order_service/src/repository/order_repository.go's
// batched Create usage.
package evolution

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iaros/optimization-engine/internal/models"
	"github.com/iaros/optimization-engine/internal/store"
)

// Recorder appends evolution snapshots.
type Recorder struct {
	events *store.EventStore
}

func NewRecorder(events *store.EventStore) *Recorder {
	return &Recorder{events: events}
}

// Record captures the optimization's counters and current allocation
// as a single snapshot point. Call after every allocation update in
// production; the batch simulator instead calls this every 100
// impressions to keep its snapshot volume bounded.
func (r *Recorder) Record(opt *models.Optimization) error {
	snapshot := models.EvolutionSnapshot{
		OptimizationID:        opt.ID,
		CumulativeImpressions: opt.Impressions,
		ControlImpressions:    opt.ControlImpressions,
		ControlConversions:    opt.ControlConversions,
		ControlRevenue:        opt.ControlRevenue,
		ControlRPV:            rpv(opt.ControlRevenue, opt.ControlImpressions),
		VariantImpressions:    opt.VariantImpressions,
		VariantConversions:    opt.VariantConversions,
		VariantRevenue:        opt.VariantRevenue,
		VariantRPV:            rpv(opt.VariantRevenue, opt.VariantImpressions),
		ControlAllocation:     opt.ControlAllocation,
		VariantAllocation:     opt.VariantAllocation,
		CreatedAt:             time.Now().UTC(),
	}
	return r.events.CreateSnapshots([]models.EvolutionSnapshot{snapshot})
}

func rpv(revenue decimal.Decimal, impressions int64) float64 {
	if impressions == 0 {
		return 0
	}
	v, _ := revenue.Float64()
	return v / float64(impressions)
}

// Replay returns the full snapshot history for an optimization,
// ordered by cumulative impressions, for charting allocation movement.
func (r *Recorder) Replay(optimizationID uint) ([]models.EvolutionSnapshot, error) {
	return r.events.SnapshotsForOptimization(optimizationID)
}
