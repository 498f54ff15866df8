package store

import (
	"gorm.io/gorm"

	"github.com/iaros/optimization-engine/internal/apperr"
	"github.com/iaros/optimization-engine/internal/models"
)

// maxBatchSize caps a single bulk insert per spec §4.1, so one call
// from the ingestion API or the batch simulator can't build an
// unbounded statement.
const maxBatchSize = 10000

// EventStore bulk-inserts the append-only audit trail: impressions,
// conversions, and evolution snapshots. Grounded on
// order_service/src/repository/order_repository.go's batched
// transactional Create pattern.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// CreateImpressions bulk-inserts impression records.
func (s *EventStore) CreateImpressions(rows []models.OptimizationImpression) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.CreateInBatches(rows, maxBatchSize).Error; err != nil {
		return apperr.NewDataIntegrityError("store.Event.CreateImpressions", "batch insert failed", err)
	}
	return nil
}

// CreateConversions bulk-inserts conversion records.
func (s *EventStore) CreateConversions(rows []models.OptimizationConversion) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.CreateInBatches(rows, maxBatchSize).Error; err != nil {
		return apperr.NewDataIntegrityError("store.Event.CreateConversions", "batch insert failed", err)
	}
	return nil
}

// CreateSnapshots bulk-inserts evolution snapshots.
func (s *EventStore) CreateSnapshots(rows []models.EvolutionSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.CreateInBatches(rows, maxBatchSize).Error; err != nil {
		return apperr.NewDataIntegrityError("store.Event.CreateSnapshots", "batch insert failed", err)
	}
	return nil
}

// SnapshotsForOptimization returns every recorded snapshot for one
// optimization, ordered by cumulative impressions, for evolution
// playback.
func (s *EventStore) SnapshotsForOptimization(optimizationID uint) ([]models.EvolutionSnapshot, error) {
	var snapshots []models.EvolutionSnapshot
	err := s.db.Where("optimization_id = ?", optimizationID).
		Order("cumulative_impressions ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, apperr.NewDataIntegrityError("store.Event.SnapshotsForOptimization", "query failed", err)
	}
	return snapshots, nil
}

// MarkOrderProcessed records that an order webhook delivery has been
// applied. It relies on the unique index on (shop, external_order_id)
// to make retried deliveries a no-op: the caller checks the returned
// error with apperr duplicate semantics rather than querying first,
// avoiding a check-then-act race between concurrent webhook retries.
func (s *EventStore) MarkOrderProcessed(tx *gorm.DB, order *models.ProcessedOrder) error {
	if err := tx.Create(order).Error; err != nil {
		return err // caller inspects for a unique-constraint violation
	}
	return nil
}

// WithTransaction runs fn inside a single DB transaction, matching
// order_service's tx.Begin()/Commit()/Rollback() usage around
// multi-row writes that must succeed or fail together (attribution's
// dedup-check + counter-increment + conversion-row-insert).
func (s *EventStore) WithTransaction(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}
