package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iaros/optimization-engine/internal/apperr"
	"github.com/iaros/optimization-engine/internal/models"
)

// AssignmentStore manages sticky session assignments.
type AssignmentStore struct {
	db *gorm.DB
}

func NewAssignmentStore(db *gorm.DB) *AssignmentStore {
	return &AssignmentStore{db: db}
}

// Get returns the assignment for (shop, sessionID, optimizationID) if
// one exists, regardless of whether it has expired; callers decide
// whether an expired row should be redrawn.
func (s *AssignmentStore) Get(shop, sessionID string, optimizationID uint) (*models.SessionAssignment, error) {
	var assignment models.SessionAssignment
	err := s.db.Where("shop = ? AND session_id = ? AND optimization_id = ?", shop, sessionID, optimizationID).
		First(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.NewDataIntegrityError("store.Assignment.Get", "query failed", err)
	}
	return &assignment, nil
}

// GetBySession returns every assignment a session holds across
// optimizations, used by the attribution pipeline to find which arm a
// converting session was shown.
func (s *AssignmentStore) GetBySession(shop, sessionID string) ([]models.SessionAssignment, error) {
	var assignments []models.SessionAssignment
	if err := s.db.Where("shop = ? AND session_id = ?", shop, sessionID).Find(&assignments).Error; err != nil {
		return nil, apperr.NewDataIntegrityError("store.Assignment.GetBySession", "query failed", err)
	}
	return assignments, nil
}

// CreateIfAbsent atomically inserts a new assignment, or returns the
// existing one if a concurrent request already created it first. The
// ON CONFLICT DO NOTHING + re-read pattern keeps the "first write
// wins, stays sticky" invariant from spec §4.4 correct under races
// without taking an explicit row lock.
func (s *AssignmentStore) CreateIfAbsent(assignment *models.SessionAssignment) (*models.SessionAssignment, error) {
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(assignment).Error
	if err != nil {
		return nil, apperr.NewDataIntegrityError("store.Assignment.CreateIfAbsent", "insert failed", err)
	}
	if assignment.ID != 0 {
		return assignment, nil
	}
	existing, err := s.Get(assignment.Shop, assignment.SessionID, assignment.OptimizationID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.NewDataIntegrityError("store.Assignment.CreateIfAbsent", "insert skipped but no existing row found", nil)
	}
	return existing, nil
}

// PurgeExpiredBefore deletes assignments whose ExpiresAt is before the
// cutoff. Exposed so a scheduled job can bound table growth; not
// required for correctness since Expired() is checked on read too.
func (s *AssignmentStore) PurgeExpiredBefore(cutoff time.Time) (int64, error) {
	result := s.db.Where("expires_at < ?", cutoff).Delete(&models.SessionAssignment{})
	if result.Error != nil {
		return 0, apperr.NewDataIntegrityError("store.Assignment.PurgeExpiredBefore", "delete failed", result.Error)
	}
	return result.RowsAffected, nil
}
