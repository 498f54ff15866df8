package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/iaros/optimization-engine/internal/apperr"
	"github.com/iaros/optimization-engine/internal/models"
)

// OptimizationStore provides shop-scoped access to Optimization rows.
// Every read, update and delete filters on shop, even where the
// primary key alone would suffice, so a caller can never accidentally
// cross a tenant boundary. Put and Update take the shop from the
// struct; the other methods take it as an argument.
type OptimizationStore struct {
	db *gorm.DB
}

func NewOptimizationStore(db *gorm.DB) *OptimizationStore {
	return &OptimizationStore{db: db}
}

// Get retrieves one optimization by id, scoped to shop.
func (s *OptimizationStore) Get(shop string, id uint) (*models.Optimization, error) {
	var opt models.Optimization
	err := s.db.Where("shop = ? AND id = ?", shop, id).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewNotFound("store.Optimization.Get", fmt.Sprintf("optimization %d not found for shop %s", id, shop))
	}
	if err != nil {
		return nil, apperr.NewDataIntegrityError("store.Optimization.Get", "query failed", err)
	}
	return &opt, nil
}

// Put creates a new optimization row.
func (s *OptimizationStore) Put(opt *models.Optimization) error {
	if err := s.db.Create(opt).Error; err != nil {
		return apperr.NewDataIntegrityError("store.Optimization.Put", "insert failed", err)
	}
	return nil
}

// Update persists changes to an existing optimization. The shop column
// is never part of the update set: callers pass a full struct but this
// method always re-asserts shop in the WHERE clause and excludes shop
// from the SET list, so a forged/stale shop value on the struct can
// never reassign the row to a different tenant.
func (s *OptimizationStore) Update(opt *models.Optimization) error {
	result := s.db.Model(&models.Optimization{}).
		Where("shop = ? AND id = ?", opt.Shop, opt.ID).
		Omit("shop", "id", "created_at").
		Select("*").
		Updates(opt)
	if result.Error != nil {
		return apperr.NewDataIntegrityError("store.Optimization.Update", "update failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NewNotFound("store.Optimization.Update", fmt.Sprintf("optimization %d not found for shop %s", opt.ID, opt.Shop))
	}
	return nil
}

// Delete removes an optimization and, in the same transaction, its
// impressions, conversions, snapshots, and session assignments.
func (s *OptimizationStore) Delete(shop string, id uint) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Optimization{}).Where("shop = ? AND id = ?", shop, id).Count(&count).Error; err != nil || count == 0 {
			return err
		}
		for _, child := range []interface{}{&models.OptimizationImpression{}, &models.OptimizationConversion{}, &models.EvolutionSnapshot{}, &models.SessionAssignment{}} {
			if err := tx.Where("optimization_id = ?", id).Delete(child).Error; err != nil {
				return err
			}
		}
		return tx.Where("shop = ? AND id = ?", shop, id).Delete(&models.Optimization{}).Error
	})
	if err != nil {
		return apperr.NewDataIntegrityError("store.Optimization.Delete", "delete failed", err)
	}
	return nil
}

// ActiveOptimizationsByProduct lists active optimizations for a
// product, optionally narrowed to one optimization type.
func (s *OptimizationStore) ActiveOptimizationsByProduct(shop string, productID uint, optimizationType *models.OptimizationType) ([]models.Optimization, error) {
	query := s.db.Where("shop = ? AND product_id = ? AND status = ?", shop, productID, models.StatusActive)
	if optimizationType != nil {
		query = query.Where("optimization_type = ?", *optimizationType)
	}
	var opts []models.Optimization
	if err := query.Find(&opts).Error; err != nil {
		return nil, apperr.NewDataIntegrityError("store.Optimization.ActiveOptimizationsByProduct", "query failed", err)
	}
	return opts, nil
}

// ConflictingActive returns the id of an existing active optimization
// for (shop, product, type) other than excludeID, if any. Used by the
// lifecycle controller to refuse a second concurrent activation.
func (s *OptimizationStore) ConflictingActive(shop string, productID uint, optimizationType models.OptimizationType, excludeID uint) (uint, bool, error) {
	var opt models.Optimization
	err := s.db.Where("shop = ? AND product_id = ? AND optimization_type = ? AND status = ? AND id != ?",
		shop, productID, optimizationType, models.StatusActive, excludeID).
		First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperr.NewDataIntegrityError("store.Optimization.ConflictingActive", "query failed", err)
	}
	return opt.ID, true, nil
}

// IncrementImpression atomically bumps the impression counters for the
// given arm using a SQL-level UPDATE ... SET x = x + 1, satisfying the
// serializability requirement from spec §5 without a read-modify-write
// round trip in Go.
func (s *OptimizationStore) IncrementImpression(shop string, id uint, variant models.Variant) error {
	column := "control_impressions"
	if variant == models.VariantVariant {
		column = "variant_impressions"
	}
	result := s.db.Model(&models.Optimization{}).
		Where("shop = ? AND id = ? AND status = ?", shop, id, models.StatusActive).
		Updates(map[string]interface{}{
			"impressions": gorm.Expr("impressions + 1"),
			column:        gorm.Expr(column + " + 1"),
		})
	if result.Error != nil {
		return apperr.NewDataIntegrityError("store.Optimization.IncrementImpression", "update failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NewStateConflict("store.Optimization.IncrementImpression", "optimization is not active", fmt.Sprintf("%d", id))
	}
	return nil
}

// IncrementConversion atomically bumps the conversion and revenue
// counters for the given arm.
func (s *OptimizationStore) IncrementConversion(shop string, id uint, variant models.Variant, revenue string) error {
	conversionColumn := "control_conversions"
	revenueColumn := "control_revenue"
	if variant == models.VariantVariant {
		conversionColumn = "variant_conversions"
		revenueColumn = "variant_revenue"
	}
	result := s.db.Model(&models.Optimization{}).
		Where("shop = ? AND id = ? AND status = ?", shop, id, models.StatusActive).
		Updates(map[string]interface{}{
			"conversions":     gorm.Expr("conversions + 1"),
			conversionColumn:  gorm.Expr(conversionColumn + " + 1"),
			"revenue":         gorm.Expr("revenue + ?", revenue),
			revenueColumn:     gorm.Expr(revenueColumn + " + ?", revenue),
		})
	if result.Error != nil {
		return apperr.NewDataIntegrityError("store.Optimization.IncrementConversion", "update failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NewStateConflict("store.Optimization.IncrementConversion", "optimization is not active", fmt.Sprintf("%d", id))
	}
	return nil
}
