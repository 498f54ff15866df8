package store

import (
	"gorm.io/gorm"

	"github.com/iaros/optimization-engine/internal/apperr"
	"github.com/iaros/optimization-engine/internal/models"
)

// ShopPurger cascades a full tenant erase, satisfying the shop/redact
// webhook contract. It deletes children before parents so foreign
// keys never dangle, all inside one transaction: a failure partway
// through leaves the shop's data untouched rather than half-purged.
type ShopPurger struct {
	db *gorm.DB
}

func NewShopPurger(db *gorm.DB) *ShopPurger {
	return &ShopPurger{db: db}
}

// DeleteAllShopData idempotently erases every row belonging to shop.
// Calling it twice for a shop with no remaining data is a no-op, not
// an error.
func (p *ShopPurger) DeleteAllShopData(shop string) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		var optimizationIDs []uint
		if err := tx.Model(&models.Optimization{}).Where("shop = ?", shop).Pluck("id", &optimizationIDs).Error; err != nil {
			return apperr.NewDataIntegrityError("store.ShopPurger.DeleteAllShopData", "lookup optimizations failed", err)
		}

		if len(optimizationIDs) > 0 {
			if err := tx.Where("optimization_id IN ?", optimizationIDs).Delete(&models.OptimizationImpression{}).Error; err != nil {
				return apperr.NewDataIntegrityError("store.ShopPurger.DeleteAllShopData", "delete impressions failed", err)
			}
			if err := tx.Where("optimization_id IN ?", optimizationIDs).Delete(&models.OptimizationConversion{}).Error; err != nil {
				return apperr.NewDataIntegrityError("store.ShopPurger.DeleteAllShopData", "delete conversions failed", err)
			}
			if err := tx.Where("optimization_id IN ?", optimizationIDs).Delete(&models.EvolutionSnapshot{}).Error; err != nil {
				return apperr.NewDataIntegrityError("store.ShopPurger.DeleteAllShopData", "delete snapshots failed", err)
			}
			if err := tx.Where("optimization_id IN ?", optimizationIDs).Delete(&models.SessionAssignment{}).Error; err != nil {
				return apperr.NewDataIntegrityError("store.ShopPurger.DeleteAllShopData", "delete assignments failed", err)
			}
		}

		if err := tx.Where("shop = ?", shop).Delete(&models.Optimization{}).Error; err != nil {
			return apperr.NewDataIntegrityError("store.ShopPurger.DeleteAllShopData", "delete optimizations failed", err)
		}
		if err := tx.Where("shop = ?", shop).Delete(&models.Product{}).Error; err != nil {
			return apperr.NewDataIntegrityError("store.ShopPurger.DeleteAllShopData", "delete products failed", err)
		}
		if err := tx.Where("shop = ?", shop).Delete(&models.ProcessedOrder{}).Error; err != nil {
			return apperr.NewDataIntegrityError("store.ShopPurger.DeleteAllShopData", "delete processed orders failed", err)
		}
		if err := tx.Where("shop = ?", shop).Delete(&models.Shop{}).Error; err != nil {
			return apperr.NewDataIntegrityError("store.ShopPurger.DeleteAllShopData", "delete shop record failed", err)
		}
		return nil
	})
}
