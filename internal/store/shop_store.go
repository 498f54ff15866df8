package store

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iaros/optimization-engine/internal/apperr"
	"github.com/iaros/optimization-engine/internal/models"
)

// ShopStore manages tenant records.
type ShopStore struct {
	db *gorm.DB
}

func NewShopStore(db *gorm.DB) *ShopStore {
	return &ShopStore{db: db}
}

// GetOrCreate returns the Shop row for domain, creating it on first
// contact (e.g. the first ingestion call from a merchant the engine
// has never seen).
func (s *ShopStore) GetOrCreate(domain string) (*models.Shop, error) {
	var shop models.Shop
	err := s.db.Where("shop = ?", domain).First(&shop).Error
	if err == nil {
		return &shop, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewDataIntegrityError("store.Shop.GetOrCreate", "query failed", err)
	}

	shop = models.Shop{Shop: domain}
	if err := s.db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "shop"}}, DoNothing: true}).
		Create(&shop).Error; err != nil {
		return nil, apperr.NewDataIntegrityError("store.Shop.GetOrCreate", "insert failed", err)
	}
	if shop.ID == 0 {
		if err := s.db.Where("shop = ?", domain).First(&shop).Error; err != nil {
			return nil, apperr.NewDataIntegrityError("store.Shop.GetOrCreate", "re-read after conflict failed", err)
		}
	}
	return &shop, nil
}
