package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iaros/optimization-engine/internal/apperr"
	"github.com/iaros/optimization-engine/internal/models"
)

// ProductStore manages the merchant catalog mirror.
type ProductStore struct {
	db *gorm.DB
}

func NewProductStore(db *gorm.DB) *ProductStore {
	return &ProductStore{db: db}
}

// Get retrieves one product by id, scoped to shop.
func (s *ProductStore) Get(shop string, id uint) (*models.Product, error) {
	var product models.Product
	err := s.db.Where("shop = ? AND id = ?", shop, id).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewNotFound("store.Product.Get", fmt.Sprintf("product %d not found for shop %s", id, shop))
	}
	if err != nil {
		return nil, apperr.NewDataIntegrityError("store.Product.Get", "query failed", err)
	}
	return &product, nil
}

// Upsert creates or updates a product keyed on (shop, external_product_id),
// matching the catalog-sync collaborator's idempotent-by-external-id
// contract.
func (s *ProductStore) Upsert(product *models.Product) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop"}, {Name: "external_product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "description", "price", "images", "variants", "updated_at"}),
	}).Create(product).Error
	if err != nil {
		return apperr.NewDataIntegrityError("store.Product.Upsert", "upsert failed", err)
	}
	return nil
}
