package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ProductVariant is one purchasable variant of a product (size, color,
// ...), carried as opaque data since the core never reasons about
// variant structure directly.
type ProductVariant struct {
	ID    string          `json:"id"`
	Price decimal.Decimal `json:"price"`
	Cost  decimal.Decimal `json:"cost,omitempty"`
}

// Product mirrors the merchant's catalog entry for one item.
// (shop, external_product_id) is unique. Products are mutated only by
// the catalog-sync collaborator; the optimization core only reads
// them.
type Product struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Shop             string    `gorm:"size:255;uniqueIndex:idx_product_shop_external" json:"shop"`
	ExternalProductID string   `gorm:"size:255;uniqueIndex:idx_product_shop_external" json:"external_product_id"`
	Title            string    `gorm:"size:500" json:"title"`
	Description      string    `gorm:"type:text" json:"description"`
	Price            decimal.Decimal `gorm:"type:decimal(12,4)" json:"price"`
	Images           string    `gorm:"type:text" json:"-"` // JSON array of URLs
	Variants         string    `gorm:"type:text" json:"-"` // JSON array of ProductVariant
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Product) TableName() string { return "products" }

// GetImages decodes the stored image URL list.
func (p *Product) GetImages() ([]string, error) {
	if p.Images == "" {
		return []string{}, nil
	}
	var images []string
	err := json.Unmarshal([]byte(p.Images), &images)
	return images, err
}

// SetImages encodes and stores the image URL list.
func (p *Product) SetImages(images []string) error {
	data, err := json.Marshal(images)
	if err != nil {
		return err
	}
	p.Images = string(data)
	return nil
}

// GetVariants decodes the stored variant list.
func (p *Product) GetVariants() ([]ProductVariant, error) {
	if p.Variants == "" {
		return []ProductVariant{}, nil
	}
	var variants []ProductVariant
	err := json.Unmarshal([]byte(p.Variants), &variants)
	return variants, err
}

// SetVariants encodes and stores the variant list.
func (p *Product) SetVariants(variants []ProductVariant) error {
	data, err := json.Marshal(variants)
	if err != nil {
		return err
	}
	p.Variants = string(data)
	return nil
}
