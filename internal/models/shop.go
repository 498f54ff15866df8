package models

import "time"

// Shop is the tenant isolator. Every other entity is shop-scoped; every
// store query filters by shop. A Shop is created implicitly on first
// contact and never deleted except by an explicit tenant purge
// (store.DeleteAllShopData).
type Shop struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Shop      string    `gorm:"uniqueIndex;size:255" json:"shop"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Shop) TableName() string { return "shops" }
