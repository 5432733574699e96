package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingCache 平台在售信息缓存，只保存平台侧字段
type ListingCache struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64           `gorm:"not null;uniqueIndex:idx_listing_key" json:"account_id"`
	SKU       string          `gorm:"size:128;not null;uniqueIndex:idx_listing_key" json:"sku"`
	OfferID   string          `gorm:"size:64;not null;uniqueIndex:idx_listing_key" json:"offer_id"` // 无 offer 时为空串
	ListingID string          `gorm:"size:64" json:"listing_id"`
	Title     string          `gorm:"size:255" json:"title"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"`
	Currency  string          `gorm:"size:10" json:"currency"`
	Status    string          `gorm:"size:30" json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (ListingCache) TableName() string {
	return "listing_cache"
}
