package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ebay_sync_v1_202610/internal/model"
)

// ListingRepository 在售信息缓存
type ListingRepository interface {
	// UpsertMarketplaceFields 只更新平台侧字段
	UpsertMarketplaceFields(ctx context.Context, rows []model.ListingCache) error
	ListByAccount(ctx context.Context, accountID int64) ([]model.ListingCache, error)
}

type listingRepo struct {
	db *gorm.DB
}

// NewListingRepository 创建在售缓存仓储
func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepo{db: db}
}

func (r *listingRepo) UpsertMarketplaceFields(ctx context.Context, rows []model.ListingCache) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "sku"}, {Name: "offer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"listing_id", "title", "price", "currency", "status", "updated_at"}),
		}).
		CreateInBatches(rows, 100).Error
}

func (r *listingRepo) ListByAccount(ctx context.Context, accountID int64) ([]model.ListingCache, error) {
	var rows []model.ListingCache
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("sku ASC, offer_id ASC").
		Find(&rows).Error
	return rows, err
}
