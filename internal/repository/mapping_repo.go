package repository

import (
	"context"

	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
)

// ==================== 接口定义 ====================

// MappingRepository SKU 映射仓储
type MappingRepository interface {
	Get(ctx context.Context, accountID int64, sku string) (*model.SkuMapping, error)
	Create(ctx context.Context, m *model.SkuMapping) error
	Save(ctx context.Context, m *model.SkuMapping) error
	// ListMapped 账号下已映射 (未忽略且有商品) 的全部映射
	ListMapped(ctx context.Context, accountID int64) ([]model.SkuMapping, error)
	ListBySKUs(ctx context.Context, accountID int64, skus []string) ([]model.SkuMapping, error)
}

// ==================== 仓储实现 ====================

type mappingRepo struct {
	db *gorm.DB
}

// NewMappingRepository 创建映射仓储
func NewMappingRepository(db *gorm.DB) MappingRepository {
	return &mappingRepo{db: db}
}

func (r *mappingRepo) Get(ctx context.Context, accountID int64, sku string) (*model.SkuMapping, error) {
	var m model.SkuMapping
	err := r.db.WithContext(ctx).
		Where("provider = ? AND account_id = ? AND remote_sku = ?", model.ProviderEbay, accountID, sku).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *mappingRepo) Create(ctx context.Context, m *model.SkuMapping) error {
	if m.Provider == "" {
		m.Provider = model.ProviderEbay
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *mappingRepo) Save(ctx context.Context, m *model.SkuMapping) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *mappingRepo) ListMapped(ctx context.Context, accountID int64) ([]model.SkuMapping, error) {
	var list []model.SkuMapping
	err := r.db.WithContext(ctx).
		Where("provider = ? AND account_id = ? AND ignored = ? AND product_id IS NOT NULL",
			model.ProviderEbay, accountID, false).
		Order("remote_sku ASC").
		Find(&list).Error
	return list, err
}

func (r *mappingRepo) ListBySKUs(ctx context.Context, accountID int64, skus []string) ([]model.SkuMapping, error) {
	var list []model.SkuMapping
	if len(skus) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).
		Where("provider = ? AND account_id = ? AND remote_sku IN ?", model.ProviderEbay, accountID, skus).
		Find(&list).Error
	return list, err
}
