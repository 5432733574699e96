package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
)

// ==================== 接口定义 ====================

// StockRepository 库存读写
type StockRepository interface {
	GetPool(ctx context.Context, id int64) (*model.StockPool, error)
	GetBucketByLabel(ctx context.Context, label string) (*model.StockBucket, error)
	GetBucketLevels(ctx context.Context, bucketID int64, productIDs []int64) (map[int64]int, error)

	// Decrement 按来源字段扣减，结果钳制在 0，返回扣减后的值
	Decrement(ctx context.Context, product *model.Product, source model.QuantitySource, qty int) (int, error)
	// DecrementBucket 扣减库存桶，返回是否存在对应行
	DecrementBucket(ctx context.Context, bucketID, productID int64, qty int) (bool, error)
}

// ==================== 仓储实现 ====================

type stockRepo struct {
	db *gorm.DB
}

// NewStockRepository 创建库存仓储
func NewStockRepository(db *gorm.DB) StockRepository {
	return &stockRepo{db: db}
}

// clampedDecrement 单条 UPDATE 内完成钳制，postgres 与 sqlite 通用
func clampedDecrement(column string, qty int) interface{} {
	return gorm.Expr(fmt.Sprintf("CASE WHEN %[1]s > ? THEN %[1]s - ? ELSE 0 END", column), qty, qty)
}

func (r *stockRepo) GetPool(ctx context.Context, id int64) (*model.StockPool, error) {
	var pool model.StockPool
	if err := r.db.WithContext(ctx).First(&pool, id).Error; err != nil {
		return nil, err
	}
	return &pool, nil
}

func (r *stockRepo) GetBucketByLabel(ctx context.Context, label string) (*model.StockBucket, error) {
	var bucket model.StockBucket
	if err := r.db.WithContext(ctx).Where("label = ?", label).First(&bucket).Error; err != nil {
		return nil, err
	}
	return &bucket, nil
}

func (r *stockRepo) GetBucketLevels(ctx context.Context, bucketID int64, productIDs []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	var levels []model.StockBucketLevel
	err := r.db.WithContext(ctx).
		Where("bucket_id = ? AND product_id IN ?", bucketID, productIDs).
		Find(&levels).Error
	if err != nil {
		return nil, err
	}
	for _, l := range levels {
		out[l.ProductID] = l.Quantity
	}
	return out, nil
}

func (r *stockRepo) Decrement(ctx context.Context, product *model.Product, source model.QuantitySource, qty int) (int, error) {
	db := r.db.WithContext(ctx)

	switch source {
	case model.SourceSharedPool:
		if product.StockPoolID == nil {
			return 0, errors.New("商品未加入共享库存池")
		}
		if err := db.Model(&model.StockPool{}).Where("id = ?", *product.StockPoolID).
			UpdateColumn("quantity", clampedDecrement("quantity", qty)).Error; err != nil {
			return 0, err
		}
		var pool model.StockPool
		if err := db.First(&pool, *product.StockPoolID).Error; err != nil {
			return 0, err
		}
		return pool.Quantity, nil

	case model.SourceMirrored, model.SourceTotal, model.SourceLegacy:
		column := map[model.QuantitySource]string{
			model.SourceMirrored: "shared_quantity",
			model.SourceTotal:    "total_quantity",
			model.SourceLegacy:   "quantity",
		}[source]
		if err := db.Model(&model.Product{}).Where("id = ?", product.ID).
			Update(column, clampedDecrement(column, qty)).Error; err != nil {
			return 0, err
		}
		var fresh model.Product
		if err := db.First(&fresh, product.ID).Error; err != nil {
			return 0, err
		}
		switch source {
		case model.SourceMirrored:
			return derefInt(fresh.SharedQuantity), nil
		case model.SourceTotal:
			return derefInt(fresh.TotalQuantity), nil
		default:
			return fresh.Quantity, nil
		}
	}
	return 0, fmt.Errorf("未知库存来源: %s", source)
}

func (r *stockRepo) DecrementBucket(ctx context.Context, bucketID, productID int64, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.StockBucketLevel{}).
		Where("bucket_id = ? AND product_id = ?", bucketID, productID).
		UpdateColumn("quantity", clampedDecrement("quantity", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
