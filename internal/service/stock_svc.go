package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
)

// 父商品链最大深度，防止脏数据成环
const maxParentDepth = 5

// StockService 库存解析与扣减
// 库存永远落在根商品上，子商品只是展示
type StockService struct {
	products    repository.ProductRepository
	stock       repository.StockRepository
	bucketLabel string
	log         *zap.Logger
}

// NewStockService bucketLabel: 平台专属库存桶标签，为空表示不使用库存桶
func NewStockService(products repository.ProductRepository, stock repository.StockRepository, bucketLabel string, log *zap.Logger) *StockService {
	return &StockService{
		products:    products,
		stock:       stock,
		bucketLabel: bucketLabel,
		log:         log.Named("stock"),
	}
}

// Decrement 扣减结果
type Decrement struct {
	ParentID int64
	Source   model.QuantitySource
	Before   int
	After    int
}

// Product 按 ID 读取商品
func (s *StockService) Product(ctx context.Context, id int64) (*model.Product, error) {
	return s.products.GetByID(ctx, id)
}

// ResolveParent 找到根商品；没有父商品的商品就是自己的父商品
func (s *StockService) ResolveParent(ctx context.Context, productID int64) (*model.Product, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	for depth := 0; !p.IsRoot(); depth++ {
		if depth >= maxParentDepth {
			return nil, fmt.Errorf("商品 %d 的父商品链过深", productID)
		}
		parent, err := s.products.GetByID(ctx, *p.ParentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 父商品已删除，退回自身
			s.log.Warn("父商品不存在", zap.Int64("product_id", p.ID), zap.Int64("parent_id", *p.ParentID))
			return p, nil
		}
		if err != nil {
			return nil, err
		}
		p = parent
	}
	return p, nil
}

// AuthoritativeQuantity 按优先级链取唯一的权威库存
func (s *StockService) AuthoritativeQuantity(ctx context.Context, p *model.Product) (int, model.QuantitySource, error) {
	return authoritative(ctx, s.stock, p)
}

func authoritative(ctx context.Context, stock repository.StockRepository, p *model.Product) (int, model.QuantitySource, error) {
	if p.StockPoolID != nil && *p.StockPoolID > 0 {
		pool, err := stock.GetPool(ctx, *p.StockPoolID)
		if err == nil {
			return pool.Quantity, model.SourceSharedPool, nil
		}
		// 池已删除时按商品自身字段继续
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, "", err
		}
	}
	if p.SharedQuantity != nil {
		return *p.SharedQuantity, model.SourceMirrored, nil
	}
	if p.TotalQuantity != nil {
		return *p.TotalQuantity, model.SourceTotal, nil
	}
	return p.Quantity, model.SourceLegacy, nil
}

// DecrementIn 在订单行事务内扣减父商品库存，钳制在 0
func (s *StockService) DecrementIn(ctx context.Context, uow *repository.IngestUnitOfWork, parent *model.Product, qty int) (*Decrement, error) {
	before, source, err := authoritative(ctx, uow.Stock, parent)
	if err != nil {
		return nil, err
	}
	after, err := uow.Stock.Decrement(ctx, parent, source, qty)
	if err != nil {
		return nil, fmt.Errorf("扣减库存失败: %w", err)
	}
	return &Decrement{ParentID: parent.ID, Source: source, Before: before, After: after}, nil
}

// MirrorToBucket 同步扣减平台库存桶，失败不回滚主扣减
func (s *StockService) MirrorToBucket(ctx context.Context, parentID int64, qty int) BestEffort {
	const step = "bucket_mirror"
	if s.bucketLabel == "" {
		return skipped(step)
	}
	bucket, err := s.stock.GetBucketByLabel(ctx, s.bucketLabel)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return skipped(step)
	}
	if err != nil {
		return BestEffort{Step: step, Err: err}.Log(s.log, zap.Int64("parent_id", parentID))
	}

	var found bool
	res := attempt(step, func() error {
		var err error
		found, err = s.stock.DecrementBucket(ctx, bucket.ID, parentID, qty)
		return err
	}).Log(s.log, zap.Int64("parent_id", parentID), zap.String("bucket", s.bucketLabel))
	if res.Err == nil && !found {
		return skipped(step)
	}
	return res
}

// PushQuantities 推送给平台的数量
// 定义了平台库存桶时以桶为准 (没有行按 0)，否则按优先级链
func (s *StockService) PushQuantities(ctx context.Context, parentIDs []int64) (map[int64]int, error) {
	if s.bucketLabel != "" {
		bucket, err := s.stock.GetBucketByLabel(ctx, s.bucketLabel)
		if err == nil {
			levels, err := s.stock.GetBucketLevels(ctx, bucket.ID, parentIDs)
			if err != nil {
				return nil, fmt.Errorf("读取库存桶失败: %w", err)
			}
			out := make(map[int64]int, len(parentIDs))
			for _, id := range parentIDs {
				out[id] = levels[id]
			}
			return out, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	products, err := s.products.GetByIDs(ctx, parentIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int, len(products))
	for i := range products {
		qty, _, err := authoritative(ctx, s.stock, &products[i])
		if err != nil {
			return nil, err
		}
		out[products[i].ID] = qty
	}
	return out, nil
}
