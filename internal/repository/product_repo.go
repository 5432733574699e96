package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
)

// ==================== 接口定义 ====================

// ProductRepository 本地商品查询 (SKU 匹配与父商品解析)
type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Product, error)
	GetByIDs(ctx context.Context, ids []int64) ([]model.Product, error)

	// SKU 匹配三级查询
	FindBySKUs(ctx context.Context, lowered []string) ([]model.Product, error)
	FindBySKULike(ctx context.Context, pattern string) ([]model.Product, error)
	FindByStrippedSKULike(ctx context.Context, pattern string) ([]model.Product, error)

	// FindBySKUPrefix 运营建议用的粗筛
	FindBySKUPrefix(ctx context.Context, prefix string, limit int) ([]model.Product, error)
}

// MaxCandidates 匹配查询的候选上限
// 查询多取一行，返回数超过上限说明模式过宽，调用方应交给人工
const MaxCandidates = 50

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike 转义 LIKE 通配符，配合 ESCAPE '\' 使用
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ==================== 仓储实现 ====================

type productRepo struct {
	db *gorm.DB
}

// NewProductRepository 创建商品仓储
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepo{db: db}
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	var p model.Product
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) GetByIDs(ctx context.Context, ids []int64) ([]model.Product, error) {
	var products []model.Product
	if len(ids) == 0 {
		return products, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&products).Error
	return products, err
}

// FindBySKUs 按小写 SKU 精确匹配
func (r *productRepo) FindBySKUs(ctx context.Context, lowered []string) ([]model.Product, error) {
	var products []model.Product
	if len(lowered) == 0 {
		return products, nil
	}
	err := r.db.WithContext(ctx).
		Where("LOWER(sku) IN ?", lowered).
		Order("id ASC").
		Limit(MaxCandidates + 1).
		Find(&products).Error
	return products, err
}

// FindBySKULike 分隔符已替换成通配符的模式，字面量部分需已转义
func (r *productRepo) FindBySKULike(ctx context.Context, pattern string) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).
		Where(`LOWER(sku) LIKE ? ESCAPE '\'`, pattern).
		Order("id ASC").
		Limit(MaxCandidates + 1).
		Find(&products).Error
	return products, err
}

// FindByStrippedSKULike 去掉分隔符后再比较
func (r *productRepo) FindByStrippedSKULike(ctx context.Context, pattern string) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).
		Where(`REPLACE(REPLACE(REPLACE(LOWER(sku), '-', ''), '_', ''), ' ', '') LIKE ? ESCAPE '\'`, pattern).
		Order("id ASC").
		Limit(MaxCandidates + 1).
		Find(&products).Error
	return products, err
}

func (r *productRepo) FindBySKUPrefix(ctx context.Context, prefix string, limit int) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).
		Where(`LOWER(sku) LIKE ? ESCAPE '\'`, EscapeLike(prefix)+"%").
		Order("id ASC").
		Limit(limit).
		Find(&products).Error
	return products, err
}
