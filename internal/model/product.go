package model

import (
	"github.com/shopspring/decimal"
)

// QuantitySource 权威库存取自哪一级字段
type QuantitySource string

const (
	SourceSharedPool QuantitySource = "shared_pool"
	SourceMirrored   QuantitySource = "mirrored"
	SourceTotal      QuantitySource = "total"
	SourceLegacy     QuantitySource = "legacy"
)

// Product 本地商品 (只读取同步核心需要的字段)
// 没有 ParentID 的商品是根商品，库存以根商品为准
type Product struct {
	BaseModel
	SKU      string `gorm:"size:128;uniqueIndex" json:"sku"`
	Name     string `gorm:"size:255" json:"name"`
	ParentID *int64 `gorm:"index;comment:父商品ID，为空表示根商品" json:"parent_id,omitempty"`

	// 库存优先级链：共享池 -> 镜像数量 -> 汇总数量 -> 旧数量字段
	StockPoolID    *int64 `gorm:"index" json:"stock_pool_id,omitempty"`
	SharedQuantity *int   `gorm:"comment:镜像/共享数量" json:"shared_quantity,omitempty"`
	TotalQuantity  *int   `gorm:"comment:汇总数量" json:"total_quantity,omitempty"`
	Quantity       int    `gorm:"default:0;comment:旧版单一数量" json:"quantity"`

	RetailPrice decimal.Decimal `gorm:"type:decimal(12,2);default:0" json:"retail_price"`

	StockPool *StockPool `gorm:"foreignKey:StockPoolID" json:"-"`
}

func (Product) TableName() string {
	return "products"
}

// IsRoot 是否为根商品
func (p *Product) IsRoot() bool {
	return p.ParentID == nil || *p.ParentID == 0 || *p.ParentID == p.ID
}

// StockPool 多个商品共享的库存池
type StockPool struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"size:100" json:"name"`
	Quantity int    `gorm:"default:0" json:"quantity"`
}

func (StockPool) TableName() string {
	return "stock_pools"
}

// StockBucket 按渠道标记的库存桶 (如 "ebay")
type StockBucket struct {
	ID    int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Label string `gorm:"size:50;uniqueIndex" json:"label"`
}

func (StockBucket) TableName() string {
	return "stock_buckets"
}

// StockBucketLevel 某个库存桶中某个根商品的数量
type StockBucketLevel struct {
	ID        int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	BucketID  int64 `gorm:"not null;uniqueIndex:idx_bucket_product" json:"bucket_id"`
	ProductID int64 `gorm:"not null;uniqueIndex:idx_bucket_product" json:"product_id"`
	Quantity  int   `gorm:"default:0" json:"quantity"`
}

func (StockBucketLevel) TableName() string {
	return "stock_bucket_levels"
}
