package model

// 映射来源
const (
	MappingSourceAuto   = "auto"
	MappingSourceManual = "manual"
)

// SkuMapping 平台 SKU -> 本地商品
// ProductID 为空且 Ignored=true 表示运营明确忽略
type SkuMapping struct {
	BaseModel
	AuditMixin
	Provider  string `gorm:"size:20;not null;uniqueIndex:idx_mapping_key" json:"provider"`
	AccountID int64  `gorm:"not null;uniqueIndex:idx_mapping_key" json:"account_id"`
	RemoteSKU string `gorm:"size:128;not null;uniqueIndex:idx_mapping_key" json:"remote_sku"`
	ProductID *int64 `gorm:"index" json:"product_id"`
	Ignored   bool   `gorm:"default:false" json:"ignored"`
	Source    string `gorm:"size:20;default:'auto'" json:"source"`
}

func (SkuMapping) TableName() string {
	return "sku_mappings"
}

// Mapped 是否已映射到商品
func (m *SkuMapping) Mapped() bool {
	return !m.Ignored && m.ProductID != nil && *m.ProductID > 0
}
