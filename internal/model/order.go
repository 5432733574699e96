package model

import (
	"time"
)

// ProcessedOrderLine 订单行幂等台账
// (provider, account_id, remote_order_id, remote_line_id) 唯一，存在即不再处理
type ProcessedOrderLine struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider      string `gorm:"size:20;not null;uniqueIndex:idx_processed_line" json:"provider"`
	AccountID     int64  `gorm:"not null;uniqueIndex:idx_processed_line" json:"account_id"`
	RemoteOrderID string `gorm:"size:64;not null;uniqueIndex:idx_processed_line" json:"remote_order_id"`
	RemoteLineID  string `gorm:"size:64;not null;uniqueIndex:idx_processed_line" json:"remote_line_id"`

	SKU             string `gorm:"size:128" json:"sku"`
	Quantity        int    `json:"quantity"`
	ProductID       *int64 `gorm:"index;comment:未映射时为空" json:"product_id"`
	ParentProductID *int64 `json:"parent_product_id,omitempty"`
	QuantitySource  string `gorm:"size:20" json:"quantity_source,omitempty"`
	QuantityBefore  int    `json:"quantity_before"`
	QuantityAfter   int    `json:"quantity_after"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProcessedOrderLine) TableName() string {
	return "processed_order_lines"
}
