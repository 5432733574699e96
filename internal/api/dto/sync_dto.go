package dto

import (
	"ebay_sync_v1_202610/internal/service"
)

// ==================== 手动同步 ====================

// SyncOrdersReq 手动拉取订单
// AccountID 为空时同步全部启用账号
type SyncOrdersReq struct {
	AccountID       int64 `json:"account_id" binding:"omitempty,min=1"`
	LookbackMinutes int   `json:"lookback_minutes" binding:"omitempty,min=1,max=10080"` // 最多 7 天
}

// SyncInventoryReq 手动推送库存
type SyncInventoryReq struct {
	AccountID int64              `json:"account_id" binding:"required,min=1"`
	DryRun    bool               `json:"dry_run"`
	BatchSize int                `json:"batch_size" binding:"omitempty,min=1,max=25"`
	Items     []service.PushItem `json:"items" binding:"omitempty,dive"`
}

// ==================== 同步日志 ====================

// SyncLogListReq 同步日志查询
type SyncLogListReq struct {
	AccountID int64  `form:"account_id"`
	Operation string `form:"operation"`
	Outcome   string `form:"outcome" binding:"omitempty,oneof=ok retry fail"`
	Page      int    `form:"page,default=1"`
	PageSize  int    `form:"page_size,default=20"`
}

// SyncLogListResp 日志列表；指定账号和操作时附带手动重跑资格
type SyncLogListResp struct {
	Total       int64                `json:"total"`
	List        interface{}          `json:"list"`
	Eligibility *service.Eligibility `json:"eligibility,omitempty"`
}

// LedgerListReq 订单行台账查询
type LedgerListReq struct {
	AccountID    int64  `form:"account_id"`
	OrderID      string `form:"order_id"`
	UnmappedOnly bool   `form:"unmapped_only"`
	Page         int    `form:"page,default=1"`
	PageSize     int    `form:"page_size,default=20"`
}

// ListResp 通用分页列表
type ListResp struct {
	Total int64       `json:"total"`
	List  interface{} `json:"list"`
}
