package model

import (
	"time"

	"gorm.io/datatypes"
)

// 同步操作名
const (
	OpOrderIngest   = "order_ingest"
	OpInventoryPush = "inventory_push"
	OpListingFetch  = "listing_fetch"
	OpTokenRefresh  = "token_refresh"
)

// 结果
const (
	OutcomeOK    = "ok"
	OutcomeRetry = "retry"
	OutcomeFail  = "fail"
)

// SyncLog 批量操作审计日志，只写不改
type SyncLog struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID   *int64         `gorm:"index" json:"account_id"`
	Operation   string         `gorm:"size:50;not null;index" json:"operation"`
	Outcome     string         `gorm:"size:10;not null" json:"outcome"`
	HTTPStatus  int            `json:"http_status"`
	Updated     int            `json:"updated"`
	Failed      int            `json:"failed"`
	Metadata    datatypes.JSON `json:"metadata"`
	TriggeredBy int64          `gorm:"index" json:"triggered_by,omitempty"` // 手动触发的操作员，定时任务为 0
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

func (SyncLog) TableName() string {
	return "sync_logs"
}
