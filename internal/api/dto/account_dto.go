package dto

import "time"

// AccountListReq 账号列表请求
type AccountListReq struct {
	Environment string `form:"environment" binding:"omitempty,oneof=sandbox production"`
	NeedsReauth *bool  `form:"needs_reauth"`
	Page        int    `form:"page,default=1"`
	PageSize    int    `form:"page_size,default=20"`
}

// AccountRefreshResp 手动刷新结果，不返回令牌本身
type AccountRefreshResp struct {
	AccountID   int64      `json:"account_id"`
	Environment string     `json:"environment"`
	ExpiresAt   *time.Time `json:"expires_at"`
}
