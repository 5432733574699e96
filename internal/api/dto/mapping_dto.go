package dto

import "ebay_sync_v1_202610/internal/service"

// CandidatesReq 候选商品查询
type CandidatesReq struct {
	SKU   string `form:"sku" binding:"required"`
	Limit int    `form:"limit,default=5" binding:"omitempty,min=1,max=50"`
}

// CandidatesResp 三级匹配结果 + 相近 SKU 参考
type CandidatesResp struct {
	*service.MatchResult
	Suggestions []service.Suggestion `json:"suggestions"`
}

// MapReq 人工映射
type MapReq struct {
	AccountID int64  `json:"account_id" binding:"required,min=1"`
	SKU       string `json:"sku" binding:"required"`
	ProductID int64  `json:"product_id" binding:"required,min=1"`
	Override  bool   `json:"override"`
}

// IgnoreReq 忽略 SKU
type IgnoreReq struct {
	AccountID int64  `json:"account_id" binding:"required,min=1"`
	SKU       string `json:"sku" binding:"required"`
}
