package controller

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ebay_sync_v1_202610/internal/api/dto"
	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/service"
	"ebay_sync_v1_202610/pkg/apperr"
)

// ListingFetcher 在售信息
type ListingFetcher interface {
	Fetch(ctx context.Context, accountID int64) (*service.ListingsResult, error)
	Cached(ctx context.Context, accountID int64) ([]model.ListingCache, error)
}

type ListingController struct {
	listings ListingFetcher
}

func NewListingController(listings ListingFetcher) *ListingController {
	return &ListingController{listings: listings}
}

// Fetch 在售信息
// @Summary 账号在售信息
// @Description 实时拉取库存条目与 offer 并合并本地映射/库存
// @Tags Listing (在售管理)
// @Produce json
// @Param account_id path int true "账号 ID"
// @Success 200 {object} service.ListingsResult
// @Failure 401 {object} map[string]interface{} "需要重新授权"
// @Failure 429 {object} map[string]interface{} "冷却中"
// @Router /api/listings/{account_id} [get]
func (ctrl *ListingController) Fetch(c *gin.Context) {
	id, ok := parseID(c, "account_id")
	if !ok {
		return
	}

	res, err := ctrl.listings.Fetch(c.Request.Context(), id)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Cached 本地缓存的在售信息
// @Summary 在售信息缓存
// @Description 只读上次拉取写入的平台字段，不请求平台
// @Tags Listing (在售管理)
// @Produce json
// @Param account_id path int true "账号 ID"
// @Success 200 {object} dto.ListResp
// @Router /api/listings/{account_id}/cached [get]
func (ctrl *ListingController) Cached(c *gin.Context) {
	id, ok := parseID(c, "account_id")
	if !ok {
		return
	}

	rows, err := ctrl.listings.Cached(c.Request.Context(), id)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListResp{Total: int64(len(rows)), List: rows})
}
