package controller

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ebay_sync_v1_202610/internal/api/dto"
	"ebay_sync_v1_202610/internal/middleware"
	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/service"
	"ebay_sync_v1_202610/pkg/apperr"
)

// SkuMapper SKU 映射
type SkuMapper interface {
	Candidates(ctx context.Context, sku string) (*service.MatchResult, error)
	Suggest(ctx context.Context, sku string, limit int) ([]service.Suggestion, error)
	Map(ctx context.Context, in service.MapInput) (*service.MapOutcome, error)
	Ignore(ctx context.Context, accountID int64, sku string, operatorID int64) (*model.SkuMapping, error)
}

type MappingController struct {
	mappings SkuMapper
}

func NewMappingController(mappings SkuMapper) *MappingController {
	return &MappingController{mappings: mappings}
}

// Candidates 候选商品
// @Summary SKU 候选商品
// @Description 三级匹配结果 + 编辑距离相近的 SKU (仅供参考，不会自动映射)
// @Tags Mapping (SKU 映射)
// @Produce json
// @Param sku query string true "平台 SKU"
// @Param limit query int false "相近 SKU 数量" default(5)
// @Success 200 {object} dto.CandidatesResp
// @Router /api/mappings/candidates [get]
func (ctrl *MappingController) Candidates(c *gin.Context) {
	var req dto.CandidatesReq
	if err := c.ShouldBindQuery(&req); err != nil {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, err.Error()))
		return
	}

	ctx := c.Request.Context()
	match, err := ctrl.mappings.Candidates(ctx, req.SKU)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	resp := dto.CandidatesResp{MatchResult: match, Suggestions: []service.Suggestion{}}

	// 精确匹配到了就不需要参考
	if match.Status != service.MatchMatched {
		suggestions, err := ctrl.mappings.Suggest(ctx, req.SKU, req.Limit)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		resp.Suggestions = suggestions
	}
	c.JSON(http.StatusOK, resp)
}

// Map 人工映射
// @Summary 人工映射 SKU
// @Description 已映射到其他商品时需要 override=true
// @Tags Mapping (SKU 映射)
// @Accept json
// @Produce json
// @Param body body dto.MapReq true "映射参数"
// @Success 200 {object} service.MapOutcome
// @Failure 409 {object} map[string]interface{} "已映射到其他商品"
// @Router /api/mappings [post]
func (ctrl *MappingController) Map(c *gin.Context) {
	var req dto.MapReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, err.Error()))
		return
	}

	out, err := ctrl.mappings.Map(c.Request.Context(), service.MapInput{
		AccountID:  req.AccountID,
		SKU:        req.SKU,
		ProductID:  req.ProductID,
		Override:   req.Override,
		OperatorID: middleware.GetOperatorID(c),
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Ignore 忽略 SKU
// @Summary 忽略 SKU
// @Description 被忽略的 SKU 在订单同步中记为未映射，不再自动匹配
// @Tags Mapping (SKU 映射)
// @Accept json
// @Produce json
// @Param body body dto.IgnoreReq true "忽略参数"
// @Success 200 {object} model.SkuMapping
// @Router /api/mappings/ignore [post]
func (ctrl *MappingController) Ignore(c *gin.Context) {
	var req dto.IgnoreReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, err.Error()))
		return
	}

	m, err := ctrl.mappings.Ignore(c.Request.Context(), req.AccountID, req.SKU, middleware.GetOperatorID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
