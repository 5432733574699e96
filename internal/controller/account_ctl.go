package controller

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ebay_sync_v1_202610/internal/api/dto"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/internal/service"
	"ebay_sync_v1_202610/pkg/apperr"
)

// AccountManager 账号查询与手动刷新
type AccountManager interface {
	List(ctx context.Context, filter repository.AccountFilter) ([]service.AccountView, int64, error)
	Refresh(ctx context.Context, accountID int64) (*service.AccountView, error)
}

type AccountController struct {
	accounts AccountManager
}

func NewAccountController(accounts AccountManager) *AccountController {
	return &AccountController{accounts: accounts}
}

// List 账号列表
// @Summary 账号列表
// @Description 返回账号及派生的令牌状态 (active / expiring / needs_reauth ...)
// @Tags Account (账号管理)
// @Produce json
// @Param environment query string false "sandbox / production"
// @Param needs_reauth query bool false "只看需要重新授权的账号"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} dto.ListResp
// @Router /api/accounts [get]
func (ctrl *AccountController) List(c *gin.Context) {
	var req dto.AccountListReq
	if err := c.ShouldBindQuery(&req); err != nil {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, err.Error()))
		return
	}

	list, total, err := ctrl.accounts.List(c.Request.Context(), repository.AccountFilter{
		Environment: req.Environment,
		NeedsReauth: req.NeedsReauth,
		Page:        req.Page,
		PageSize:    req.PageSize,
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListResp{Total: total, List: list})
}

// Refresh 手动刷新令牌
// @Summary 手动刷新账号令牌
// @Tags Account (账号管理)
// @Produce json
// @Param id path int true "账号 ID"
// @Success 200 {object} dto.AccountRefreshResp
// @Failure 401 {object} map[string]interface{} "需要重新授权"
// @Failure 404 {object} map[string]interface{} "账号不存在"
// @Router /api/accounts/{id}/refresh [post]
func (ctrl *AccountController) Refresh(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	view, err := ctrl.accounts.Refresh(c.Request.Context(), id)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AccountRefreshResp{
		AccountID:   view.ID,
		Environment: view.Environment,
		ExpiresAt:   view.TokenExpiresAt,
	})
}
