package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ebay_sync_v1_202610/internal/api/dto"
	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/internal/service"
	"ebay_sync_v1_202610/internal/task"
	"ebay_sync_v1_202610/pkg/apperr"
)

// ==================== 依赖 ====================

// OrderSyncer 单账号订单同步与台账查询
type OrderSyncer interface {
	IngestAccount(ctx context.Context, accountID int64, lookback time.Duration) (*service.IngestResult, error)
	Ledger(ctx context.Context, filter repository.LedgerFilter) ([]model.ProcessedOrderLine, int64, error)
}

// InventorySyncer 单账号库存推送
type InventorySyncer interface {
	Push(ctx context.Context, in service.PushInput) (*service.PushResult, error)
}

// SyncLogReader 同步日志
type SyncLogReader interface {
	List(ctx context.Context, filter repository.SyncLogFilter) ([]model.SyncLog, int64, error)
	RetryEligibility(ctx context.Context, accountID int64, operation string) (*service.Eligibility, error)
}

// TaskRunner 全部账号的批量任务
type TaskRunner interface {
	TriggerTokenRefresh(ctx context.Context) (*service.RefreshSummary, error)
	TriggerOrderSync(ctx context.Context) (*service.IngestSummary, error)
	TriggerInventoryPush(ctx context.Context) ([]*service.PushResult, error)
	Status() map[string]task.TaskStatus
}

// SyncController 手动同步控制器
type SyncController struct {
	orders    OrderSyncer
	inventory InventorySyncer
	logs      SyncLogReader
	tasks     TaskRunner
}

func NewSyncController(orders OrderSyncer, inventory InventorySyncer, logs SyncLogReader, tasks TaskRunner) *SyncController {
	return &SyncController{orders: orders, inventory: inventory, logs: logs, tasks: tasks}
}

// ==================== Handler 实现 ====================

// SyncOrders 手动拉取订单
// @Summary 手动同步订单
// @Description 指定账号时同步该账号，可覆盖回溯时长；不指定时同步全部启用账号
// @Tags Sync
// @Accept json
// @Produce json
// @Param body body dto.SyncOrdersReq false "同步参数"
// @Success 200 {object} service.IngestResult
// @Failure 409 {object} map[string]interface{} "全量同步正在运行"
// @Failure 429 {object} map[string]interface{} "冷却中"
// @Router /api/sync/orders [post]
func (ctrl *SyncController) SyncOrders(c *gin.Context) {
	var req dto.SyncOrdersReq
	if !bindOptionalJSON(c, &req) {
		return
	}

	if req.AccountID == 0 {
		summary, err := ctrl.tasks.TriggerOrderSync(c.Request.Context())
		if err != nil {
			respondTaskError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	lookback := time.Duration(req.LookbackMinutes) * time.Minute
	res, err := ctrl.orders.IngestAccount(c.Request.Context(), req.AccountID, lookback)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SyncInventory 手动推送库存
// @Summary 手动推送库存
// @Description dry_run 只返回计划；items 为空时按映射推送全部 SKU
// @Tags Sync
// @Accept json
// @Produce json
// @Param body body dto.SyncInventoryReq true "推送参数"
// @Success 200 {object} service.PushResult
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Failure 429 {object} map[string]interface{} "冷却中"
// @Router /api/sync/inventory [post]
func (ctrl *SyncController) SyncInventory(c *gin.Context) {
	var req dto.SyncInventoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, err.Error()))
		return
	}

	res, err := ctrl.inventory.Push(c.Request.Context(), service.PushInput{
		AccountID: req.AccountID,
		DryRun:    req.DryRun,
		BatchSize: req.BatchSize,
		Items:     req.Items,
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListLogs 同步日志
// @Summary 同步日志
// @Description 同时指定 account_id 与 operation 时附带手动重跑资格
// @Tags Sync
// @Produce json
// @Param account_id query int false "账号 ID"
// @Param operation query string false "order_ingest / inventory_push / listing_fetch / token_refresh"
// @Param outcome query string false "ok / retry / fail"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} dto.SyncLogListResp
// @Router /api/sync/logs [get]
func (ctrl *SyncController) ListLogs(c *gin.Context) {
	var req dto.SyncLogListReq
	if err := c.ShouldBindQuery(&req); err != nil {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, err.Error()))
		return
	}

	ctx := c.Request.Context()
	list, total, err := ctrl.logs.List(ctx, repository.SyncLogFilter{
		AccountID: req.AccountID,
		Operation: req.Operation,
		Outcome:   req.Outcome,
		Page:      req.Page,
		PageSize:  req.PageSize,
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	resp := dto.SyncLogListResp{Total: total, List: list}
	if req.AccountID > 0 && req.Operation != "" {
		eligibility, err := ctrl.logs.RetryEligibility(ctx, req.AccountID, req.Operation)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		resp.Eligibility = eligibility
	}
	c.JSON(http.StatusOK, resp)
}

// ListLedger 订单行台账
// @Summary 订单行台账
// @Tags Sync
// @Produce json
// @Param account_id query int false "账号 ID"
// @Param order_id query string false "平台订单号"
// @Param unmapped_only query bool false "只看未映射"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} dto.ListResp
// @Router /api/sync/ledger [get]
func (ctrl *SyncController) ListLedger(c *gin.Context) {
	var req dto.LedgerListReq
	if err := c.ShouldBindQuery(&req); err != nil {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, err.Error()))
		return
	}
	list, total, err := ctrl.orders.Ledger(c.Request.Context(), repository.LedgerFilter{
		AccountID:    req.AccountID,
		RemoteOrder:  req.OrderID,
		UnmappedOnly: req.UnmappedOnly,
		Page:         req.Page,
		PageSize:     req.PageSize,
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListResp{Total: total, List: list})
}

// ==================== 定时任务 ====================

// TaskStatus 定时任务状态
// @Summary 定时任务状态
// @Tags Task
// @Produce json
// @Success 200 {object} map[string]task.TaskStatus
// @Router /api/tasks [get]
func (ctrl *SyncController) TaskStatus(c *gin.Context) {
	c.JSON(http.StatusOK, ctrl.tasks.Status())
}

// RunTask 立即执行一轮定时任务
// @Summary 立即执行定时任务
// @Tags Task
// @Produce json
// @Param name path string true "token_refresh / order_ingest / inventory_push"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{} "正在运行"
// @Router /api/tasks/{name}/run [post]
func (ctrl *SyncController) RunTask(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		result interface{}
		err    error
	)
	switch c.Param("name") {
	case model.OpTokenRefresh:
		result, err = ctrl.tasks.TriggerTokenRefresh(ctx)
	case model.OpOrderIngest:
		result, err = ctrl.tasks.TriggerOrderSync(ctx)
	case model.OpInventoryPush:
		result, err = ctrl.tasks.TriggerInventoryPush(ctx)
	default:
		apperr.Respond(c, apperr.New(apperr.ErrNotFound, "未知任务: "+c.Param("name")))
		return
	}
	if err != nil {
		respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": c.Param("name"), "result": result})
}

// ==================== 辅助函数 ====================

func respondTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrTaskRunning):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"code": "TASK_RUNNING", "message": "任务正在运行，请稍后再试"})
	case errors.Is(err, task.ErrTaskDisabled):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"code": "TASK_DISABLED", "message": "任务未启用"})
	default:
		apperr.Respond(c, err)
	}
}

// bindOptionalJSON 请求体可以为空
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, err.Error()))
		return false
	}
	return true
}

// parseID 解析路径参数中的正整数 ID
func parseID(c *gin.Context, key string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(key), 10, 64)
	if err != nil || id <= 0 {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, "无效的 "+key))
		return 0, false
	}
	return id, true
}
