package task

import (
	"context"

	"go.uber.org/zap"

	"ebay_sync_v1_202610/internal/config"
	"ebay_sync_v1_202610/internal/service"
)

// ==================== TaskManager 同步任务管理器 ====================

// TaskManager 统一管理令牌保活、订单同步、库存推送
// 开关只控制定时调度，手动触发始终可用
type TaskManager struct {
	tokenTask     *TokenTask
	orderTask     *OrderSyncTask
	inventoryTask *InventoryPushTask

	cfg    config.TasksConfig
	runner *runner
	log    *zap.Logger
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	Tokens    TokenKeeper
	Orders    OrderIngester
	Inventory InventoryPusher
	Lock      RunLock // 为空时使用进程内锁
	Log       *zap.Logger
}

func NewTaskManager(deps TaskManagerDeps, cfg config.TasksConfig) *TaskManager {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("task")

	tm := &TaskManager{
		cfg:    cfg,
		runner: newRunner(deps.Lock, cfg.RunTimeout, log),
		log:    log,
	}
	if deps.Tokens != nil {
		tm.tokenTask = newTokenTask(deps.Tokens, tm.runner, cfg.TokenSpec, log)
	}
	if deps.Orders != nil {
		tm.orderTask = newOrderSyncTask(deps.Orders, tm.runner, cfg.OrderSpec, log)
	}
	if deps.Inventory != nil {
		tm.inventoryTask = newInventoryPushTask(deps.Inventory, tm.runner, cfg.PushSpec, log)
	}
	return tm
}

// ==================== 生命周期管理 ====================

// Start 按开关启动定时调度，任一表达式无效时停止已启动的任务并返回错误
func (tm *TaskManager) Start() error {
	tm.log.Info("正在启动同步任务...")

	type starter struct {
		enabled bool
		start   func() error
	}
	var starters []starter
	if tm.tokenTask != nil {
		starters = append(starters, starter{tm.cfg.EnableTokenTask, tm.tokenTask.Start})
	}
	if tm.orderTask != nil {
		starters = append(starters, starter{tm.cfg.EnableOrderTask, tm.orderTask.Start})
	}
	if tm.inventoryTask != nil {
		starters = append(starters, starter{tm.cfg.EnablePushTask, tm.inventoryTask.Start})
	}

	for _, s := range starters {
		if !s.enabled {
			continue
		}
		if err := s.start(); err != nil {
			tm.Stop()
			return err
		}
	}

	tm.log.Info("同步任务已启动",
		zap.Bool("token", tm.cfg.EnableTokenTask),
		zap.Bool("order", tm.cfg.EnableOrderTask),
		zap.Bool("inventory", tm.cfg.EnablePushTask),
	)
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (tm *TaskManager) Stop() {
	tm.log.Info("正在停止同步任务...")

	if tm.tokenTask != nil {
		tm.tokenTask.Stop()
	}
	if tm.orderTask != nil {
		tm.orderTask.Stop()
	}
	if tm.inventoryTask != nil {
		tm.inventoryTask.Stop()
	}

	tm.log.Info("同步任务已全部停止")
}

// ==================== 手动触发接口 ====================

// TriggerTokenRefresh 触发令牌保活
func (tm *TaskManager) TriggerTokenRefresh(ctx context.Context) (*service.RefreshSummary, error) {
	if tm.tokenTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.tokenTask.RunNow(ctx)
}

// TriggerOrderSync 触发全部账号的订单同步
func (tm *TaskManager) TriggerOrderSync(ctx context.Context) (*service.IngestSummary, error) {
	if tm.orderTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.orderTask.RunNow(ctx)
}

// TriggerInventoryPush 触发全部账号的库存推送
func (tm *TaskManager) TriggerInventoryPush(ctx context.Context) ([]*service.PushResult, error) {
	if tm.inventoryTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.inventoryTask.RunNow(ctx)
}

// ==================== 状态查询 ====================

// TaskStatus 单个任务状态
type TaskStatus struct {
	Available bool   `json:"available"`
	Scheduled bool   `json:"scheduled"`
	Spec      string `json:"spec"`
	RunStatus
}

// Status 获取任务状态
func (tm *TaskManager) Status() map[string]TaskStatus {
	return map[string]TaskStatus{
		jobTokenRefresh: {
			Available: tm.tokenTask != nil,
			Scheduled: tm.tokenTask != nil && tm.cfg.EnableTokenTask,
			Spec:      tm.cfg.TokenSpec,
			RunStatus: tm.runner.snapshot(jobTokenRefresh),
		},
		jobOrderIngest: {
			Available: tm.orderTask != nil,
			Scheduled: tm.orderTask != nil && tm.cfg.EnableOrderTask,
			Spec:      tm.cfg.OrderSpec,
			RunStatus: tm.runner.snapshot(jobOrderIngest),
		},
		jobInventoryPush: {
			Available: tm.inventoryTask != nil,
			Scheduled: tm.inventoryTask != nil && tm.cfg.EnablePushTask,
			Spec:      tm.cfg.PushSpec,
			RunStatus: tm.runner.snapshot(jobInventoryPush),
		},
	}
}

// ==================== 错误定义 ====================

type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrTaskDisabled TaskError = "task is disabled"
	ErrTaskRunning  TaskError = "task is already running"
)
