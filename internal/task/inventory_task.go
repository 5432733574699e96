package task

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ebay_sync_v1_202610/internal/service"
)

const jobInventoryPush = "inventory_push"

// InventoryPusher 库存推送
type InventoryPusher interface {
	PushAll(ctx context.Context) ([]*service.PushResult, error)
}

// ==================== InventoryPushTask 库存推送任务 ====================

// InventoryPushTask 定时把本地库存推送到所有启用账号
type InventoryPushTask struct {
	pusher   InventoryPusher
	runner   *runner
	schedule *schedule
	log      *zap.Logger
}

// newInventoryPushTask 首次执行延迟 2 分钟，先让订单扣减落库
func newInventoryPushTask(pusher InventoryPusher, r *runner, spec string, log *zap.Logger) *InventoryPushTask {
	return &InventoryPushTask{
		pusher:   pusher,
		runner:   r,
		schedule: newSchedule(jobInventoryPush, spec, 2*time.Minute),
		log:      log,
	}
}

func (t *InventoryPushTask) Start() error {
	if err := t.schedule.start(func(ctx context.Context) { _, _ = t.RunNow(ctx) }); err != nil {
		return err
	}
	t.log.Info("库存推送任务已启动", zap.String("spec", t.schedule.spec))
	return nil
}

func (t *InventoryPushTask) Stop() {
	t.schedule.stop()
}

// RunNow 立即推送所有账号
func (t *InventoryPushTask) RunNow(ctx context.Context) ([]*service.PushResult, error) {
	var results []*service.PushResult
	err := t.runner.run(ctx, jobInventoryPush, func(ctx context.Context) error {
		rs, err := t.pusher.PushAll(ctx)
		if err != nil {
			return err
		}
		results = rs

		updated, failed := 0, 0
		for _, r := range rs {
			updated += r.Updated
			failed += r.Failed
		}
		t.log.Info("本轮库存推送完成",
			zap.Int("accounts", len(rs)),
			zap.Int("updated", updated),
			zap.Int("failed", failed),
		)
		return nil
	})
	return results, err
}
