package task

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ebay_sync_v1_202610/internal/service"
)

const jobOrderIngest = "order_ingest"

// OrderIngester 订单拉取
type OrderIngester interface {
	IngestAll(ctx context.Context) (*service.IngestSummary, error)
}

// ==================== OrderSyncTask 订单同步任务 ====================

// OrderSyncTask 定时拉取所有启用账号的订单并扣减库存
type OrderSyncTask struct {
	ingester OrderIngester
	runner   *runner
	schedule *schedule
	log      *zap.Logger
}

// newOrderSyncTask 首次执行延迟 30 秒，等待令牌保活先跑完
func newOrderSyncTask(ingester OrderIngester, r *runner, spec string, log *zap.Logger) *OrderSyncTask {
	return &OrderSyncTask{
		ingester: ingester,
		runner:   r,
		schedule: newSchedule(jobOrderIngest, spec, 30*time.Second),
		log:      log,
	}
}

func (t *OrderSyncTask) Start() error {
	if err := t.schedule.start(func(ctx context.Context) { _, _ = t.RunNow(ctx) }); err != nil {
		return err
	}
	t.log.Info("订单同步任务已启动", zap.String("spec", t.schedule.spec))
	return nil
}

func (t *OrderSyncTask) Stop() {
	t.schedule.stop()
}

// RunNow 立即同步所有账号
func (t *OrderSyncTask) RunNow(ctx context.Context) (*service.IngestSummary, error) {
	var summary *service.IngestSummary
	err := t.runner.run(ctx, jobOrderIngest, func(ctx context.Context) error {
		s, err := t.ingester.IngestAll(ctx)
		if err != nil {
			return err
		}
		summary = s
		t.log.Info("本轮订单同步完成",
			zap.Int("accounts", s.Accounts),
			zap.Int("applied", s.Applied),
			zap.Int("failed", s.Failed),
		)
		return nil
	})
	return summary, err
}
