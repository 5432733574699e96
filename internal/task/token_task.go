package task

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"ebay_sync_v1_202610/internal/service"
)

const jobTokenRefresh = "token_refresh"

// TokenKeeper 令牌保活
type TokenKeeper interface {
	RefreshExpiring(ctx context.Context) (*service.RefreshSummary, error)
	PurgePending(ctx context.Context) (int64, error)
}

// ==================== TokenTask 令牌保活任务 ====================

// TokenTask 提前刷新即将过期的令牌，同时清理超时的握手占位
type TokenTask struct {
	tokens   TokenKeeper
	runner   *runner
	schedule *schedule
	log      *zap.Logger
}

func newTokenTask(tokens TokenKeeper, r *runner, spec string, log *zap.Logger) *TokenTask {
	return &TokenTask{
		tokens:   tokens,
		runner:   r,
		schedule: newSchedule(jobTokenRefresh, spec, 0),
		log:      log,
	}
}

// Start 启动后立即执行一次
func (t *TokenTask) Start() error {
	if err := t.schedule.start(func(ctx context.Context) { _, _ = t.RunNow(ctx) }); err != nil {
		return err
	}
	t.log.Info("令牌保活任务已启动", zap.String("spec", t.schedule.spec))
	return nil
}

func (t *TokenTask) Stop() {
	t.schedule.stop()
}

// RunNow 立即执行一轮
func (t *TokenTask) RunNow(ctx context.Context) (*service.RefreshSummary, error) {
	var summary *service.RefreshSummary
	err := t.runner.run(ctx, jobTokenRefresh, func(ctx context.Context) error {
		s, err := t.tokens.RefreshExpiring(ctx)
		if err != nil {
			return err
		}
		summary = s
		t.log.Info("本轮令牌刷新完成",
			zap.Int("checked", s.Checked),
			zap.Int("refreshed", s.Refreshed),
			zap.Int("failed", s.Failed),
		)

		// 清理失败不影响刷新结果
		if _, err := t.tokens.PurgePending(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.log.Warn("清理握手记录失败", zap.Error(err))
		}
		return nil
	})
	return summary, err
}
