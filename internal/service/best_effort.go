package service

import (
	"go.uber.org/zap"
)

// BestEffort 非关键步骤的执行结果 (库存桶镜像、审计日志等)
// 失败不影响主流程，调用方可以直接丢弃返回值
type BestEffort struct {
	Step    string
	Skipped bool // 前置条件不满足，未执行
	Err     error
}

// Ok 执行成功或被跳过
func (b BestEffort) Ok() bool { return b.Err == nil }

// Log 失败时记一条 warn，返回自身便于链式丢弃
func (b BestEffort) Log(l *zap.Logger, fields ...zap.Field) BestEffort {
	if b.Err != nil {
		l.Warn("非关键步骤失败", append(fields, zap.String("step", b.Step), zap.Error(b.Err))...)
	}
	return b
}

func attempt(step string, fn func() error) BestEffort {
	return BestEffort{Step: step, Err: fn()}
}

func skipped(step string) BestEffort {
	return BestEffort{Step: step, Skipped: true}
}
