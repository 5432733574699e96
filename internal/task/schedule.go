package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ==================== schedule 定时触发 ====================

// schedule 封装 cron 与首次延迟执行
type schedule struct {
	name  string
	spec  string
	delay time.Duration // 启动后首次执行的延迟，负数表示不做首次执行
	cron  *cron.Cron

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newSchedule(name, spec string, delay time.Duration) *schedule {
	return &schedule{
		name:  name,
		spec:  spec,
		delay: delay,
		cron:  cron.New(cron.WithSeconds()), // 支持秒级控制
	}
}

// start fire 在 cron 的协程里同步执行
func (s *schedule) start(fire func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("任务已启动")
	}

	if _, err := s.cron.AddFunc(s.spec, func() { fire(context.Background()) }); err != nil {
		return fmt.Errorf("无效的 cron 表达式 %q: %w", s.spec, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// 首次执行
	if s.delay >= 0 {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.delay):
			}
			fire(ctx)
		}()
	}

	s.cron.Start()
	return nil
}

// stop 等待正在执行的 cron 任务结束
func (s *schedule) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-s.cron.Stop().Done()
}

// ==================== runner 加锁执行 ====================

// RunStatus 最近一次执行情况
type RunStatus struct {
	Running    bool       `json:"running"`
	LastStart  *time.Time `json:"last_start,omitempty"`
	LastFinish *time.Time `json:"last_finish,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

type runner struct {
	lock    RunLock
	timeout time.Duration
	log     *zap.Logger

	mu     sync.Mutex
	status map[string]*RunStatus
}

func newRunner(lock RunLock, timeout time.Duration, log *zap.Logger) *runner {
	if lock == nil {
		lock = NewMemoryRunLock()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &runner{lock: lock, timeout: timeout, log: log, status: make(map[string]*RunStatus)}
}

// run 拿不到锁时返回 ErrTaskRunning
func (r *runner) run(parent context.Context, name string, job func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	unlock, ok, err := r.lock.TryLock(ctx, name, r.timeout)
	if err != nil {
		r.log.Warn("获取运行锁失败", zap.String("task", name), zap.Error(err))
		return err
	}
	if !ok {
		r.log.Info("上一轮仍在运行，跳过", zap.String("task", name))
		return ErrTaskRunning
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			r.log.Warn("释放运行锁失败", zap.String("task", name), zap.Error(err))
		}
	}()

	start := time.Now()
	r.mark(name, func(st *RunStatus) {
		st.Running = true
		st.LastStart = &start
	})

	err = job(ctx)

	finish := time.Now()
	r.mark(name, func(st *RunStatus) {
		st.Running = false
		st.LastFinish = &finish
		st.LastError = ""
		if err != nil {
			st.LastError = err.Error()
		}
	})

	if err != nil {
		r.log.Error("任务执行失败", zap.String("task", name), zap.Duration("elapsed", finish.Sub(start)), zap.Error(err))
	} else {
		r.log.Info("任务执行完成", zap.String("task", name), zap.Duration("elapsed", finish.Sub(start)))
	}
	return err
}

func (r *runner) mark(name string, fn func(st *RunStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.status[name]
	if !ok {
		st = &RunStatus{}
		r.status[name] = st
	}
	fn(st)
}

func (r *runner) snapshot(name string) RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.status[name]; ok {
		return *st
	}
	return RunStatus{}
}
