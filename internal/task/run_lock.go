package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ==================== RunLock 任务运行锁 ====================

// RunLock 同名任务同一时刻只允许一个实例运行
// 定时触发与手动触发共用同一把锁
type RunLock interface {
	// TryLock 不等待，拿不到锁时 ok 为 false
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// NewRunLock client 为空时使用进程内实现
func NewRunLock(client redis.UniversalClient) RunLock {
	if client == nil {
		return NewMemoryRunLock()
	}
	return NewRedisRunLock(client, "")
}

// ==================== 进程内实现 ====================

type MemoryRunLock struct {
	mu      sync.Mutex
	running map[string]bool
}

func NewMemoryRunLock() *MemoryRunLock {
	return &MemoryRunLock{running: make(map[string]bool)}
}

func (l *MemoryRunLock) TryLock(_ context.Context, name string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running[name] {
		return nil, false, nil
	}
	l.running[name] = true

	return func(context.Context) error {
		l.mu.Lock()
		delete(l.running, name)
		l.mu.Unlock()
		return nil
	}, true, nil
}

// ==================== Redis 实现 ====================

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// errLockLost 解锁时锁已过期或被其他实例持有
var errLockLost = errors.New("运行锁已过期或不属于当前实例")

// RedisRunLock 多实例部署时避免重复执行
// value 为本次持有者标识，只有持有者能解锁
type RedisRunLock struct {
	client   redis.UniversalClient
	prefix   string
	newValue func() string
}

func NewRedisRunLock(client redis.UniversalClient, prefix string) *RedisRunLock {
	if prefix == "" {
		prefix = "ebay_sync:task:"
	}
	return &RedisRunLock{client: client, prefix: prefix, newValue: uuid.NewString}
}

func (l *RedisRunLock) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := l.prefix + name
	value := l.newValue()

	ok, err := l.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("获取运行锁失败: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return func(ctx context.Context) error {
		res, err := l.client.Eval(ctx, unlockScript, []string{key}, value).Result()
		if err != nil {
			return fmt.Errorf("释放运行锁失败: %w", err)
		}
		if res == int64(0) {
			return errLockLost
		}
		return nil
	}, true, nil
}
