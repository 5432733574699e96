package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ==================== Cooldown 手动同步冷却 ====================

// Cooldown 手动同步冷却器
// 防止运营频繁触发手动同步导致平台限流
type Cooldown interface {
	// Check 允许时同时记下本次执行时间
	Check(ctx context.Context, key string, interval time.Duration) (CheckResult, error)
	// Reset 清除指定 key 的冷却
	Reset(ctx context.Context, key string) error
}

// CheckResult 检查结果
type CheckResult struct {
	Allowed    bool          // 是否允许
	RetryAfter time.Duration // 剩余冷却时间
}

// NewCooldown client 为空时使用进程内实现
func NewCooldown(client redis.UniversalClient) Cooldown {
	if client == nil {
		return NewMemoryCooldown()
	}
	return NewRedisCooldown(client, "")
}

// ==================== 进程内实现 ====================

// MemoryCooldown 单实例部署使用
type MemoryCooldown struct {
	locks sync.Map // key -> *lockEntry
	now   func() time.Time
}

// lockEntry 锁条目
type lockEntry struct {
	lastTime time.Time
	mu       sync.Mutex
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{now: time.Now}
}

func (r *MemoryCooldown) Check(_ context.Context, key string, interval time.Duration) (CheckResult, error) {
	// 获取或创建锁条目
	actual, _ := r.locks.LoadOrStore(key, &lockEntry{})
	entry := actual.(*lockEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := r.now()
	elapsed := now.Sub(entry.lastTime)
	if !entry.lastTime.IsZero() && elapsed < interval {
		return CheckResult{Allowed: false, RetryAfter: interval - elapsed}, nil
	}

	// 更新最后执行时间
	entry.lastTime = now
	return CheckResult{Allowed: true}, nil
}

func (r *MemoryCooldown) Reset(_ context.Context, key string) error {
	r.locks.Delete(key)
	return nil
}

// ==================== Redis 实现 ====================

// RedisCooldown 多实例部署共享冷却状态
// SET NX PX 一步完成检查和占位，key 过期即冷却结束
type RedisCooldown struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCooldown(client redis.UniversalClient, prefix string) *RedisCooldown {
	if prefix == "" {
		prefix = "ebay_sync:cooldown:"
	}
	return &RedisCooldown{client: client, prefix: prefix}
}

func (r *RedisCooldown) Check(ctx context.Context, key string, interval time.Duration) (CheckResult, error) {
	k := r.prefix + key
	ok, err := r.client.SetNX(ctx, k, "1", interval).Result()
	if err != nil {
		return CheckResult{}, fmt.Errorf("冷却检查失败: %w", err)
	}
	if ok {
		return CheckResult{Allowed: true}, nil
	}

	ttl, err := r.client.PTTL(ctx, k).Result()
	if err != nil {
		return CheckResult{}, fmt.Errorf("读取冷却剩余时间失败: %w", err)
	}
	// key 刚好过期或没有过期时间
	if ttl <= 0 {
		ttl = interval
	}
	return CheckResult{Allowed: false, RetryAfter: ttl}, nil
}

func (r *RedisCooldown) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// ==================== Key 生成工具 ====================

// AccountSyncKey 账号级同步 Key
func AccountSyncKey(accountID int64, operation string) string {
	return fmt.Sprintf("account:%d:%s", accountID, operation)
}

// GlobalSyncKey 全部账号的同步 Key
func GlobalSyncKey(operation string) string {
	return fmt.Sprintf("global:%s", operation)
}
