package utils

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClientOptions Resty 客户端参数
type ClientOptions struct {
	Timeout    time.Duration
	RetryCount int           // 429/5xx/网络错误的重试次数
	RetryWait  time.Duration // 固定退避间隔
	UserAgent  string
	Debug      bool
}

// NewRestyClient 创建全系统统一的 Resty 客户端
// 429 与 5xx 按固定间隔重试，最多 RetryCount 次；401 不在这里重试，由调度器刷新令牌后重放
func NewRestyClient(opts ClientOptions) *resty.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Ebay-Sync-Go/1.0"
	}

	client := resty.New().
		SetDebug(opts.Debug).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent)

	if opts.RetryCount > 0 {
		client.
			SetRetryCount(opts.RetryCount).
			SetRetryWaitTime(opts.RetryWait).
			SetRetryMaxWaitTime(opts.RetryWait).
			SetRetryAfter(fixedBackoff(opts.RetryWait)).
			AddRetryCondition(RetryableResponse)
	}
	return client
}

// fixedBackoff 覆盖 resty 默认的抖动退避，每次都等待同样的时长
func fixedBackoff(wait time.Duration) resty.RetryAfterFunc {
	return func(*resty.Client, *resty.Response) (time.Duration, error) {
		return wait, nil
	}
}

// RetryableResponse 重试条件：限流、服务端错误、网络错误 (上下文取消除外)
func RetryableResponse(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if r == nil {
		return false
	}
	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
}
