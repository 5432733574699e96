package net

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ebay_sync_v1_202610/pkg/apperr"
	"ebay_sync_v1_202610/pkg/ebay"
)

// Grant 一次请求使用的令牌
type Grant struct {
	AccountID   int64
	Environment string
	AccessToken string
}

// TokenProvider 定义“提供令牌”的行为标准
type TokenProvider interface {
	// Resolve 获取账号当前可用的 access token (临近过期时内部会先刷新)
	Resolve(ctx context.Context, accountID int64) (*Grant, error)

	// Refresh 请求收到 401 后强制刷新一次
	Refresh(ctx context.Context, accountID int64) (*Grant, error)
}

// Call 一次平台调用
type Call struct {
	Method  string
	Path    string // 相对 API 根地址的路径
	URL     string // 绝对地址 (分页 next 链接)，非空时优先于 Path
	Query   url.Values
	Body    interface{}
	Headers map[string]string
}

// Response 平台响应
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Dispatcher 平台请求调度器
type Dispatcher interface {
	// Do 发送请求：自动带鉴权头，429/5xx 固定退避重试，401 刷新令牌后最多重放一次
	// 非 2xx 时同时返回响应与错误，调用方可以从响应体里取逐条结果
	Do(ctx context.Context, accountID int64, call *Call) (*Response, error)
}

// Options 调度器参数
type Options struct {
	APIBaseURL        string // 覆盖按环境选择的 API 根地址
	MarketplaceID     string
	RequestsPerSecond float64 // 每个账号的请求速率，0 表示不限
}

// httpDispatcher 是 Dispatcher 接口的具体实现
type httpDispatcher struct {
	client   *resty.Client
	tokens   TokenProvider
	opts     Options
	limiters sync.Map // accountID -> *rate.Limiter
	log      *zap.Logger
}

var _ Dispatcher = (*httpDispatcher)(nil)

// NewDispatcher 创建调度器，client 的重试策略由 utils.NewRestyClient 配置
func NewDispatcher(client *resty.Client, tokens TokenProvider, opts Options, log *zap.Logger) Dispatcher {
	return &httpDispatcher{
		client: client,
		tokens: tokens,
		opts:   opts,
		log:    log.Named("dispatcher"),
	}
}

func (d *httpDispatcher) Do(ctx context.Context, accountID int64, call *Call) (*Response, error) {
	// 1. 取令牌
	grant, err := d.tokens.Resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// 2. 发送 (重试在 resty 内完成)
	resp, err := d.send(ctx, grant, call)
	if err != nil {
		return nil, err
	}

	// 3. 401：刷新一次后重放，仍然 401 视为该次调用失败
	if resp.StatusCode == http.StatusUnauthorized {
		d.log.Info("收到 401，刷新令牌后重放", zap.Int64("account_id", accountID), zap.String("path", call.Path))
		grant, err = d.tokens.Refresh(ctx, accountID)
		if err != nil {
			return resp, apperr.Wrap(apperr.ErrTokenExpired, err)
		}
		resp, err = d.send(ctx, grant, call)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return resp, newHTTPError(resp, apperr.ErrTokenExpired)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := classify(resp)
		if apperr.CodeOf(herr) == apperr.CodeRemoteClient {
			d.log.Warn("平台拒绝请求",
				zap.Int64("account_id", accountID),
				zap.Int("status", resp.StatusCode),
				zap.String("path", call.Path),
				zap.String("body", herr.Snippet()))
		}
		return resp, herr
	}
	return resp, nil
}

func (d *httpDispatcher) send(ctx context.Context, grant *Grant, call *Call) (*Response, error) {
	if err := d.limiter(grant.AccountID).Wait(ctx); err != nil {
		return nil, err
	}

	req := BuildRequest(d.client.R().SetContext(ctx), grant.AccessToken, d.opts.MarketplaceID, call)
	target := d.resolveURL(grant.Environment, call)

	r, err := req.Execute(strings.ToUpper(call.Method), target)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrRemoteServer, fmt.Errorf("请求 %s 失败: %w", call.Path, err))
	}
	return &Response{
		StatusCode: r.StatusCode(),
		Header:     r.Header(),
		Body:       r.Body(),
	}, nil
}

func (d *httpDispatcher) resolveURL(environment string, call *Call) string {
	if call.URL != "" {
		if strings.HasPrefix(call.URL, "http://") || strings.HasPrefix(call.URL, "https://") {
			return call.URL
		}
		// 部分 next 链接只给路径
		return ebay.EndpointsFor(environment, d.opts.APIBaseURL, "").API + call.URL
	}
	return ebay.EndpointsFor(environment, d.opts.APIBaseURL, "").API + call.Path
}

// limiter 每个账号独立的令牌桶，LoadOrStore 防止并发重复创建
func (d *httpDispatcher) limiter(accountID int64) *rate.Limiter {
	if d.opts.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if val, ok := d.limiters.Load(accountID); ok {
		return val.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(d.opts.RequestsPerSecond), 1)
	actual, _ := d.limiters.LoadOrStore(accountID, l)
	return actual.(*rate.Limiter)
}
