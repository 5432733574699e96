package net

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// FollowNext 依次请求 next 链接直到为空或出错
// page 返回下一页地址；出错时已处理的页不回滚
func FollowNext(ctx context.Context, d Dispatcher, accountID int64, first *Call, page func(body []byte) (string, error)) error {
	call := first
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := d.Do(ctx, accountID, call)
		if err != nil {
			return err
		}
		next, err := page(resp.Body)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		call = &Call{Method: http.MethodGet, URL: next, Headers: first.Headers}
	}
}

// OffsetPages 按 offset/limit 翻页
// page 返回本页条数与总数；本页为空或已取完时停止
func OffsetPages(ctx context.Context, d Dispatcher, accountID int64, base *Call, limit int, page func(body []byte) (count, total int, err error)) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := url.Values{}
		for k, v := range base.Query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))

		call := *base
		call.Query = q
		resp, err := d.Do(ctx, accountID, &call)
		if err != nil {
			return err
		}
		count, total, err := page(resp.Body)
		if err != nil {
			return err
		}
		offset += count
		if count == 0 || offset >= total {
			return nil
		}
	}
}
