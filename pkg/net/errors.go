package net

import (
	"errors"
	"fmt"
	"net/http"

	"ebay_sync_v1_202610/pkg/apperr"
	"ebay_sync_v1_202610/pkg/logger"
)

// 日志与错误明细里保留的响应体长度
const snippetLimit = 512

// HTTPError 非 2xx 响应
type HTTPError struct {
	StatusCode int
	Body       []byte
	cause      *apperr.Error
}

func newHTTPError(resp *Response, base *apperr.Error) *HTTPError {
	e := &HTTPError{StatusCode: resp.StatusCode, Body: resp.Body}
	e.cause = apperr.New(base, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, e.Snippet()))
	return e
}

func (e *HTTPError) Error() string { return e.cause.Error() }

func (e *HTTPError) Unwrap() error { return e.cause }

// Snippet 截断后的响应体
func (e *HTTPError) Snippet() string {
	return logger.Truncate(e.Body, snippetLimit)
}

// classify 按状态码归类
func classify(resp *Response) *HTTPError {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return newHTTPError(resp, apperr.ErrRemoteRateLimited)
	case resp.StatusCode >= http.StatusInternalServerError:
		return newHTTPError(resp, apperr.ErrRemoteServer)
	default:
		return newHTTPError(resp, apperr.ErrRemoteClient)
	}
}

// StatusOf 取错误里的 HTTP 状态码，没有时返回 0
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
