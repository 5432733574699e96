package net

import (
	"github.com/go-resty/resty/v2"
)

// BuildRequest 通用平台请求构建器
// 职责：统一封装鉴权头 (Authorization) 与标准头 (Accept, Content-Type, 站点)
// 注意：Call.Headers 最后写入，可覆盖默认值 (如 Accept-Language)
func BuildRequest(req *resty.Request, accessToken, marketplaceID string, call *Call) *resty.Request {
	req.SetHeader("Authorization", "Bearer "+accessToken).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	if marketplaceID != "" {
		req.SetHeader("X-EBAY-C-MARKETPLACE-ID", marketplaceID)
	}
	if call.Query != nil && call.URL == "" {
		req.SetQueryParamsFromValues(call.Query)
	}
	if call.Body != nil {
		req.SetBody(call.Body)
	}
	for k, v := range call.Headers {
		req.SetHeader(k, v)
	}
	return req
}
