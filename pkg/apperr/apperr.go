package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Code 错误码，对外 JSON 响应中原样返回
type Code string

const (
	CodeConfiguration     Code = "CONFIGURATION_ERROR"
	CodeTokenMissing      Code = "TOKEN_MISSING"
	CodeTokenExpired      Code = "TOKEN_EXPIRED"
	CodeNeedsReauth       Code = "NEEDS_REAUTH"
	CodeRemoteRateLimited Code = "REMOTE_RATE_LIMITED"
	CodeRemoteServer      Code = "REMOTE_SERVER_ERROR"
	CodeRemoteClient      Code = "REMOTE_CLIENT_ERROR"
	CodeMappingAmbiguous  Code = "MAPPING_AMBIGUOUS"
	CodeMappingNotFound   Code = "MAPPING_NOT_FOUND"
	CodeMappingConflict   Code = "MAPPING_CONFLICT"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeTooManyRequests   Code = "TOO_MANY_REQUESTS"
	CodeInternal          Code = "INTERNAL"
)

// Error 带错误码的业务错误
type Error struct {
	Code    Code
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按错误码比较，使 errors.Is(err, apperr.ErrTokenMissing) 对任意包装后的同码错误成立
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ==================== 哨兵错误 ====================

var (
	ErrConfiguration     = &Error{Code: CodeConfiguration, Message: "配置缺失"}
	ErrTokenMissing      = &Error{Code: CodeTokenMissing, Message: "账号没有可用的访问令牌"}
	ErrTokenExpired      = &Error{Code: CodeTokenExpired, Message: "访问令牌已过期且刷新失败"}
	ErrNeedsReauth       = &Error{Code: CodeNeedsReauth, Message: "账号需要重新授权"}
	ErrRemoteRateLimited = &Error{Code: CodeRemoteRateLimited, Message: "平台限流"}
	ErrRemoteServer      = &Error{Code: CodeRemoteServer, Message: "平台服务端错误"}
	ErrRemoteClient      = &Error{Code: CodeRemoteClient, Message: "平台拒绝请求"}
	ErrMappingAmbiguous  = &Error{Code: CodeMappingAmbiguous, Message: "SKU 匹配到多个候选商品"}
	ErrMappingNotFound   = &Error{Code: CodeMappingNotFound, Message: "SKU 未找到对应商品"}
	ErrMappingConflict   = &Error{Code: CodeMappingConflict, Message: "SKU 已映射到其他商品"}
	ErrInvalidInput      = &Error{Code: CodeInvalidInput, Message: "参数错误"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "资源不存在"}
)

// New 基于哨兵错误生成带明细的新错误
func New(base *Error, detail string) *Error {
	return &Error{Code: base.Code, Message: base.Message, Detail: detail}
}

// Wrap 保留底层错误链
func Wrap(base *Error, err error) *Error {
	return &Error{Code: base.Code, Message: base.Message, Err: err}
}

// CodeOf 取错误码，非业务错误统一归为 INTERNAL
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsAccountLevel 令牌类错误：停掉该账号本轮工作，等待人工重新授权
func IsAccountLevel(err error) bool {
	switch CodeOf(err) {
	case CodeTokenMissing, CodeTokenExpired, CodeNeedsReauth:
		return true
	}
	return false
}

// IsTransient 可重试的远端错误
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeRemoteRateLimited, CodeRemoteServer:
		return true
	}
	return false
}

// HTTPStatus 错误码 -> HTTP 状态码
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeTokenMissing, CodeTokenExpired, CodeNeedsReauth:
		return http.StatusUnauthorized
	case CodeNotFound, CodeMappingNotFound:
		return http.StatusNotFound
	case CodeMappingConflict, CodeMappingAmbiguous:
		return http.StatusConflict
	case CodeRemoteRateLimited, CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeRemoteServer, CodeRemoteClient:
		return http.StatusBadGateway
	case CodeConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Respond 统一错误响应: {"code": ..., "message": ..., "detail": ...}
func Respond(c *gin.Context, err error) {
	status := HTTPStatus(err)
	body := gin.H{"code": CodeOf(err)}

	var e *Error
	if errors.As(err, &e) {
		body["message"] = e.Message
		detail := e.Detail
		if detail == "" && e.Err != nil {
			detail = e.Err.Error()
		}
		if detail != "" {
			body["detail"] = detail
		}
	} else {
		body["message"] = "服务内部错误"
		body["detail"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}
