package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ebay_sync_v1_202610/pkg/apperr"
)

// ==================== 同步冷却中间件 ====================

// SyncRateLimit 按账号 + 操作维度冷却
// 账号 ID 依次从路径参数 account_id、查询参数 account_id、JSON 请求体 account_id 读取
// 都没有时按全局 key 冷却
//
// 使用示例:
//
//	sync.POST("/inventory",
//	    middleware.SyncRateLimit(cooldown, model.OpInventoryPush, time.Minute, log),
//	    syncCtl.PushInventory,
//	)
func SyncRateLimit(limiter Cooldown, operation string, interval time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, err := accountIDOf(c)
		if err != nil {
			apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, "无效的账号 ID"))
			c.Abort()
			return
		}

		key := GlobalSyncKey(operation)
		if accountID > 0 {
			key = AccountSyncKey(accountID, operation)
		}

		result, err := limiter.Check(c.Request.Context(), key, interval)
		if err != nil {
			// 冷却存储不可用时放行，平台侧仍有限流与重试
			log.Warn("冷却检查失败，放行请求", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    apperr.CodeTooManyRequests,
				"message": formatRetryMessage(result.RetryAfter),
				"detail": gin.H{
					"retry_after": retryAfter,
					"operation":   operation,
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// accountIDOf 读取请求中的账号 ID，读取请求体后原样放回
func accountIDOf(c *gin.Context) (int64, error) {
	raw := c.Param("account_id")
	if raw == "" {
		raw = c.Query("account_id")
	}
	if raw != "" {
		return strconv.ParseInt(raw, 10, 64)
	}

	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return 0, nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return 0, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	var probe struct {
		AccountID int64 `json:"account_id"`
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return 0, nil
	}
	// 请求体格式错误交给 handler 处理
	if err := json.Unmarshal(body, &probe); err != nil {
		return 0, nil
	}
	return probe.AccountID, nil
}

// ==================== 辅助函数 ====================

// formatRetryMessage 格式化重试提示信息
func formatRetryMessage(d time.Duration) string {
	seconds := int(d.Seconds())

	if seconds < 60 {
		return fmt.Sprintf("同步冷却中，请 %d 秒后重试", seconds)
	}

	minutes := seconds / 60
	remainingSeconds := seconds % 60

	if remainingSeconds == 0 {
		return fmt.Sprintf("同步冷却中，请 %d 分钟后重试", minutes)
	}

	return fmt.Sprintf("同步冷却中，请 %d 分 %d 秒后重试", minutes, remainingSeconds)
}
