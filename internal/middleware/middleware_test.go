package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ebay_sync_v1_202610/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ==================== 冷却 ====================

func TestMemoryCooldown(t *testing.T) {
	c := NewMemoryCooldown()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	res, err := c.Check(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	now = now.Add(20 * time.Second)
	res, _ = c.Check(ctx, "k", time.Minute)
	assert.False(t, res.Allowed)
	assert.Equal(t, 40*time.Second, res.RetryAfter)

	// 其他 key 不受影响
	res, _ = c.Check(ctx, "other", time.Minute)
	assert.True(t, res.Allowed)

	now = now.Add(41 * time.Second)
	res, _ = c.Check(ctx, "k", time.Minute)
	assert.True(t, res.Allowed)

	require.NoError(t, c.Reset(ctx, "k"))
	res, _ = c.Check(ctx, "k", time.Minute)
	assert.True(t, res.Allowed)
}

func TestRedisCooldown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCooldown(client, "test:")
	ctx := context.Background()

	res, err := c.Check(ctx, "account:1:order_ingest", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, mr.Exists("test:account:1:order_ingest"))

	res, err = c.Check(ctx, "account:1:order_ingest", time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Minute)

	mr.FastForward(61 * time.Second)
	res, err = c.Check(ctx, "account:1:order_ingest", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	require.NoError(t, c.Reset(ctx, "account:1:order_ingest"))
	assert.False(t, mr.Exists("test:account:1:order_ingest"))
}

func TestRedisCooldown_Error(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedisCooldown(client, "test:")
	mock.ExpectSetNX("test:k", "1", time.Minute).SetErr(errors.New("connection refused"))

	_, err := c.Check(context.Background(), "k", time.Minute)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newLimitedRouter(limiter Cooldown) *gin.Engine {
	r := gin.New()
	r.POST("/sync/:account_id", SyncRateLimit(limiter, "order_ingest", time.Minute, zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	r.POST("/sync", SyncRateLimit(limiter, "inventory_push", time.Minute, zap.NewNop()), func(c *gin.Context) {
		// handler 仍能读到完整请求体
		var body struct {
			AccountID int64 `json:"account_id"`
			DryRun    bool  `json:"dry_run"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.JSON(http.StatusAccepted, body)
	})
	return r
}

func TestSyncRateLimit(t *testing.T) {
	r := newLimitedRouter(NewMemoryCooldown())

	do := func(path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusAccepted, do("/sync/1", "").Code)
	w := do("/sync/1", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "TOO_MANY_REQUESTS")

	// 不同账号独立冷却
	assert.Equal(t, http.StatusAccepted, do("/sync/2", "").Code)

	// 账号 ID 来自请求体
	w = do("/sync", `{"account_id":7,"dry_run":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"account_id":7,"dry_run":true}`, w.Body.String())
	assert.Equal(t, http.StatusTooManyRequests, do("/sync", `{"account_id":7}`).Code)
	assert.Equal(t, http.StatusAccepted, do("/sync", `{"account_id":8}`).Code)

	assert.Equal(t, http.StatusBadRequest, do("/sync/abc", "").Code)
}

// failingCooldown 模拟冷却存储不可用
type failingCooldown struct{}

func (failingCooldown) Check(context.Context, string, time.Duration) (CheckResult, error) {
	return CheckResult{}, errors.New("redis down")
}
func (failingCooldown) Reset(context.Context, string) error { return nil }

func TestSyncRateLimit_StoreUnavailable(t *testing.T) {
	r := newLimitedRouter(failingCooldown{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sync/1", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestFormatRetryMessage(t *testing.T) {
	assert.Equal(t, "同步冷却中，请 30 秒后重试", formatRetryMessage(30*time.Second))
	assert.Equal(t, "同步冷却中，请 2 分钟后重试", formatRetryMessage(2*time.Minute))
	assert.Equal(t, "同步冷却中，请 1 分 5 秒后重试", formatRetryMessage(65*time.Second))
}

// ==================== JWT ====================

func TestJWTAuth(t *testing.T) {
	cfg := JWTConfig{SecretKey: "jwt-secret", Issuer: "ebay-sync"}
	r := gin.New()
	r.GET("/me", JWTAuth(cfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operator_id": GetOperatorID(c), "username": GetUsername(c)})
	})

	good, err := GenerateOperatorToken(cfg, 42, "alice", "operator", time.Hour)
	require.NoError(t, err)
	expired, err := GenerateOperatorToken(cfg, 42, "alice", "operator", -time.Minute)
	require.NoError(t, err)
	foreign, err := GenerateOperatorToken(JWTConfig{SecretKey: "other", Issuer: "ebay-sync"}, 42, "alice", "operator", time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := GenerateOperatorToken(JWTConfig{SecretKey: "jwt-secret", Issuer: "someone-else"}, 42, "alice", "operator", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"有效令牌", "Bearer " + good, http.StatusOK},
		{"缺少头", "", http.StatusUnauthorized},
		{"格式错误", "Token " + good, http.StatusUnauthorized},
		{"已过期", "Bearer " + expired, http.StatusUnauthorized},
		{"签名不符", "Bearer " + foreign, http.StatusUnauthorized},
		{"签发者不符", "Bearer " + wrongIssuer, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"operator_id":42,"username":"alice"}`, w.Body.String())
			}
		})
	}
}

func TestJWTAuth_DisabledWithoutSecret(t *testing.T) {
	r := gin.New()
	r.GET("/open", JWTAuth(JWTConfig{}), RequireRole(JWTConfig{}, "admin"), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRole(t *testing.T) {
	cfg := JWTConfig{SecretKey: "jwt-secret"}
	r := gin.New()
	r.GET("/admin", JWTAuth(cfg), RequireRole(cfg, "admin"), func(c *gin.Context) { c.Status(http.StatusOK) })

	for role, want := range map[string]int{"admin": http.StatusOK, "viewer": http.StatusForbidden} {
		token, err := GenerateOperatorToken(cfg, 1, "bob", role, time.Hour)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, role)
	}
}

// ==================== 审计 ====================

func TestAuditCallbacks(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.SkuMapping{}, &model.SyncLog{}))
	require.NoError(t, RegisterAuditCallbacks(db))

	ctx := WithOperator(context.Background(), 9, "carol")
	m := &model.SkuMapping{Provider: model.ProviderEbay, AccountID: 1, RemoteSKU: "A", Source: model.MappingSourceManual}
	require.NoError(t, db.WithContext(ctx).Create(m).Error)
	assert.Equal(t, int64(9), m.CreatedBy)
	assert.Equal(t, int64(9), m.UpdatedBy)

	// 更新时记为当前操作员，map 更新也生效
	other := WithOperator(context.Background(), 11, "erin")
	require.NoError(t, db.WithContext(other).Model(&model.SkuMapping{}).Where("id = ?", m.ID).
		Updates(map[string]interface{}{"ignored": true}).Error)
	var reloaded model.SkuMapping
	require.NoError(t, db.First(&reloaded, m.ID).Error)
	assert.Equal(t, int64(9), reloaded.CreatedBy)
	assert.Equal(t, int64(11), reloaded.UpdatedBy)

	// 手动触发的同步日志记录操作员
	entry := &model.SyncLog{Operation: model.OpInventoryPush, Outcome: model.OutcomeOK}
	require.NoError(t, db.WithContext(ctx).Create(entry).Error)
	assert.Equal(t, int64(9), entry.TriggeredBy)

	// 没有操作员信息时不填
	anon := &model.SkuMapping{Provider: model.ProviderEbay, AccountID: 1, RemoteSKU: "B", Source: model.MappingSourceAuto}
	require.NoError(t, db.Create(anon).Error)
	assert.Zero(t, anon.CreatedBy)
}

func TestAuditContext(t *testing.T) {
	cfg := JWTConfig{SecretKey: "jwt-secret"}
	r := gin.New()
	r.GET("/x", JWTAuth(cfg), AuditContext(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operator": OperatorIDFrom(c.Request.Context())})
	})
	token, err := GenerateOperatorToken(cfg, 5, "dave", "operator", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	assert.JSONEq(t, `{"operator":5}`, w.Body.String())
}

// ==================== 请求日志 ====================

func TestRequestLogger(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	// 沿用调用方传入的 ID
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-1", w.Body.String())

	// 未传入时生成
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.Equal(t, w.Header().Get(HeaderRequestID), w.Body.String())
}
