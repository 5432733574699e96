package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/pkg/apperr"
	"ebay_sync_v1_202610/pkg/ebay"
	"ebay_sync_v1_202610/pkg/net"
	"ebay_sync_v1_202610/pkg/vault"
)

const tokenURL = testAPIBase + ebay.PathToken

// legacyCiphertext 旧系统格式：16 字节 IV，十六进制 {iv, tag, data}
func legacyCiphertext(t *testing.T, plaintext string) string {
	t.Helper()
	key := sha256.Sum256([]byte("unit-test-secret"))
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	require.NoError(t, err)

	iv := []byte("fedcba9876543210")
	out := gcm.Seal(nil, iv, []byte(plaintext), nil)
	raw, err := json.Marshal(map[string]string{
		"iv":   hex.EncodeToString(iv),
		"tag":  hex.EncodeToString(out[len(out)-16:]),
		"data": hex.EncodeToString(out[:len(out)-16]),
	})
	require.NoError(t, err)
	return string(raw)
}

type tokenFixture struct {
	db      *gorm.DB
	vault   *vault.Vault
	client  *resty.Client
	svc     *TokenService
	account *model.Account
	tokens  repository.TokenRepository
}

func newTokenFixture(t *testing.T) *tokenFixture {
	db := setupServiceDB(t)
	v := newTestVault(t)
	client := newMockedClient(t)
	tokens := repository.NewTokenRepository(db)

	svc := NewTokenService(
		repository.NewAccountRepository(db),
		tokens,
		repository.NewProviderCredentialRepository(db),
		v,
		client,
		NewSyncLogService(repository.NewSyncLogRepository(db), time.Minute, zap.NewNop()),
		TokenConfig{
			AppID:       "app-id",
			AppSecret:   "app-secret",
			Scopes:      []string{"https://api.ebay.com/oauth/api_scope"},
			APIBaseURL:  testAPIBase,
			RefreshSkew: 5 * time.Minute,
			PendingTTL:  15 * time.Minute,
		},
		zap.NewNop(),
	)
	return &tokenFixture{db: db, vault: v, client: client, svc: svc, account: seedAccount(t, db), tokens: tokens}
}

// seedToken 写入一条令牌记录，refresh token 用规范格式加密
func (f *tokenFixture) seedToken(t *testing.T, access string, expiresIn time.Duration) *model.TokenRecord {
	ct, iv, err := f.vault.Encrypt("refresh-1")
	require.NoError(t, err)
	exp := time.Now().Add(expiresIn)
	rec := &model.TokenRecord{
		AccountID: &f.account.ID, Environment: "production",
		AccessToken: access, RefreshTokenEnc: ct, RefreshTokenIV: iv, ExpiresAt: &exp,
	}
	require.NoError(t, f.tokens.Create(context.Background(), rec))
	return rec
}

func tokenResponder(t *testing.T, access string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		user, pass, ok := req.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "app-id", user)
		assert.Equal(t, "app-secret", pass)
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "refresh_token", req.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", req.PostForm.Get("refresh_token"))
		return httpmock.NewJsonResponse(200, map[string]interface{}{
			"access_token": access, "expires_in": 7200, "token_type": "User Access Token",
		})
	}
}

// ==================== 刷新 ====================

func TestTokenService_ExpiredTokenRefreshedOnceAndReused(t *testing.T) {
	f := newTokenFixture(t)
	f.seedToken(t, "old-token", -time.Minute)

	httpmock.RegisterResponder("POST", tokenURL, tokenResponder(t, "new-token"))
	httpmock.RegisterResponder("GET", testAPIBase+ebay.PathOrders, func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") != "Bearer new-token" {
			return httpmock.NewStringResponse(401, `{}`), nil
		}
		return httpmock.NewStringResponse(200, `{"orders":[]}`), nil
	})

	d := net.NewDispatcher(f.client, f.svc, net.Options{APIBaseURL: testAPIBase}, zap.NewNop())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		resp, err := d.Do(ctx, f.account.ID, &net.Call{Method: http.MethodGet, Path: ebay.PathOrders})
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST "+tokenURL], "同一轮只应刷新一次")
	assert.Equal(t, 3, info["GET "+testAPIBase+ebay.PathOrders])

	latest, err := f.tokens.GetLatest(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-token", latest.AccessToken)
	assert.Nil(t, latest.RefreshingUntil)
}

func TestTokenService_UnauthorizedTriggersSingleRefresh(t *testing.T) {
	f := newTokenFixture(t)
	f.seedToken(t, "revoked-token", time.Hour)

	httpmock.RegisterResponder("POST", tokenURL, tokenResponder(t, "new-token"))
	httpmock.RegisterResponder("GET", testAPIBase+ebay.PathOrders, func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") != "Bearer new-token" {
			return httpmock.NewStringResponse(401, `{}`), nil
		}
		return httpmock.NewStringResponse(200, `{"orders":[]}`), nil
	})

	d := net.NewDispatcher(f.client, f.svc, net.Options{APIBaseURL: testAPIBase}, zap.NewNop())
	ctx := context.Background()
	_, err := d.Do(ctx, f.account.ID, &net.Call{Method: http.MethodGet, Path: ebay.PathOrders})
	require.NoError(t, err)
	_, err = d.Do(ctx, f.account.ID, &net.Call{Method: http.MethodGet, Path: ebay.PathOrders})
	require.NoError(t, err)

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST "+tokenURL])
	// 第一次调用 401 + 重放，第二次直接用新令牌
	assert.Equal(t, 3, info["GET "+testAPIBase+ebay.PathOrders])
}

func TestTokenService_LegacyRefreshTokenMigrated(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	exp := time.Now().Add(-time.Minute)
	rec := &model.TokenRecord{
		AccountID: &f.account.ID, Environment: "production",
		AccessToken: "old-token", RefreshTokenEnc: legacyCiphertext(t, "refresh-1"), ExpiresAt: &exp,
	}
	require.NoError(t, f.tokens.Create(ctx, rec))
	require.True(t, vault.IsLegacy(rec.RefreshTokenEnc))

	httpmock.RegisterResponder("POST", tokenURL, tokenResponder(t, "new-token"))

	grant, err := f.svc.Resolve(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-token", grant.AccessToken)

	stored, err := f.tokens.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, vault.IsLegacy(stored.RefreshTokenEnc), "解密成功后应写回规范格式")
	assert.NotEmpty(t, stored.RefreshTokenIV)

	// 规范格式走快速路径，不再返回升级结果
	plain, upgraded, err := f.vault.Open(stored.RefreshTokenEnc, stored.RefreshTokenIV)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", plain)
	assert.Nil(t, upgraded)
}

func TestTokenService_RotatedRefreshTokenStoredEncrypted(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	rec := f.seedToken(t, "old-token", -time.Minute)

	httpmock.RegisterResponder("POST", tokenURL, httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
		"access_token": "new-token", "refresh_token": "refresh-2", "expires_in": 7200,
	}))

	_, err := f.svc.Resolve(ctx, f.account.ID)
	require.NoError(t, err)

	stored, err := f.tokens.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	plain, err := f.vault.Decrypt(stored.RefreshTokenEnc, stored.RefreshTokenIV)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", plain)
}

func TestTokenService_RefreshFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		needsReauth bool
	}{
		{"invalid_grant 400", 400, true},
		{"401", 401, true},
		{"服务端 500 视为暂时失败", 500, false},
		{"限流 429 视为暂时失败", 429, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTokenFixture(t)
			f.seedToken(t, "old-token", -time.Minute)
			httpmock.RegisterResponder("POST", tokenURL,
				httpmock.NewStringResponder(tt.status, `{"error":"invalid_grant"}`))

			ctx := context.Background()
			_, err := f.svc.Resolve(ctx, f.account.ID)
			require.Error(t, err)

			account, gerr := repository.NewAccountRepository(f.db).GetByID(ctx, f.account.ID)
			require.NoError(t, gerr)
			assert.Equal(t, tt.needsReauth, account.NeedsReauth)
			if tt.needsReauth {
				assert.True(t, errors.Is(err, apperr.ErrNeedsReauth))
				assert.Equal(t, ReasonInvalidGrant, account.ReauthReason)
			} else {
				assert.True(t, errors.Is(err, apperr.ErrTokenExpired))
			}

			var logs []model.SyncLog
			require.NoError(t, f.db.Where("operation = ?", model.OpTokenRefresh).Find(&logs).Error)
			assert.Len(t, logs, 1)
		})
	}
}

func TestTokenService_ExpiringButStillValidKeepsOldToken(t *testing.T) {
	f := newTokenFixture(t)
	f.seedToken(t, "old-token", 2*time.Minute) // 在 5 分钟提前量窗口内
	httpmock.RegisterResponder("POST", tokenURL, httpmock.NewStringResponder(503, `{}`))

	grant, err := f.svc.Resolve(context.Background(), f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "old-token", grant.AccessToken)
}

func TestTokenService_MissingClientCredentials(t *testing.T) {
	f := newTokenFixture(t)
	f.svc.cfg.AppID, f.svc.cfg.AppSecret = "", ""
	f.seedToken(t, "old-token", -time.Minute)

	_, err := f.svc.Resolve(context.Background(), f.account.ID)
	require.Error(t, err)

	account, _ := repository.NewAccountRepository(f.db).GetByID(context.Background(), f.account.ID)
	assert.True(t, account.NeedsReauth)
	assert.Equal(t, ReasonMissingClientCredentials, account.ReauthReason)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestTokenService_ProviderCredentialsPreferredOverConfig(t *testing.T) {
	f := newTokenFixture(t)
	ct, iv, err := f.vault.Encrypt("table-secret")
	require.NoError(t, err)
	require.NoError(t, repository.NewProviderCredentialRepository(f.db).Save(context.Background(), &model.ProviderCredential{
		Provider: model.ProviderEbay, Environment: "production", ClientID: "table-id", ClientSecretEnc: ct, ClientSecretIV: iv,
	}))
	f.seedToken(t, "old-token", -time.Minute)

	httpmock.RegisterResponder("POST", tokenURL, func(req *http.Request) (*http.Response, error) {
		user, pass, _ := req.BasicAuth()
		assert.Equal(t, "table-id", user)
		assert.Equal(t, "table-secret", pass)
		return httpmock.NewJsonResponse(200, map[string]interface{}{"access_token": "new-token", "expires_in": 7200})
	})

	grant, err := f.svc.Resolve(context.Background(), f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-token", grant.AccessToken)
}

// ==================== 状态 ====================

func TestTokenService_PendingNeverUsable(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	require.NoError(t, f.tokens.Create(ctx, &model.TokenRecord{
		AccountID: &f.account.ID, Environment: "production",
		AccessToken: model.PendingAccessToken, StateNonce: "nonce-1", ExpiresAt: &exp,
	}))

	_, err := f.svc.Resolve(ctx, f.account.ID)
	assert.True(t, errors.Is(err, apperr.ErrTokenMissing))

	state, _ := f.svc.Describe(ctx, f.account)
	assert.False(t, state.Usable())
}

func TestTokenService_NeedsReauthBlocksResolve(t *testing.T) {
	f := newTokenFixture(t)
	f.seedToken(t, "good-token", time.Hour)
	require.NoError(t, f.db.Model(&model.Account{}).Where("id = ?", f.account.ID).
		Updates(map[string]interface{}{"needs_reauth": true, "reauth_reason": ReasonInvalidGrant}).Error)

	_, err := f.svc.Resolve(context.Background(), f.account.ID)
	assert.True(t, errors.Is(err, apperr.ErrNeedsReauth))
}

func TestTokenService_RefreshExpiringAndPurge(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	f.seedToken(t, "old-token", time.Minute)

	// 一条超时的握手占位
	stale := &model.TokenRecord{Environment: "production", AccessToken: model.PendingAccessToken, StateNonce: "stale"}
	require.NoError(t, f.tokens.Create(ctx, stale))
	require.NoError(t, f.db.Model(stale).UpdateColumn("created_at", time.Now().Add(-time.Hour)).Error)

	httpmock.RegisterResponder("POST", tokenURL, tokenResponder(t, "new-token"))

	summary, err := f.svc.RefreshExpiring(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Refreshed)

	n, err := f.svc.PurgePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
