package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/pkg/apperr"
	"ebay_sync_v1_202610/pkg/ebay"
	"ebay_sync_v1_202610/pkg/logger"
	"ebay_sync_v1_202610/pkg/net"
	"ebay_sync_v1_202610/pkg/vault"
)

// 刷新租约时长，超过即视为持有者已崩溃
const refreshLease = 30 * time.Second

// 需要重新授权的原因
const (
	ReasonMissingClientCredentials = "missing_client_credentials"
	ReasonMissingRefreshToken      = "missing_refresh_token"
	ReasonUndecryptable            = "refresh_token_undecryptable"
	ReasonInvalidGrant             = "invalid_grant"
)

// TokenConfig 令牌生命周期参数
type TokenConfig struct {
	AppID       string // 配置文件里的兜底应用凭证
	AppSecret   string
	Scopes      []string
	APIBaseURL  string
	RefreshSkew time.Duration
	PendingTTL  time.Duration
}

// TokenService 令牌生命周期管理
type TokenService struct {
	accounts repository.AccountRepository
	tokens   repository.TokenRepository
	creds    repository.ProviderCredentialRepository
	vault    *vault.Vault
	http     *resty.Client
	logs     *SyncLogService
	cfg      TokenConfig
	log      *zap.Logger
	now      func() time.Time
}

var _ net.TokenProvider = (*TokenService)(nil)

// NewTokenService 创建令牌服务
func NewTokenService(
	accounts repository.AccountRepository,
	tokens repository.TokenRepository,
	creds repository.ProviderCredentialRepository,
	v *vault.Vault,
	client *resty.Client,
	logs *SyncLogService,
	cfg TokenConfig,
	log *zap.Logger,
) *TokenService {
	return &TokenService{
		accounts: accounts,
		tokens:   tokens,
		creds:    creds,
		vault:    v,
		http:     client,
		logs:     logs,
		cfg:      cfg,
		log:      log.Named("token"),
		now:      time.Now,
	}
}

// ==================== 对外接口 ====================

// Resolve 返回账号当前可用的 access token
// 进入提前量窗口时先尝试刷新；刷新失败但旧令牌仍未过期时继续使用旧令牌
func (s *TokenService) Resolve(ctx context.Context, accountID int64) (*net.Grant, error) {
	account, rec, err := s.load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch rec.State(now, s.cfg.RefreshSkew) {
	case model.StateActive:
		return grantOf(account, rec), nil

	case model.StateExpiring:
		if fresh := s.refresh(ctx, account, rec); fresh != nil {
			return grantOf(account, fresh), nil
		}
		if !rec.Expired(now) {
			return grantOf(account, rec), nil
		}
		return nil, s.refreshFailure(ctx, accountID)

	case model.StateRefreshing:
		// 其他任务正在刷新，等它落库
		if fresh := s.waitForRefresh(ctx, accountID, rec); fresh != nil {
			return grantOf(account, fresh), nil
		}
		if !rec.Expired(now) {
			return grantOf(account, rec), nil
		}
		return nil, apperr.New(apperr.ErrTokenExpired, "等待并发刷新超时")
	}
	return nil, apperr.ErrTokenMissing
}

// Refresh 请求收到 401 后强制刷新
func (s *TokenService) Refresh(ctx context.Context, accountID int64) (*net.Grant, error) {
	account, rec, err := s.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if fresh := s.refresh(ctx, account, rec); fresh != nil {
		return grantOf(account, fresh), nil
	}
	return nil, s.refreshFailure(ctx, accountID)
}

// Describe 账号当前状态
func (s *TokenService) Describe(ctx context.Context, account *model.Account) (model.TokenState, *model.TokenRecord) {
	rec, err := s.tokens.GetLatest(ctx, account.ID)
	if err != nil {
		rec = nil
	}
	return model.AccountState(account, rec, s.now(), s.cfg.RefreshSkew), rec
}

// RefreshSummary 批量刷新结果
type RefreshSummary struct {
	Checked   int `json:"checked"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// RefreshExpiring 刷新所有进入提前量窗口的令牌 (定时任务调用)
func (s *TokenService) RefreshExpiring(ctx context.Context) (*RefreshSummary, error) {
	recs, err := s.tokens.ListExpiring(ctx, s.now().Add(s.cfg.RefreshSkew))
	if err != nil {
		return nil, fmt.Errorf("查询即将过期令牌失败: %w", err)
	}

	summary := &RefreshSummary{}
	for i := range recs {
		if ctx.Err() != nil {
			break
		}
		rec := &recs[i]
		account, err := s.accounts.GetByID(ctx, *rec.AccountID)
		if err != nil || !account.Active || account.NeedsReauth {
			continue
		}
		summary.Checked++
		if s.refresh(ctx, account, rec) != nil {
			summary.Refreshed++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

// PurgePending 清理超时未完成的握手占位记录
func (s *TokenService) PurgePending(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteStalePending(ctx, s.now().Add(-s.cfg.PendingTTL))
	if err != nil {
		return 0, fmt.Errorf("清理握手记录失败: %w", err)
	}
	if n > 0 {
		s.log.Info("已清理过期握手记录", zap.Int64("count", n))
	}
	return n, nil
}

// ==================== 刷新流程 ====================

// refresh 用 refresh_token 换新的 access token
// 任何失败都返回 nil 而不是错误，调用方据此降级为“需要重新授权”
func (s *TokenService) refresh(ctx context.Context, account *model.Account, rec *model.TokenRecord) *model.TokenRecord {
	log := s.log.With(zap.Int64("account_id", account.ID), zap.Int64("token_id", rec.ID))
	now := s.now()

	// 1. 状态检查 + 抢租约
	from := rec.State(now, s.cfg.RefreshSkew)
	if from == model.StateRefreshing {
		return s.waitForRefresh(ctx, account.ID, rec)
	}
	if err := model.Transition(from, model.StateRefreshing); err != nil {
		log.Warn("当前状态不能刷新", zap.String("state", string(from)))
		return nil
	}
	acquired, err := s.tokens.AcquireRefreshLease(ctx, rec.ID, now, now.Add(refreshLease))
	if err != nil {
		log.Error("抢占刷新租约失败", zap.Error(err))
		return nil
	}
	if !acquired {
		return s.waitForRefresh(ctx, account.ID, rec)
	}
	defer func() {
		if err := s.tokens.ReleaseRefreshLease(context.WithoutCancel(ctx), rec.ID); err != nil {
			log.Warn("释放刷新租约失败", zap.Error(err))
		}
	}()

	// 2. 应用凭证：账号级 -> 平台级 -> 配置
	clientID, clientSecret, err := s.clientCredentials(ctx, account)
	if err != nil {
		log.Error("缺少应用凭证", zap.Error(err))
		s.markNeedsReauth(ctx, account, ReasonMissingClientCredentials)
		return nil
	}

	// 3. 解密 refresh token (旧格式顺便迁移)
	refreshToken, err := s.openRefreshToken(ctx, rec)
	if err != nil {
		log.Error("refresh token 不可用", zap.Error(err))
		reason := ReasonUndecryptable
		if rec.RefreshTokenEnc == "" {
			reason = ReasonMissingRefreshToken
		}
		s.markNeedsReauth(ctx, account, reason)
		return nil
	}

	// 4. 换令牌
	scope := strings.TrimSpace(rec.Scope)
	if scope == "" {
		scope = strings.Join(s.cfg.Scopes, " ")
	}
	tokenURL := ebay.EndpointsFor(account.Environment, s.cfg.APIBaseURL, "").TokenURL()
	resp, err := s.http.R().
		SetContext(ctx).
		SetBasicAuth(clientID, clientSecret).
		SetHeader("Accept", "application/json").
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
			"scope":         scope,
		}).
		Post(tokenURL)
	if err != nil {
		// 网络问题不动 needs_reauth，下轮再试
		log.Warn("刷新请求失败", zap.Error(err))
		s.logs.Record(ctx, account.ID, model.OpTokenRefresh, model.OutcomeRetry, 0, 0, 1, meta{"error": err.Error()})
		return nil
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		body := logger.Truncate(resp.Body(), 512)
		log.Warn("刷新被拒绝", zap.Int("status", resp.StatusCode()), zap.String("body", body))
		outcome := model.OutcomeRetry
		// 只有明确的 400/401 才判定为需要重新授权
		if resp.StatusCode() == http.StatusBadRequest || resp.StatusCode() == http.StatusUnauthorized {
			outcome = model.OutcomeFail
			s.markNeedsReauth(ctx, account, ReasonInvalidGrant)
		}
		s.logs.Record(ctx, account.ID, model.OpTokenRefresh, outcome, resp.StatusCode(), 0, 1, meta{"body": body})
		return nil
	}

	var tr ebay.TokenResp
	if err := json.Unmarshal(resp.Body(), &tr); err != nil || tr.AccessToken == "" {
		log.Warn("刷新响应无法解析", zap.Error(err))
		s.logs.Record(ctx, account.ID, model.OpTokenRefresh, model.OutcomeRetry, resp.StatusCode(), 0, 1, meta{"error": "unparseable"})
		return nil
	}

	// 5. 落库
	fields := map[string]interface{}{
		"access_token":     tr.AccessToken,
		"refreshing_until": nil,
	}
	if tr.TokenType != "" {
		fields["token_type"] = tr.TokenType
	}
	if tr.ExpiresIn > 0 {
		fields["expires_at"] = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if tr.Scope != "" {
		fields["scope"] = tr.Scope
	}
	if tr.RefreshToken != "" && tr.RefreshToken != refreshToken {
		// 平台轮换了 refresh token
		ct, iv, err := s.vault.Encrypt(tr.RefreshToken)
		if err != nil {
			log.Error("加密新 refresh token 失败", zap.Error(err))
		} else {
			fields["refresh_token_enc"] = ct
			fields["refresh_token_iv"] = iv
		}
	}
	if err := s.tokens.UpdateFields(ctx, rec.ID, fields); err != nil {
		log.Error("保存新令牌失败", zap.Error(err))
		return nil
	}
	if account.NeedsReauth {
		if err := s.accounts.UpdateFields(ctx, account.ID, map[string]interface{}{
			"needs_reauth": false, "reauth_reason": "",
		}); err != nil {
			log.Warn("清除 needs_reauth 失败", zap.Error(err))
		}
	}

	fresh, err := s.tokens.GetByID(ctx, rec.ID)
	if err != nil {
		log.Error("读取新令牌失败", zap.Error(err))
		return nil
	}
	s.logs.Record(ctx, account.ID, model.OpTokenRefresh, model.OutcomeOK, resp.StatusCode(), 1, 0, meta{"expires_in": tr.ExpiresIn})
	log.Info("令牌已刷新", zap.Timep("expires_at", fresh.ExpiresAt))
	return fresh
}

// waitForRefresh 租约被别人持有时轮询等待结果
func (s *TokenService) waitForRefresh(ctx context.Context, accountID int64, stale *model.TokenRecord) *model.TokenRecord {
	for i := 0; i < 5; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(200 * time.Millisecond):
		}
		rec, err := s.tokens.GetLatest(ctx, accountID)
		if err != nil {
			return nil
		}
		if rec.AccessToken != stale.AccessToken && rec.State(s.now(), 0) == model.StateActive {
			return rec
		}
		if rec.RefreshingUntil == nil {
			return nil
		}
	}
	return nil
}

// openRefreshToken 解密，旧格式解密成功后立即写回规范格式
func (s *TokenService) openRefreshToken(ctx context.Context, rec *model.TokenRecord) (string, error) {
	if rec.RefreshTokenEnc == "" {
		return "", errors.New("refresh token 为空")
	}
	plain, upgraded, err := s.vault.Open(rec.RefreshTokenEnc, rec.RefreshTokenIV)
	if err != nil {
		return "", err
	}
	if upgraded != nil {
		if err := s.tokens.UpdateFields(ctx, rec.ID, map[string]interface{}{
			"refresh_token_enc": upgraded.Ciphertext,
			"refresh_token_iv":  upgraded.IV,
		}); err != nil {
			s.log.Warn("旧格式密文迁移失败", zap.Int64("token_id", rec.ID), zap.Error(err))
		} else {
			rec.RefreshTokenEnc, rec.RefreshTokenIV = upgraded.Ciphertext, upgraded.IV
			s.log.Info("旧格式密文已迁移", zap.Int64("token_id", rec.ID))
		}
	}
	return plain, nil
}

// clientCredentials 应用凭证解析顺序：账号级 -> 平台级 (按环境) -> 配置
func (s *TokenService) clientCredentials(ctx context.Context, account *model.Account) (string, string, error) {
	if account.HasOwnCredentials() {
		secret, err := s.vault.Decrypt(account.AppClientSecretEnc, account.AppClientSecretIV)
		if err == nil {
			return account.AppClientID, secret, nil
		}
		s.log.Warn("账号级应用凭证解密失败，尝试平台级", zap.Int64("account_id", account.ID), zap.Error(err))
	}

	cred, err := s.creds.GetByEnvironment(ctx, model.ProviderEbay, account.Environment)
	if err == nil {
		secret, err := s.vault.Decrypt(cred.ClientSecretEnc, cred.ClientSecretIV)
		if err == nil {
			return cred.ClientID, secret, nil
		}
		s.log.Warn("平台级应用凭证解密失败", zap.String("environment", account.Environment), zap.Error(err))
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", err
	}

	if s.cfg.AppID != "" && s.cfg.AppSecret != "" {
		return s.cfg.AppID, s.cfg.AppSecret, nil
	}
	return "", "", apperr.New(apperr.ErrConfiguration, "未配置 "+account.Environment+" 环境的应用凭证")
}

// ==================== 状态迁移 ====================

func (s *TokenService) markNeedsReauth(ctx context.Context, account *model.Account, reason string) {
	if err := model.Transition(model.StateRefreshing, model.StateNeedsReauth); err != nil {
		s.log.Error("状态迁移失败", zap.Error(err))
		return
	}
	if err := s.accounts.UpdateFields(ctx, account.ID, map[string]interface{}{
		"needs_reauth":  true,
		"reauth_reason": reason,
	}); err != nil {
		s.log.Error("标记 needs_reauth 失败", zap.Int64("account_id", account.ID), zap.Error(err))
		return
	}
	account.NeedsReauth = true
	account.ReauthReason = reason
	s.log.Warn("账号需要重新授权", zap.Int64("account_id", account.ID), zap.String("reason", reason))
}

// refreshFailure 刷新失败后给调用方的错误
func (s *TokenService) refreshFailure(ctx context.Context, accountID int64) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err == nil && account.NeedsReauth {
		return apperr.New(apperr.ErrNeedsReauth, account.ReauthReason)
	}
	return apperr.ErrTokenExpired
}

// load 读取账号与最新令牌
func (s *TokenService) load(ctx context.Context, accountID int64) (*model.Account, *model.TokenRecord, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, apperr.New(apperr.ErrNotFound, fmt.Sprintf("账号 %d 不存在", accountID))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("查询账号失败: %w", err)
	}
	if !account.Active || account.NeedsReauth {
		return nil, nil, apperr.New(apperr.ErrNeedsReauth, account.ReauthReason)
	}

	rec, err := s.tokens.GetLatest(ctx, accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, apperr.ErrTokenMissing
	}
	if err != nil {
		return nil, nil, fmt.Errorf("查询令牌失败: %w", err)
	}
	if rec.AccessToken == "" {
		return nil, nil, apperr.ErrTokenMissing
	}
	return account, rec, nil
}

func grantOf(account *model.Account, rec *model.TokenRecord) *net.Grant {
	return &net.Grant{
		AccountID:   account.ID,
		Environment: account.Environment,
		AccessToken: rec.AccessToken,
	}
}

// meta 日志元数据
type meta = map[string]interface{}
