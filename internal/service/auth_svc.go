package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/pkg/apperr"
	"ebay_sync_v1_202610/pkg/ebay"
	"ebay_sync_v1_202610/pkg/utils"
	"ebay_sync_v1_202610/pkg/vault"
)

// ErrStateAmbiguous 回调 state 缺失、无法解析或找不到对应的握手记录
var ErrStateAmbiguous = errors.New("oauth state ambiguous")

// AuthConfig 授权握手参数
type AuthConfig struct {
	AppID              string
	AppSecret          string
	RuName             string
	Scopes             []string
	APIBaseURL         string
	AuthBaseURL        string
	DefaultEnvironment string
	PendingTTL         time.Duration
}

// AuthService OAuth 授权码握手
type AuthService struct {
	accounts repository.AccountRepository
	tokens   repository.TokenRepository
	creds    repository.ProviderCredentialRepository
	vault    *vault.Vault
	http     *resty.Client
	cfg      AuthConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewAuthService 工厂方法
func NewAuthService(
	accounts repository.AccountRepository,
	tokens repository.TokenRepository,
	creds repository.ProviderCredentialRepository,
	v *vault.Vault,
	client *resty.Client,
	cfg AuthConfig,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		accounts: accounts,
		tokens:   tokens,
		creds:    creds,
		vault:    v,
		http:     client,
		cfg:      cfg,
		log:      log.Named("auth"),
		now:      time.Now,
	}
}

// ConnectResult 授权完成结果
type ConnectResult struct {
	AccountID   int64
	Environment string
	Scope       string
	Probed      bool // 授权范围未回显，靠探测接口确认
	ReturnURL   string
}

// BeginConsent 生成授权链接，同时写入握手占位记录
// accountID 为空表示新连接一个账号
func (s *AuthService) BeginConsent(ctx context.Context, environment string, accountID *int64, returnURL string) (string, error) {
	if environment == "" {
		environment = s.cfg.DefaultEnvironment
	}
	if environment != "sandbox" && environment != "production" {
		return "", apperr.New(apperr.ErrInvalidInput, "environment 只能是 sandbox 或 production")
	}

	// 1. 重新授权已有账号时校验状态
	if accountID != nil {
		account, err := s.accounts.GetByID(ctx, *accountID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperr.New(apperr.ErrNotFound, fmt.Sprintf("账号 %d 不存在", *accountID))
		}
		if err != nil {
			return "", err
		}
		if account.Environment != environment {
			return "", apperr.New(apperr.ErrInvalidInput, "账号环境与请求环境不一致")
		}
		latest, _ := s.tokens.GetLatest(ctx, account.ID)
		from := model.AccountState(account, latest, s.now(), 0)
		if err := model.Transition(from, model.StatePending); err != nil {
			return "", apperr.New(apperr.ErrInvalidInput, err.Error())
		}
	}

	conf, err := s.oauthConfig(ctx, environment)
	if err != nil {
		return "", err
	}

	// 2. 占位记录
	nonce := utils.NewNonce()
	expires := s.now().Add(s.cfg.PendingTTL)
	rec := &model.TokenRecord{
		AccountID:   accountID,
		Environment: environment,
		AccessToken: model.PendingAccessToken,
		StateNonce:  nonce,
		ReturnURL:   returnURL,
		ExpiresAt:   &expires,
	}
	if err := s.tokens.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("保存握手记录失败: %w", err)
	}

	// 3. state = base64url(JSON)
	state, err := utils.EncodeState(utils.OAuthState{Environment: environment, AccountID: accountID, Nonce: nonce})
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state), nil
}

// CompleteConsent 处理回调：换令牌、校验授权范围、落库
func (s *AuthService) CompleteConsent(ctx context.Context, code, state string) (*ConnectResult, error) {
	// 1. 解析 state 并找到握手记录
	st, err := utils.DecodeState(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateAmbiguous, err)
	}
	pending, err := s.tokens.GetPendingByNonce(ctx, st.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: 握手记录不存在", ErrStateAmbiguous)
	}
	if pending.ExpiresAt != nil && pending.ExpiresAt.Before(s.now()) {
		return nil, fmt.Errorf("%w: 握手已超时", ErrStateAmbiguous)
	}
	if pending.Environment != st.Environment {
		return nil, fmt.Errorf("%w: 环境不一致", ErrStateAmbiguous)
	}
	if strings.TrimSpace(code) == "" {
		return nil, apperr.New(apperr.ErrInvalidInput, "缺少 code")
	}

	// 2. 授权码换令牌 (Basic 鉴权)
	conf, err := s.oauthConfig(ctx, st.Environment)
	if err != nil {
		return nil, err
	}
	exCtx := context.WithValue(ctx, oauth2.HTTPClient, s.http.GetClient())
	tok, err := conf.Exchange(exCtx, code)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrRemoteClient, fmt.Errorf("授权码换令牌失败: %w", err))
	}
	if tok.RefreshToken == "" {
		return nil, apperr.New(apperr.ErrRemoteClient, "平台未返回 refresh_token")
	}

	// 3. 授权范围校验，不足时探测一次
	scope, _ := tok.Extra("scope").(string)
	probed := false
	if !scopeSufficient(scope, s.cfg.Scopes) {
		if err := s.probe(ctx, st.Environment, tok.AccessToken); err != nil {
			return nil, apperr.Wrap(apperr.ErrNeedsReauth, fmt.Errorf("授权范围不足: %w", err))
		}
		probed = true
		if scope == "" {
			scope = strings.Join(s.cfg.Scopes, " ")
		}
	}

	// 4. 账号
	account, err := s.resolveAccount(ctx, st, pending)
	if err != nil {
		return nil, err
	}

	// 5. 占位记录转正
	if err := model.Transition(model.StatePending, model.StateActive); err != nil {
		return nil, err
	}
	ct, iv, err := s.vault.Encrypt(tok.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("加密 refresh token 失败: %w", err)
	}
	fields := map[string]interface{}{
		"account_id":        account.ID,
		"access_token":      tok.AccessToken,
		"refresh_token_enc": ct,
		"refresh_token_iv":  iv,
		"scope":             scope,
		"token_type":        tok.TokenType,
		"state_nonce":       "",
		"expires_at":        nil,
	}
	if !tok.Expiry.IsZero() {
		fields["expires_at"] = tok.Expiry
	}
	if err := s.tokens.UpdateFields(ctx, pending.ID, fields); err != nil {
		return nil, fmt.Errorf("保存令牌失败: %w", err)
	}
	if err := s.accounts.UpdateFields(ctx, account.ID, map[string]interface{}{
		"active": true, "needs_reauth": false, "reauth_reason": "",
	}); err != nil {
		return nil, fmt.Errorf("更新账号状态失败: %w", err)
	}

	s.log.Info("账号授权完成",
		zap.Int64("account_id", account.ID),
		zap.String("environment", st.Environment),
		zap.Bool("probed", probed))

	return &ConnectResult{
		AccountID:   account.ID,
		Environment: st.Environment,
		Scope:       scope,
		Probed:      probed,
		ReturnURL:   pending.ReturnURL,
	}, nil
}

// resolveAccount state 里带了账号就复用，否则新建
func (s *AuthService) resolveAccount(ctx context.Context, st *utils.OAuthState, pending *model.TokenRecord) (*model.Account, error) {
	id := st.AccountID
	if id == nil {
		id = pending.AccountID
	}
	if id != nil {
		account, err := s.accounts.GetByID(ctx, *id)
		if err != nil {
			return nil, fmt.Errorf("%w: 账号 %d 不存在", ErrStateAmbiguous, *id)
		}
		return account, nil
	}

	account := &model.Account{
		Provider:    model.ProviderEbay,
		Environment: st.Environment,
		Label:       fmt.Sprintf("ebay-%s-%s", st.Environment, s.now().Format("20060102150405")),
		Active:      true,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("创建账号失败: %w", err)
	}
	return account, nil
}

// probe 用新令牌调一个低风险接口确认权限
func (s *AuthService) probe(ctx context.Context, environment, accessToken string) error {
	url := ebay.EndpointsFor(environment, s.cfg.APIBaseURL, "").API + ebay.PathInventoryItem
	resp, err := s.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Accept", "application/json").
		SetQueryParam("limit", "1").
		Get(url)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("探测接口返回 %d", resp.StatusCode())
	}
	return nil
}

// oauthConfig 按环境组装 oauth2.Config，凭证取平台级表，缺省用配置
func (s *AuthService) oauthConfig(ctx context.Context, environment string) (*oauth2.Config, error) {
	clientID, clientSecret, ruName := s.cfg.AppID, s.cfg.AppSecret, s.cfg.RuName

	cred, err := s.creds.GetByEnvironment(ctx, model.ProviderEbay, environment)
	if err == nil {
		secret, derr := s.vault.Decrypt(cred.ClientSecretEnc, cred.ClientSecretIV)
		if derr == nil {
			clientID, clientSecret = cred.ClientID, secret
			if cred.RuName != "" {
				ruName = cred.RuName
			}
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if clientID == "" || clientSecret == "" || ruName == "" {
		return nil, apperr.New(apperr.ErrConfiguration, "未配置 "+environment+" 环境的 app_id/app_secret/ru_name")
	}

	ep := ebay.EndpointsFor(environment, s.cfg.APIBaseURL, s.cfg.AuthBaseURL)
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  ruName,
		Scopes:       s.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   ep.AuthorizeURL(),
			TokenURL:  ep.TokenURL(),
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}, nil
}

// scopeSufficient 授权范围是否覆盖全部所需
func scopeSufficient(granted string, required []string) bool {
	have := make(map[string]bool)
	for _, s := range strings.Fields(granted) {
		have[s] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return len(required) > 0 || granted != ""
}
