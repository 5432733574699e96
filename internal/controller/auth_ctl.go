package controller

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ebay_sync_v1_202610/internal/service"
	"ebay_sync_v1_202610/pkg/apperr"
)

// 回调结果通过短时 cookie 告诉前端
const (
	CookieConnectStatus = "ebay_connect_status"
	CookieOAuthRetry    = "ebay_oauth_retry"

	connectStatusMaxAge = 60
	retryGuardMaxAge    = 300

	ConnectStatusConnected = "connected"
	ConnectStatusError     = "error"
	ConnectStatusDenied    = "denied"
)

// ConsentFlow 授权握手
type ConsentFlow interface {
	BeginConsent(ctx context.Context, environment string, accountID *int64, returnURL string) (string, error)
	CompleteConsent(ctx context.Context, code, state string) (*service.ConnectResult, error)
}

type AuthController struct {
	consent   ConsentFlow
	returnURL string          // 默认跳回的前端地址
	hosts     map[string]bool // return_url 允许的绝对地址主机
	log       *zap.Logger
}

// NewAuthController 默认跳回地址的主机自动加入白名单
func NewAuthController(consent ConsentFlow, returnURL string, returnHosts []string, log *zap.Logger) *AuthController {
	if returnURL == "" {
		returnURL = "/"
	}
	hosts := make(map[string]bool, len(returnHosts)+1)
	for _, h := range returnHosts {
		hosts[strings.ToLower(h)] = true
	}
	if u, err := url.Parse(returnURL); err == nil && u.Host != "" {
		hosts[strings.ToLower(u.Host)] = true
	}
	return &AuthController{consent: consent, returnURL: returnURL, hosts: hosts, log: log.Named("auth_ctl")}
}

// Login
// @Summary 发起 eBay 授权
// @Description 写入握手记录并跳转到授权页；format=json 时只返回链接，方便复制到指纹浏览器
// @Tags Auth (授权模块)
// @Produce json
// @Param environment query string false "sandbox / production，默认取配置"
// @Param account_id query int false "重新授权已有账号时传入"
// @Param return_url query string false "授权完成后跳回的前端地址"
// @Param format query string false "json 时不跳转"
// @Success 302 {string} string "跳转到授权页"
// @Success 200 {object} map[string]string "auth_url"
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Router /api/oauth/login [get]
func (ctrl *AuthController) Login(c *gin.Context) {
	var accountID *int64
	if raw := c.Query("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, "account_id 必须是正整数"))
			return
		}
		accountID = &id
	}

	returnURL := c.Query("return_url")
	if returnURL != "" && !ctrl.safeReturnURL(returnURL) {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, "return_url 只能是站内路径或白名单内的 http(s) 地址"))
		return
	}

	authURL, err := ctrl.consent.BeginConsent(c.Request.Context(), c.Query("environment"), accountID, returnURL)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	if c.Query("format") == "json" {
		c.JSON(http.StatusOK, gin.H{"auth_url": authURL})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// Callback
// @Summary eBay 授权回调
// @Description 换取令牌并入库，结果写入 cookie ebay_connect_status 后跳回前端
// @Tags Auth (授权模块)
// @Param code query string false "授权码"
// @Param state query string false "握手 state"
// @Param error query string false "用户拒绝授权时平台回传"
// @Success 302 {string} string "跳回前端"
// @Router /api/oauth/callback [get]
func (ctrl *AuthController) Callback(c *gin.Context) {
	if denied := c.Query("error"); denied != "" {
		ctrl.log.Info("用户拒绝授权", zap.String("error", denied))
		ctrl.finish(c, ctrl.returnURL, ConnectStatusDenied)
		return
	}

	res, err := ctrl.consent.CompleteConsent(c.Request.Context(), c.Query("code"), c.Query("state"))
	switch {
	case err == nil:
		ctrl.log.Info("授权回调成功", zap.Int64("account_id", res.AccountID), zap.Bool("probed", res.Probed))
		target := res.ReturnURL
		if target == "" || !ctrl.safeReturnURL(target) {
			target = ctrl.returnURL
		}
		ctrl.finish(c, target, ConnectStatusConnected)

	case errors.Is(err, service.ErrStateAmbiguous):
		ctrl.retryConsent(c, err)

	default:
		ctrl.log.Warn("授权回调失败", zap.Error(err))
		ctrl.finish(c, ctrl.returnURL, ConnectStatusError)
	}
}

// retryConsent state 无法对应到握手记录时重新发起一次授权
// 已经重试过一次则直接报错，避免来回跳转
func (ctrl *AuthController) retryConsent(c *gin.Context, cause error) {
	if _, err := c.Cookie(CookieOAuthRetry); err == nil {
		ctrl.log.Warn("重新授权后 state 仍无效", zap.Error(cause))
		ctrl.finish(c, ctrl.returnURL, ConnectStatusError)
		return
	}

	authURL, err := ctrl.consent.BeginConsent(c.Request.Context(), "", nil, "")
	if err != nil {
		ctrl.log.Error("重新发起授权失败", zap.Error(err))
		ctrl.finish(c, ctrl.returnURL, ConnectStatusError)
		return
	}
	ctrl.log.Info("state 无效，重新发起授权", zap.Error(cause))
	ctrl.setCookie(c, CookieOAuthRetry, "1", retryGuardMaxAge)
	c.Redirect(http.StatusFound, authURL)
}

func (ctrl *AuthController) finish(c *gin.Context, target, status string) {
	ctrl.setCookie(c, CookieOAuthRetry, "", -1)
	ctrl.setCookie(c, CookieConnectStatus, status, connectStatusMaxAge)
	c.Redirect(http.StatusFound, target)
}

// setCookie 不带 domain，只对当前主机有效
func (ctrl *AuthController) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", c.Request.TLS != nil, true)
}

// safeReturnURL 只允许站内路径，或主机在白名单内的 http(s) 地址
func (ctrl *AuthController) safeReturnURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		return len(raw) > 0 && raw[0] == '/' && (len(raw) == 1 || (raw[1] != '/' && raw[1] != '\\'))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != "" && ctrl.hosts[strings.ToLower(u.Host)]
}
