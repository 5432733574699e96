package model

import (
	"time"
)

// PendingAccessToken 授权握手尚未完成的占位值，永远不可当作令牌使用
const PendingAccessToken = "pending"

// TokenRecord 账号的令牌记录
// 同一账号可能残留多行，以 updated_at 最新的可用行为准
type TokenRecord struct {
	BaseModel
	AccountID   *int64 `gorm:"index" json:"account_id"` // 握手中的新账号为空
	Environment string `gorm:"size:20;not null" json:"environment"`

	AccessToken     string     `gorm:"type:text;not null" json:"-"`
	RefreshTokenEnc string     `gorm:"type:text" json:"-"`
	RefreshTokenIV  string     `gorm:"size:64" json:"-"`
	Scope           string     `gorm:"type:text" json:"scope"`
	TokenType       string     `gorm:"size:30" json:"token_type"`
	ExpiresAt       *time.Time `json:"expires_at"`

	// 握手关联
	StateNonce string `gorm:"size:64;index" json:"-"`
	ReturnURL  string `gorm:"size:500" json:"-"`

	// 刷新租约，防止多个任务同时刷新同一账号
	RefreshingUntil *time.Time `json:"-"`
}

func (TokenRecord) TableName() string {
	return "marketplace_tokens"
}

// IsPending 是否为握手占位记录
func (t *TokenRecord) IsPending() bool {
	return t.AccessToken == PendingAccessToken
}

// State 单条记录的状态 (不含账号级 needs_reauth)
func (t *TokenRecord) State(now time.Time, skew time.Duration) TokenState {
	switch {
	case t == nil || t.AccessToken == "":
		return StateNoToken
	case t.IsPending():
		return StatePending
	case t.RefreshingUntil != nil && t.RefreshingUntil.After(now):
		return StateRefreshing
	case t.ExpiresAt != nil && !t.ExpiresAt.After(now.Add(skew)):
		return StateExpiring
	default:
		return StateActive
	}
}

// Expired 已经过了有效期 (不考虑提前量)
func (t *TokenRecord) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}
