package model

import (
	"time"
)

// Account 已连接的平台卖家身份
type Account struct {
	BaseModel
	// 1. 身份
	Provider     string `gorm:"size:20;not null;default:'ebay';index" json:"provider"`
	Environment  string `gorm:"size:20;not null;comment:sandbox/production" json:"environment"`
	Label        string `gorm:"size:100" json:"label"`
	RemoteUserID string `gorm:"size:100;index;comment:平台侧用户标识" json:"remote_user_id"`

	// 2. 状态 (只能通过 TokenService 迁移)
	Active       bool   `gorm:"default:true" json:"active"`
	NeedsReauth  bool   `gorm:"default:false" json:"needs_reauth"`
	ReauthReason string `gorm:"size:255" json:"reauth_reason,omitempty"`

	// 3. 账号级应用凭证 (可选，优先于 provider_credentials)
	AppClientID        string `gorm:"size:255" json:"-"`
	AppClientSecretEnc string `gorm:"type:text" json:"-"`
	AppClientSecretIV  string `gorm:"size:64" json:"-"`

	// 4. 同步水位
	LastOrderSyncAt *time.Time `json:"last_order_sync_at,omitempty"`
	LastPushAt      *time.Time `json:"last_push_at,omitempty"`
}

func (Account) TableName() string {
	return "marketplace_accounts"
}

// HasOwnCredentials 是否配置了账号级应用凭证
func (a *Account) HasOwnCredentials() bool {
	return a.AppClientID != "" && a.AppClientSecretEnc != ""
}

// ProviderCredential 平台级应用凭证，按环境区分
type ProviderCredential struct {
	BaseModel
	Provider        string `gorm:"size:20;not null;uniqueIndex:idx_provider_env"`
	Environment     string `gorm:"size:20;not null;uniqueIndex:idx_provider_env"`
	ClientID        string `gorm:"size:255;not null"`
	ClientSecretEnc string `gorm:"type:text;not null"`
	ClientSecretIV  string `gorm:"size:64"`
	RuName          string `gorm:"size:255;comment:回调地址标识"`
}

func (ProviderCredential) TableName() string {
	return "provider_credentials"
}
