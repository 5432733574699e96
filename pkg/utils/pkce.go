package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// OAuthState 授权回调 state 参数携带的内容
type OAuthState struct {
	Environment string `json:"environment"`
	AccountID   *int64 `json:"account_id,omitempty"`
	Nonce       string `json:"n"`
}

// NewNonce 生成握手随机数
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// EncodeState base64url(JSON)，不带填充
func EncodeState(s OAuthState) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeState 解析 state，兼容带填充的写法
func DecodeState(state string) (*OAuthState, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return nil, errors.New("state 为空")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(state, "="))
	if err != nil {
		return nil, fmt.Errorf("state 解码失败: %w", err)
	}
	var s OAuthState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("state 不是合法 JSON: %w", err)
	}
	if s.Nonce == "" {
		return nil, errors.New("state 缺少 nonce")
	}
	return &s, nil
}
