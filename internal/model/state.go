package model

import (
	"fmt"
	"time"
)

// TokenState 账号/令牌状态
// NoToken -> Pending -> Active -> Expiring -> Refreshing -> Active | NeedsReauth
type TokenState string

const (
	StateNoToken     TokenState = "no_token"
	StatePending     TokenState = "pending"
	StateActive      TokenState = "active"
	StateExpiring    TokenState = "expiring"
	StateRefreshing  TokenState = "refreshing"
	StateNeedsReauth TokenState = "needs_reauth"
	StateInactive    TokenState = "inactive"
)

var transitions = map[TokenState][]TokenState{
	StateNoToken:     {StatePending},
	StatePending:     {StateActive, StateNoToken},
	StateActive:      {StateExpiring, StateRefreshing, StatePending},
	StateExpiring:    {StateRefreshing, StatePending},
	StateRefreshing:  {StateActive, StateExpiring, StateNeedsReauth},
	StateNeedsReauth: {StatePending},
	StateInactive:    {StatePending},
}

// CanTransition 状态迁移是否合法
func CanTransition(from, to TokenState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition 校验迁移，非法时返回错误
func Transition(from, to TokenState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("非法状态迁移: %s -> %s", from, to)
	}
	return nil
}

// AccountState 账号的对外状态：停用与 needs_reauth 优先于令牌本身
func AccountState(a *Account, t *TokenRecord, now time.Time, skew time.Duration) TokenState {
	if a != nil && !a.Active {
		return StateInactive
	}
	if a != nil && a.NeedsReauth {
		return StateNeedsReauth
	}
	return t.State(now, skew)
}

// Usable 该状态下是否可以直接拿 access token 发请求
func (s TokenState) Usable() bool {
	return s == StateActive || s == StateExpiring
}
