package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenRecord_State(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	skew := 5 * time.Minute
	at := func(d time.Duration) *time.Time { v := now.Add(d); return &v }

	tests := []struct {
		name string
		rec  *TokenRecord
		want TokenState
	}{
		{"nil", nil, StateNoToken},
		{"empty", &TokenRecord{}, StateNoToken},
		{"pending", &TokenRecord{AccessToken: PendingAccessToken, ExpiresAt: at(time.Hour)}, StatePending},
		{"active", &TokenRecord{AccessToken: "tok", ExpiresAt: at(time.Hour)}, StateActive},
		{"no expiry", &TokenRecord{AccessToken: "tok"}, StateActive},
		{"inside skew", &TokenRecord{AccessToken: "tok", ExpiresAt: at(2 * time.Minute)}, StateExpiring},
		{"expired", &TokenRecord{AccessToken: "tok", ExpiresAt: at(-time.Minute)}, StateExpiring},
		{"refresh lease", &TokenRecord{AccessToken: "tok", ExpiresAt: at(-time.Minute), RefreshingUntil: at(time.Minute)}, StateRefreshing},
		{"stale lease", &TokenRecord{AccessToken: "tok", ExpiresAt: at(time.Hour), RefreshingUntil: at(-time.Minute)}, StateActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.State(now, skew))
		})
	}
}

func TestPendingNeverUsable(t *testing.T) {
	rec := &TokenRecord{AccessToken: PendingAccessToken}
	assert.False(t, rec.State(time.Now(), 0).Usable())
}

func TestAccountState(t *testing.T) {
	now := time.Now()
	exp := now.Add(time.Hour)
	rec := &TokenRecord{AccessToken: "tok", ExpiresAt: &exp}

	assert.Equal(t, StateActive, AccountState(&Account{Active: true}, rec, now, 0))
	assert.Equal(t, StateNeedsReauth, AccountState(&Account{Active: true, NeedsReauth: true}, rec, now, 0))
	assert.Equal(t, StateInactive, AccountState(&Account{Active: false, NeedsReauth: true}, rec, now, 0))
}

func TestTransition(t *testing.T) {
	allowed := [][2]TokenState{
		{StateNoToken, StatePending},
		{StatePending, StateActive},
		{StatePending, StateNoToken},
		{StateActive, StateRefreshing},
		{StateExpiring, StateRefreshing},
		{StateRefreshing, StateActive},
		{StateRefreshing, StateNeedsReauth},
		{StateNeedsReauth, StatePending},
	}
	for _, pair := range allowed {
		assert.NoError(t, Transition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]TokenState{
		{StateNoToken, StateActive},
		{StatePending, StateRefreshing},
		{StateNeedsReauth, StateActive},
		{StateNeedsReauth, StateRefreshing},
		{StateActive, StateNeedsReauth},
	}
	for _, pair := range denied {
		assert.Error(t, Transition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestProduct_IsRoot(t *testing.T) {
	parent := int64(7)
	zero := int64(0)
	assert.True(t, (&Product{}).IsRoot())
	assert.True(t, (&Product{ParentID: &zero}).IsRoot())
	assert.False(t, (&Product{BaseModel: BaseModel{ID: 8}, ParentID: &parent}).IsRoot())
	assert.True(t, (&Product{BaseModel: BaseModel{ID: 7}, ParentID: &parent}).IsRoot())
}
