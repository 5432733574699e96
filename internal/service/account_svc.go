package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/pkg/apperr"
)

// AccountView 账号 + 派生状态，不含任何令牌内容
type AccountView struct {
	model.Account
	State          model.TokenState `json:"state"`
	TokenExpiresAt *time.Time       `json:"token_expires_at,omitempty"`
	Scope          string           `json:"scope,omitempty"`
}

// AccountService 账号查询与手动刷新
type AccountService struct {
	accounts repository.AccountRepository
	tokens   *TokenService
}

func NewAccountService(accounts repository.AccountRepository, tokens *TokenService) *AccountService {
	return &AccountService{accounts: accounts, tokens: tokens}
}

// List 分页列出账号
func (s *AccountService) List(ctx context.Context, filter repository.AccountFilter) ([]AccountView, int64, error) {
	accounts, total, err := s.accounts.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("查询账号失败: %w", err)
	}
	views := make([]AccountView, 0, len(accounts))
	for i := range accounts {
		views = append(views, s.view(ctx, &accounts[i]))
	}
	return views, total, nil
}

// Refresh 运营手动强制刷新
func (s *AccountService) Refresh(ctx context.Context, accountID int64) (*AccountView, error) {
	if _, err := s.get(ctx, accountID); err != nil {
		return nil, err
	}
	if _, err := s.tokens.Refresh(ctx, accountID); err != nil {
		return nil, err
	}
	// 刷新可能改了账号状态，重新读取
	account, err := s.get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	v := s.view(ctx, account)
	return &v, nil
}

func (s *AccountService) get(ctx context.Context, accountID int64) (*model.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.ErrNotFound, fmt.Sprintf("账号 %d 不存在", accountID))
	}
	return account, err
}

func (s *AccountService) view(ctx context.Context, account *model.Account) AccountView {
	state, rec := s.tokens.Describe(ctx, account)
	v := AccountView{Account: *account, State: state}
	if rec != nil {
		v.TokenExpiresAt = rec.ExpiresAt
		v.Scope = rec.Scope
	}
	return v
}
