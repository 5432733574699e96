package repository

import (
	"context"

	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
)

// ==================== 接口定义 ====================

// AccountRepository 平台账号仓储接口
type AccountRepository interface {
	Create(ctx context.Context, account *model.Account) error
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error
	List(ctx context.Context, filter AccountFilter) ([]model.Account, int64, error)
	ListActive(ctx context.Context) ([]model.Account, error)
}

// ProviderCredentialRepository 平台级应用凭证
type ProviderCredentialRepository interface {
	GetByEnvironment(ctx context.Context, provider, environment string) (*model.ProviderCredential, error)
	Save(ctx context.Context, cred *model.ProviderCredential) error
}

// ==================== 过滤条件 ====================

// AccountFilter 账号过滤条件
type AccountFilter struct {
	Environment string
	NeedsReauth *bool
	Page        int
	PageSize    int
}

// ==================== 仓储实现 ====================

type accountRepo struct {
	db *gorm.DB
}

// NewAccountRepository 创建账号仓储
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) Create(ctx context.Context, account *model.Account) error {
	if account.Provider == "" {
		account.Provider = model.ProviderEbay
	}
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepo) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var account model.Account
	if err := r.db.WithContext(ctx).First(&account, id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).Updates(fields).Error
}

func (r *accountRepo) List(ctx context.Context, filter AccountFilter) ([]model.Account, int64, error) {
	var accounts []model.Account
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Account{}).Where("provider = ?", model.ProviderEbay)
	if filter.Environment != "" {
		query = query.Where("environment = ?", filter.Environment)
	}
	if filter.NeedsReauth != nil {
		query = query.Where("needs_reauth = ?", *filter.NeedsReauth)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	offset := (filter.Page - 1) * filter.PageSize

	if err := query.Order("id ASC").Offset(offset).Limit(filter.PageSize).Find(&accounts).Error; err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

// ListActive 启用且不需要重新授权的账号
func (r *accountRepo) ListActive(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.WithContext(ctx).
		Where("provider = ? AND active = ? AND needs_reauth = ?", model.ProviderEbay, true, false).
		Order("id ASC").
		Find(&accounts).Error
	return accounts, err
}

// ==================== 平台凭证 ====================

type providerCredentialRepo struct {
	db *gorm.DB
}

// NewProviderCredentialRepository 创建平台凭证仓储
func NewProviderCredentialRepository(db *gorm.DB) ProviderCredentialRepository {
	return &providerCredentialRepo{db: db}
}

func (r *providerCredentialRepo) GetByEnvironment(ctx context.Context, provider, environment string) (*model.ProviderCredential, error) {
	var cred model.ProviderCredential
	err := r.db.WithContext(ctx).
		Where("provider = ? AND environment = ?", provider, environment).
		First(&cred).Error
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *providerCredentialRepo) Save(ctx context.Context, cred *model.ProviderCredential) error {
	return r.db.WithContext(ctx).Save(cred).Error
}
