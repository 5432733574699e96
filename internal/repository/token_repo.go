package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
)

// ==================== 接口定义 ====================

// TokenRepository 令牌记录仓储
type TokenRepository interface {
	Create(ctx context.Context, rec *model.TokenRecord) error
	GetByID(ctx context.Context, id int64) (*model.TokenRecord, error)
	// GetLatest 账号最新的非占位记录，多行时 updated_at 最新者胜出
	GetLatest(ctx context.Context, accountID int64) (*model.TokenRecord, error)
	GetPendingByNonce(ctx context.Context, nonce string) (*model.TokenRecord, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error

	// 刷新租约
	AcquireRefreshLease(ctx context.Context, id int64, now, until time.Time) (bool, error)
	ReleaseRefreshLease(ctx context.Context, id int64) error

	// ListExpiring 有效期早于 before 的非占位记录 (每个账号仅最新一行)
	ListExpiring(ctx context.Context, before time.Time) ([]model.TokenRecord, error)
	// DeleteStalePending 清理超时未完成的握手占位记录
	DeleteStalePending(ctx context.Context, createdBefore time.Time) (int64, error)
}

// ==================== 仓储实现 ====================

type tokenRepo struct {
	db *gorm.DB
}

// NewTokenRepository 创建令牌仓储
func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepo{db: db}
}

func (r *tokenRepo) Create(ctx context.Context, rec *model.TokenRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *tokenRepo) GetByID(ctx context.Context, id int64) (*model.TokenRecord, error) {
	var rec model.TokenRecord
	if err := r.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *tokenRepo) GetLatest(ctx context.Context, accountID int64) (*model.TokenRecord, error) {
	var rec model.TokenRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND access_token <> ?", accountID, model.PendingAccessToken).
		Order("updated_at DESC, id DESC").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *tokenRepo) GetPendingByNonce(ctx context.Context, nonce string) (*model.TokenRecord, error) {
	var rec model.TokenRecord
	err := r.db.WithContext(ctx).
		Where("state_nonce = ? AND access_token = ?", nonce, model.PendingAccessToken).
		Order("id DESC").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *tokenRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.TokenRecord{}).Where("id = ?", id).Updates(fields).Error
}

// AcquireRefreshLease 条件更新抢租约，返回是否抢到
func (r *tokenRepo) AcquireRefreshLease(ctx context.Context, id int64, now, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.TokenRecord{}).
		Where("id = ? AND (refreshing_until IS NULL OR refreshing_until < ?)", id, now).
		UpdateColumn("refreshing_until", until)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *tokenRepo) ReleaseRefreshLease(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&model.TokenRecord{}).
		Where("id = ?", id).
		UpdateColumn("refreshing_until", nil).Error
}

func (r *tokenRepo) ListExpiring(ctx context.Context, before time.Time) ([]model.TokenRecord, error) {
	var recs []model.TokenRecord
	err := r.db.WithContext(ctx).
		Where("account_id IS NOT NULL AND access_token <> ?", model.PendingAccessToken).
		Order("updated_at DESC, id DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	// 每个账号只看最新一行
	seen := make(map[int64]bool)
	var out []model.TokenRecord
	for _, rec := range recs {
		if seen[*rec.AccountID] {
			continue
		}
		seen[*rec.AccountID] = true
		if rec.ExpiresAt != nil && rec.ExpiresAt.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *tokenRepo) DeleteStalePending(ctx context.Context, createdBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Unscoped().
		Where("access_token = ? AND created_at < ?", model.PendingAccessToken, createdBefore).
		Delete(&model.TokenRecord{})
	return res.RowsAffected, res.Error
}
