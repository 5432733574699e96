package repository

import (
	"context"

	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
)

// SyncLogRepository 同步日志，只有追加和查询
type SyncLogRepository interface {
	Create(ctx context.Context, entry *model.SyncLog) error
	Latest(ctx context.Context, accountID int64, operation string) (*model.SyncLog, error)
	List(ctx context.Context, filter SyncLogFilter) ([]model.SyncLog, int64, error)
}

// SyncLogFilter 日志过滤条件
type SyncLogFilter struct {
	AccountID int64
	Operation string
	Outcome   string
	Page      int
	PageSize  int
}

type syncLogRepo struct {
	db *gorm.DB
}

// NewSyncLogRepository 创建同步日志仓储
func NewSyncLogRepository(db *gorm.DB) SyncLogRepository {
	return &syncLogRepo{db: db}
}

func (r *syncLogRepo) Create(ctx context.Context, entry *model.SyncLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *syncLogRepo) Latest(ctx context.Context, accountID int64, operation string) (*model.SyncLog, error) {
	var entry model.SyncLog
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND operation = ?", accountID, operation).
		Order("created_at DESC, id DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *syncLogRepo) List(ctx context.Context, filter SyncLogFilter) ([]model.SyncLog, int64, error) {
	var logs []model.SyncLog
	var total int64

	query := r.db.WithContext(ctx).Model(&model.SyncLog{})
	if filter.AccountID > 0 {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.Operation != "" {
		query = query.Where("operation = ?", filter.Operation)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
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
	err := query.Order("id DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&logs).Error
	return logs, total, err
}
