package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ebay_sync_v1_202610/internal/model"
)

// ==================== 接口定义 ====================

// LineKey 台账唯一键
type LineKey struct {
	Provider      string
	AccountID     int64
	RemoteOrderID string
	RemoteLineID  string
}

// LedgerRepository 订单行幂等台账
type LedgerRepository interface {
	Exists(ctx context.Context, key LineKey) (bool, error)
	// Claim 插入台账行，唯一键冲突时什么也不做并返回 false
	Claim(ctx context.Context, line *model.ProcessedOrderLine) (bool, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error
	List(ctx context.Context, filter LedgerFilter) ([]model.ProcessedOrderLine, int64, error)
}

// LedgerFilter 台账过滤条件
type LedgerFilter struct {
	AccountID    int64
	RemoteOrder  string
	UnmappedOnly bool
	Page         int
	PageSize     int
}

// ==================== 仓储实现 ====================

type ledgerRepo struct {
	db *gorm.DB
}

// NewLedgerRepository 创建台账仓储
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) Exists(ctx context.Context, key LineKey) (bool, error) {
	var line model.ProcessedOrderLine
	err := r.db.WithContext(ctx).
		Select("id").
		Where("provider = ? AND account_id = ? AND remote_order_id = ? AND remote_line_id = ?",
			key.Provider, key.AccountID, key.RemoteOrderID, key.RemoteLineID).
		First(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ledgerRepo) Claim(ctx context.Context, line *model.ProcessedOrderLine) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(line)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *ledgerRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.ProcessedOrderLine{}).Where("id = ?", id).Updates(fields).Error
}

func (r *ledgerRepo) List(ctx context.Context, filter LedgerFilter) ([]model.ProcessedOrderLine, int64, error) {
	var lines []model.ProcessedOrderLine
	var total int64

	query := r.db.WithContext(ctx).Model(&model.ProcessedOrderLine{})
	if filter.AccountID > 0 {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.RemoteOrder != "" {
		query = query.Where("remote_order_id = ?", filter.RemoteOrder)
	}
	if filter.UnmappedOnly {
		query = query.Where("product_id IS NULL")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	err := query.Order("id ASC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&lines).Error
	return lines, total, err
}

// ==================== 工作单元 ====================

// IngestUnitOfWork 订单行处理事务：台账占位、扣库存、回写台账在同一事务内
type IngestUnitOfWork struct {
	db     *gorm.DB
	Ledger LedgerRepository
	Stock  StockRepository
}

// NewIngestUnitOfWork 创建工作单元
func NewIngestUnitOfWork(db *gorm.DB) *IngestUnitOfWork {
	return &IngestUnitOfWork{
		db:     db,
		Ledger: NewLedgerRepository(db),
		Stock:  NewStockRepository(db),
	}
}

// Transaction 执行事务
func (u *IngestUnitOfWork) Transaction(ctx context.Context, fn func(uow *IngestUnitOfWork) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&IngestUnitOfWork{
			db:     tx,
			Ledger: NewLedgerRepository(tx),
			Stock:  NewStockRepository(tx),
		})
	})
}
