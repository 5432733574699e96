package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
)

// SyncLogService 同步审计日志
type SyncLogService struct {
	repo     repository.SyncLogRepository
	cooldown time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewSyncLogService cooldown: 上次成功后多久允许手动重跑
func NewSyncLogService(repo repository.SyncLogRepository, cooldown time.Duration, log *zap.Logger) *SyncLogService {
	return &SyncLogService{repo: repo, cooldown: cooldown, log: log.Named("sync_log"), now: time.Now}
}

// Record 写一条日志，写失败只记 warn
func (s *SyncLogService) Record(ctx context.Context, accountID int64, operation, outcome string, httpStatus, updated, failed int, meta interface{}) BestEffort {
	return attempt("sync_log", func() error {
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		entry := &model.SyncLog{
			Operation:  operation,
			Outcome:    outcome,
			HTTPStatus: httpStatus,
			Updated:    updated,
			Failed:     failed,
			Metadata:   datatypes.JSON(raw),
		}
		if accountID > 0 {
			entry.AccountID = &accountID
		}
		return s.repo.Create(ctx, entry)
	}).Log(s.log, zap.Int64("account_id", accountID), zap.String("operation", operation))
}

// List 查询日志
func (s *SyncLogService) List(ctx context.Context, filter repository.SyncLogFilter) ([]model.SyncLog, int64, error) {
	return s.repo.List(ctx, filter)
}

// Eligibility 手动重跑资格
type Eligibility struct {
	Eligible    bool       `json:"eligible"`
	Reason      string     `json:"reason"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	RetryAfter  int        `json:"retry_after,omitempty"` // 秒
}

// RetryEligibility 无历史、上次失败/待重试、或上次成功已超过冷却期时允许重跑
func (s *SyncLogService) RetryEligibility(ctx context.Context, accountID int64, operation string) (*Eligibility, error) {
	last, err := s.repo.Latest(ctx, accountID, operation)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Eligibility{Eligible: true, Reason: "never_run"}, nil
	}
	if err != nil {
		return nil, err
	}

	e := &Eligibility{LastOutcome: last.Outcome, LastRunAt: &last.CreatedAt}
	if last.Outcome != model.OutcomeOK {
		e.Eligible = true
		e.Reason = "last_run_" + last.Outcome
		return e, nil
	}

	elapsed := s.now().Sub(last.CreatedAt)
	if elapsed >= s.cooldown {
		e.Eligible = true
		e.Reason = "cooldown_elapsed"
		return e, nil
	}
	e.Reason = "cooldown"
	e.RetryAfter = int((s.cooldown - elapsed).Seconds()) + 1
	return e, nil
}
