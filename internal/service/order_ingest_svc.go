package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/pkg/apperr"
	"ebay_sync_v1_202610/pkg/ebay"
	"ebay_sync_v1_202610/pkg/net"
)

// 订单查询时间格式 (UTC，毫秒)
const orderTimeLayout = "2006-01-02T15:04:05.000Z"

// 回溯窗口上限，账号长期未同步时也不会拉全量
const maxOrderLookback = 7 * 24 * time.Hour

// 账号级失败原因
const (
	ReasonTokenExpired = "token_expired"
	ReasonRemoteError  = "remote_error"
	ReasonInactive     = "account_inactive"
)

// 行处理结果
const (
	lineApplied  = "applied"
	lineUnmapped = "unmapped"
	lineSkipped  = "skipped"
	lineInvalid  = "invalid"
)

// IngestConfig 订单拉取参数
type IngestConfig struct {
	Lookback           time.Duration
	PageSize           int
	AccountConcurrency int
}

// IngestResult 单个账号的一次拉取结果
type IngestResult struct {
	AccountID int64     `json:"account_id"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Pages     int       `json:"pages"`
	Orders    int       `json:"orders"`
	Lines     int       `json:"lines"`
	Applied   int       `json:"applied"`
	Unmapped  int       `json:"unmapped"`
	Skipped   int       `json:"skipped"`
	Invalid   int       `json:"invalid"`
	Failed    int       `json:"failed"`
	Reason    string    `json:"reason,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
}

// IngestSummary 全部账号汇总
type IngestSummary struct {
	Accounts int             `json:"accounts"`
	Applied  int             `json:"applied"`
	Failed   int             `json:"failed"`
	Results  []*IngestResult `json:"results"`
}

// OrderIngestService 订单拉取与库存扣减
type OrderIngestService struct {
	accounts repository.AccountRepository
	ledger   repository.LedgerRepository
	uow      *repository.IngestUnitOfWork
	mapping  *MappingService
	stock    *StockService
	remote   net.Dispatcher
	logs     *SyncLogService
	cfg      IngestConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewOrderIngestService 创建订单拉取服务
func NewOrderIngestService(
	accounts repository.AccountRepository,
	ledger repository.LedgerRepository,
	uow *repository.IngestUnitOfWork,
	mapping *MappingService,
	stock *StockService,
	remote net.Dispatcher,
	logs *SyncLogService,
	cfg IngestConfig,
	log *zap.Logger,
) *OrderIngestService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 2 * time.Hour
	}
	if cfg.AccountConcurrency <= 0 {
		cfg.AccountConcurrency = 1
	}
	return &OrderIngestService{
		accounts: accounts,
		ledger:   ledger,
		uow:      uow,
		mapping:  mapping,
		stock:    stock,
		remote:   remote,
		logs:     logs,
		cfg:      cfg,
		log:      log.Named("order_ingest"),
		now:      time.Now,
	}
}

// ==================== 批量入口 ====================

// IngestAll 定时任务入口：逐个账号处理，单个账号失败不影响其他账号
// 只有配置错误会中止整轮
func (s *OrderIngestService) IngestAll(ctx context.Context) (*IngestSummary, error) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询账号失败: %w", err)
	}

	summary := &IngestSummary{Accounts: len(accounts)}
	results := make([]*IngestResult, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.AccountConcurrency)
	for i := range accounts {
		g.Go(func() error {
			res, err := s.IngestAccount(gctx, accounts[i].ID, 0)
			results[i] = res
			if err != nil && apperr.CodeOf(err) == apperr.CodeConfiguration {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		summary.Results = append(summary.Results, r)
		summary.Applied += r.Applied
		summary.Failed += r.Failed
	}
	return summary, nil
}

// ==================== 单账号 ====================

// IngestAccount 拉取一个账号最近修改的订单并扣减库存
// lookback 为 0 时使用配置值
func (s *OrderIngestService) IngestAccount(ctx context.Context, accountID int64, lookback time.Duration) (*IngestResult, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.ErrNotFound, fmt.Sprintf("账号 %d 不存在", accountID))
	}
	if err != nil {
		return nil, err
	}

	res := &IngestResult{AccountID: accountID}
	if !account.Active || account.NeedsReauth {
		res.Reason = ReasonInactive
		return res, apperr.New(apperr.ErrNeedsReauth, fmt.Sprintf("账号 %d 未启用或需要重新授权", accountID))
	}

	res.From, res.To = s.window(account, lookback)
	log := s.log.With(zap.Int64("account_id", accountID))

	// 同一轮内跨页去重
	seen := make(map[string]bool)

	first := &net.Call{
		Method: http.MethodGet,
		Path:   ebay.PathOrders,
		Query: url.Values{
			"filter": {fmt.Sprintf("lastmodifieddate:[%s..%s]",
				res.From.UTC().Format(orderTimeLayout), res.To.UTC().Format(orderTimeLayout))},
			"limit": {strconv.Itoa(s.cfg.PageSize)},
		},
	}
	pageErr := net.FollowNext(ctx, s.remote, accountID, first, func(body []byte) (string, error) {
		var page ebay.OrdersPage
		if err := json.Unmarshal(body, &page); err != nil {
			return "", apperr.Wrap(apperr.ErrRemoteServer, fmt.Errorf("订单分页无法解析: %w", err))
		}
		res.Pages++
		res.Orders += len(page.Orders)
		for _, order := range page.Orders {
			for _, line := range ebay.FlattenLines(order) {
				key := line.OrderID + "\x00" + line.LineID
				if seen[key] {
					continue
				}
				seen[key] = true
				res.Lines++
				s.tally(res, line, s.processLine(ctx, account, line))
			}
		}
		return page.Next, nil
	})

	outcome, status := model.OutcomeOK, 0
	if pageErr != nil {
		status = net.StatusOf(pageErr)
		switch {
		case apperr.IsAccountLevel(pageErr):
			res.Reason = ReasonTokenExpired
			outcome = model.OutcomeRetry
		case apperr.IsTransient(pageErr) || errors.Is(pageErr, context.DeadlineExceeded) || errors.Is(pageErr, context.Canceled):
			res.Reason = ReasonRemoteError
			outcome = model.OutcomeRetry
		default:
			res.Reason = ReasonRemoteError
			outcome = model.OutcomeFail
		}
		log.Warn("订单分页中止", zap.Int("pages", res.Pages), zap.String("reason", res.Reason), zap.Error(pageErr))
	} else {
		if err := s.accounts.UpdateFields(ctx, accountID, map[string]interface{}{"last_order_sync_at": res.To}); err != nil {
			log.Warn("更新同步时间失败", zap.Error(err))
		}
	}
	if outcome == model.OutcomeOK && res.Failed > 0 {
		outcome = model.OutcomeRetry
	}

	s.logs.Record(ctx, accountID, model.OpOrderIngest, outcome, status, res.Applied, res.Failed, meta{
		"from":     res.From,
		"to":       res.To,
		"pages":    res.Pages,
		"orders":   res.Orders,
		"lines":    res.Lines,
		"unmapped": res.Unmapped,
		"skipped":  res.Skipped,
		"reason":   res.Reason,
	})
	log.Info("订单同步完成",
		zap.Int("orders", res.Orders),
		zap.Int("lines", res.Lines),
		zap.Int("applied", res.Applied),
		zap.Int("unmapped", res.Unmapped),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))

	if pageErr != nil && apperr.CodeOf(pageErr) == apperr.CodeConfiguration {
		return res, pageErr
	}
	return res, nil
}

// window 默认回溯固定时长；上次同步早于窗口起点时从上次同步开始，最多回溯 7 天
func (s *OrderIngestService) window(account *model.Account, lookback time.Duration) (time.Time, time.Time) {
	if lookback <= 0 {
		lookback = s.cfg.Lookback
	}
	to := s.now()
	from := to.Add(-lookback)
	if account.LastOrderSyncAt != nil && account.LastOrderSyncAt.Before(from) {
		from = *account.LastOrderSyncAt
	}
	if floor := to.Add(-maxOrderLookback); from.Before(floor) {
		from = floor
	}
	return from, to
}

type lineOutcome struct {
	status string
	err    error
}

func (s *OrderIngestService) tally(res *IngestResult, line ebay.Line, out lineOutcome) {
	if out.err != nil {
		res.Failed++
		if len(res.Errors) < 20 {
			res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %v", line.OrderID, line.LineID, out.err))
		}
		return
	}
	switch out.status {
	case lineApplied:
		res.Applied++
	case lineUnmapped:
		res.Unmapped++
	case lineInvalid:
		res.Invalid++
	default:
		res.Skipped++
	}
}

// errLineClaimed 事务内发现台账已被别的运行占用
var errLineClaimed = errors.New("line already claimed")

// processLine 单行处理，任何异常只影响这一行
func (s *OrderIngestService) processLine(ctx context.Context, account *model.Account, line ebay.Line) (out lineOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = lineOutcome{err: fmt.Errorf("panic: %v", r)}
			s.log.Error("订单行处理异常",
				zap.Int64("account_id", account.ID),
				zap.String("order_id", line.OrderID),
				zap.String("line_id", line.LineID),
				zap.Any("panic", r))
		}
	}()

	if line.SKU == "" || line.Quantity <= 0 || line.OrderID == "" || line.LineID == "" {
		return lineOutcome{status: lineInvalid}
	}

	key := repository.LineKey{
		Provider:      model.ProviderEbay,
		AccountID:     account.ID,
		RemoteOrderID: line.OrderID,
		RemoteLineID:  line.LineID,
	}
	done, err := s.ledger.Exists(ctx, key)
	if err != nil {
		return lineOutcome{err: err}
	}
	if done {
		return lineOutcome{status: lineSkipped}
	}

	// 映射和父商品解析在事务外完成
	resolution, err := s.mapping.Resolve(ctx, account.ID, line.SKU)
	if err != nil {
		return lineOutcome{err: err}
	}
	var parent *model.Product
	if resolution.Mapped() {
		parent, err = s.stock.ResolveParent(ctx, *resolution.ProductID)
		if err != nil {
			return lineOutcome{err: fmt.Errorf("解析父商品失败: %w", err)}
		}
	}

	entry := &model.ProcessedOrderLine{
		Provider:      key.Provider,
		AccountID:     key.AccountID,
		RemoteOrderID: key.RemoteOrderID,
		RemoteLineID:  key.RemoteLineID,
		SKU:           line.SKU,
		Quantity:      line.Quantity,
		ProductID:     resolution.ProductID,
	}
	if parent != nil {
		entry.ParentProductID = &parent.ID
	}

	// 占位、扣减、回写台账在同一事务
	var dec *Decrement
	err = s.uow.Transaction(ctx, func(uow *repository.IngestUnitOfWork) error {
		claimed, err := uow.Ledger.Claim(ctx, entry)
		if err != nil {
			return err
		}
		if !claimed {
			return errLineClaimed
		}
		if parent == nil {
			return nil
		}
		dec, err = s.stock.DecrementIn(ctx, uow, parent, line.Quantity)
		if err != nil {
			return err
		}
		return uow.Ledger.UpdateFields(ctx, entry.ID, map[string]interface{}{
			"quantity_source": string(dec.Source),
			"quantity_before": dec.Before,
			"quantity_after":  dec.After,
		})
	})
	if errors.Is(err, errLineClaimed) {
		return lineOutcome{status: lineSkipped}
	}
	if err != nil {
		return lineOutcome{err: err}
	}

	if parent == nil {
		return lineOutcome{status: lineUnmapped}
	}
	s.stock.MirrorToBucket(ctx, parent.ID, line.Quantity)
	return lineOutcome{status: lineApplied}
}

// ==================== 台账查询 ====================

// Ledger 查询已处理订单行
func (s *OrderIngestService) Ledger(ctx context.Context, filter repository.LedgerFilter) ([]model.ProcessedOrderLine, int64, error) {
	return s.ledger.List(ctx, filter)
}
