package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
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

// MaxBulkItems 平台批量改库存接口单次上限
const MaxBulkItems = 25

// 单项推送结果
const (
	PushUpdated = "updated"
	PushFailed  = "failed"
)

// PushConfig 推送参数
type PushConfig struct {
	BatchSize          int
	AccountConcurrency int
}

// PushItem 手动指定的推送项，Quantity 为空时按本地库存计算
type PushItem struct {
	SKU      string `json:"sku" binding:"required"`
	Quantity *int   `json:"quantity,omitempty" binding:"omitempty,min=0"`
}

// PushInput 推送请求
type PushInput struct {
	AccountID int64
	DryRun    bool
	BatchSize int
	Items     []PushItem
}

// PlanItem 计划中的一项
type PlanItem struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	ProductID int64  `json:"product_id,omitempty"`
	ParentID  int64  `json:"parent_id,omitempty"`
}

// PushPlan 推送计划，试运行直接返回给运营
type PushPlan struct {
	AccountID  int64        `json:"account_id"`
	BatchSize  int          `json:"batch_size"`
	Items      int          `json:"items"`
	Batches    [][]PlanItem `json:"batches"`
	Unresolved []string     `json:"unresolved,omitempty"`
}

// ItemResult 单项结果
type ItemResult struct {
	SKU        string `json:"sku"`
	Quantity   int    `json:"quantity"`
	Status     string `json:"status"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PushResult 单账号推送结果
type PushResult struct {
	AccountID int64        `json:"account_id"`
	DryRun    bool         `json:"dry_run"`
	Plan      *PushPlan    `json:"plan,omitempty"`
	Updated   int          `json:"updated"`
	Failed    int          `json:"failed"`
	Reason    string       `json:"reason,omitempty"`
	Results   []ItemResult `json:"results"`
}

// InventoryPushService 本地库存推送到平台
type InventoryPushService struct {
	accounts repository.AccountRepository
	mappings repository.MappingRepository
	stock    *StockService
	remote   net.Dispatcher
	logs     *SyncLogService
	cfg      PushConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewInventoryPushService 创建推送服务
func NewInventoryPushService(
	accounts repository.AccountRepository,
	mappings repository.MappingRepository,
	stock *StockService,
	remote net.Dispatcher,
	logs *SyncLogService,
	cfg PushConfig,
	log *zap.Logger,
) *InventoryPushService {
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBulkItems {
		cfg.BatchSize = MaxBulkItems
	}
	if cfg.AccountConcurrency <= 0 {
		cfg.AccountConcurrency = 1
	}
	return &InventoryPushService{
		accounts: accounts,
		mappings: mappings,
		stock:    stock,
		remote:   remote,
		logs:     logs,
		cfg:      cfg,
		log:      log.Named("inventory_push"),
		now:      time.Now,
	}
}

// ==================== 计划 ====================

// Plan 计算推送计划，不发请求
func (s *InventoryPushService) Plan(ctx context.Context, in PushInput) (*PushPlan, error) {
	size := in.BatchSize
	if size == 0 {
		size = s.cfg.BatchSize
	}
	if size < 1 || size > MaxBulkItems {
		return nil, apperr.New(apperr.ErrInvalidInput, fmt.Sprintf("batch_size 必须在 1..%d 之间", MaxBulkItems))
	}
	if _, err := s.accounts.GetByID(ctx, in.AccountID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.ErrNotFound, fmt.Sprintf("账号 %d 不存在", in.AccountID))
		}
		return nil, err
	}

	mappings, err := s.mappings.ListMapped(ctx, in.AccountID)
	if err != nil {
		return nil, fmt.Errorf("查询映射失败: %w", err)
	}
	bySKU := make(map[string]model.SkuMapping, len(mappings))
	for _, m := range mappings {
		bySKU[m.RemoteSKU] = m
	}

	// 1. 确定要推的 SKU (去重)
	type want struct {
		sku      string
		override *int
	}
	var wants []want
	plan := &PushPlan{AccountID: in.AccountID, BatchSize: size}
	if len(in.Items) > 0 {
		seen := make(map[string]bool)
		for _, it := range in.Items {
			sku := strings.TrimSpace(it.SKU)
			if sku == "" || seen[sku] {
				continue
			}
			seen[sku] = true
			if _, ok := bySKU[sku]; !ok && it.Quantity == nil {
				plan.Unresolved = append(plan.Unresolved, sku)
				continue
			}
			wants = append(wants, want{sku: sku, override: it.Quantity})
		}
	} else {
		for _, m := range mappings {
			wants = append(wants, want{sku: m.RemoteSKU})
		}
	}

	// 2. 父商品，多个映射可能共用同一父商品
	parentOf := make(map[int64]int64)
	var parentIDs []int64
	for _, w := range wants {
		m, ok := bySKU[w.sku]
		if !ok || w.override != nil {
			continue
		}
		pid := *m.ProductID
		if _, done := parentOf[pid]; done {
			continue
		}
		parent, err := s.stock.ResolveParent(ctx, pid)
		if err != nil {
			s.log.Warn("父商品解析失败", zap.String("sku", w.sku), zap.Int64("product_id", pid), zap.Error(err))
			parentOf[pid] = 0
			continue
		}
		if _, known := indexOf(parentIDs, parent.ID); !known {
			parentIDs = append(parentIDs, parent.ID)
		}
		parentOf[pid] = parent.ID
	}

	// 3. 每个父商品只算一次数量
	quantities, err := s.stock.PushQuantities(ctx, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("计算推送数量失败: %w", err)
	}

	items := make([]PlanItem, 0, len(wants))
	for _, w := range wants {
		item := PlanItem{SKU: w.sku}
		if m, ok := bySKU[w.sku]; ok {
			item.ProductID = *m.ProductID
			item.ParentID = parentOf[item.ProductID]
		}
		switch {
		case w.override != nil:
			item.Quantity = *w.override
		case item.ParentID == 0:
			plan.Unresolved = append(plan.Unresolved, w.sku)
			continue
		default:
			item.Quantity = quantities[item.ParentID]
		}
		if item.Quantity < 0 {
			item.Quantity = 0
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })

	plan.Items = len(items)
	plan.Batches = buildBatches(items, size)
	return plan, nil
}

// buildBatches 试运行与实际推送共用的切分逻辑
func buildBatches(items []PlanItem, size int) [][]PlanItem {
	if size <= 0 || size > MaxBulkItems {
		size = MaxBulkItems
	}
	batches := make([][]PlanItem, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

func indexOf(ids []int64, id int64) (int, bool) {
	for i, v := range ids {
		if v == id {
			return i, true
		}
	}
	return -1, false
}

// ==================== 推送 ====================

// Push 按计划逐批推送；试运行只返回计划
func (s *InventoryPushService) Push(ctx context.Context, in PushInput) (*PushResult, error) {
	plan, err := s.Plan(ctx, in)
	if err != nil {
		return nil, err
	}
	res := &PushResult{AccountID: in.AccountID, DryRun: in.DryRun, Results: []ItemResult{}}
	if in.DryRun {
		res.Plan = plan
		return res, nil
	}

	account, err := s.accounts.GetByID(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if !account.Active || account.NeedsReauth {
		return nil, apperr.New(apperr.ErrNeedsReauth, fmt.Sprintf("账号 %d 未启用或需要重新授权", in.AccountID))
	}

	log := s.log.With(zap.Int64("account_id", in.AccountID))
	lastStatus := 0
	var abort error
	for i, batch := range plan.Batches {
		if abort != nil {
			// 账号级错误后剩余批次不再发送，全部记失败
			res.Results = append(res.Results, failBatch(batch, 0, abort.Error())...)
			continue
		}
		items, status, err := s.pushBatch(ctx, in.AccountID, batch)
		if status != 0 {
			lastStatus = status
		}
		res.Results = append(res.Results, items...)
		if err != nil {
			log.Warn("批次推送失败", zap.Int("batch", i), zap.Int("size", len(batch)), zap.Error(err))
			if apperr.IsAccountLevel(err) {
				abort = err
				res.Reason = ReasonTokenExpired
			}
		}
	}

	for _, r := range res.Results {
		if r.Status == PushUpdated {
			res.Updated++
		} else {
			res.Failed++
		}
	}

	outcome := model.OutcomeOK
	switch {
	case abort != nil:
		outcome = model.OutcomeRetry
	case res.Failed > 0 && res.Updated == 0:
		outcome = model.OutcomeFail
	case res.Failed > 0:
		outcome = model.OutcomeRetry
	}
	s.logs.Record(ctx, in.AccountID, model.OpInventoryPush, outcome, lastStatus, res.Updated, res.Failed, meta{
		"batches":    len(plan.Batches),
		"batch_size": plan.BatchSize,
		"unresolved": plan.Unresolved,
		"reason":     res.Reason,
	})
	if res.Updated > 0 {
		if err := s.accounts.UpdateFields(ctx, in.AccountID, map[string]interface{}{"last_push_at": s.now()}); err != nil {
			log.Warn("更新推送时间失败", zap.Error(err))
		}
	}
	log.Info("库存推送完成", zap.Int("updated", res.Updated), zap.Int("failed", res.Failed), zap.Int("batches", len(plan.Batches)))
	return res, nil
}

// pushBatch 发送一个批次
// 每一项都必须在响应里找到自己的明细才算成功，找不到一律记失败
func (s *InventoryPushService) pushBatch(ctx context.Context, accountID int64, batch []PlanItem) ([]ItemResult, int, error) {
	req := ebay.BulkPriceQuantityReq{Requests: make([]ebay.BulkPriceQuantityItem, 0, len(batch))}
	for _, it := range batch {
		req.Requests = append(req.Requests, ebay.BulkPriceQuantityItem{
			SKU:                        it.SKU,
			ShipToLocationAvailability: ebay.ShipToLocationAvailability{Quantity: it.Quantity},
		})
	}

	resp, callErr := s.remote.Do(ctx, accountID, &net.Call{
		Method: http.MethodPost,
		Path:   ebay.PathBulkUpdate,
		Body:   req,
	})
	if resp == nil {
		return failBatch(batch, 0, callErr.Error()), 0, callErr
	}

	var parsed ebay.BulkPriceQuantityResp
	if err := json.Unmarshal(resp.Body, &parsed); err != nil || len(parsed.Responses) == 0 {
		msg := "响应没有逐项明细"
		if callErr != nil {
			msg = callErr.Error()
		}
		if callErr == nil {
			callErr = apperr.New(apperr.ErrRemoteServer, msg)
		}
		return failBatch(batch, resp.StatusCode, msg), resp.StatusCode, callErr
	}

	detail := make(map[string]ebay.BulkItemResp, len(parsed.Responses))
	for _, r := range parsed.Responses {
		if _, dup := detail[r.SKU]; !dup {
			detail[r.SKU] = r
		}
	}

	out := make([]ItemResult, 0, len(batch))
	for _, it := range batch {
		r, ok := detail[it.SKU]
		switch {
		case !ok:
			out = append(out, ItemResult{SKU: it.SKU, Quantity: it.Quantity, Status: PushFailed, StatusCode: resp.StatusCode, Error: "响应中没有该 SKU 的明细"})
		case r.StatusCode >= 200 && r.StatusCode < 300 && len(r.Errors) == 0:
			out = append(out, ItemResult{SKU: it.SKU, Quantity: it.Quantity, Status: PushUpdated, StatusCode: r.StatusCode})
		default:
			out = append(out, ItemResult{SKU: it.SKU, Quantity: it.Quantity, Status: PushFailed, StatusCode: r.StatusCode, Error: ebay.ErrorResp{Errors: r.Errors}.Messages()})
		}
	}
	return out, resp.StatusCode, callErr
}

func failBatch(batch []PlanItem, status int, msg string) []ItemResult {
	out := make([]ItemResult, 0, len(batch))
	for _, it := range batch {
		out = append(out, ItemResult{SKU: it.SKU, Quantity: it.Quantity, Status: PushFailed, StatusCode: status, Error: msg})
	}
	return out
}

// PushAll 定时任务入口
func (s *InventoryPushService) PushAll(ctx context.Context) ([]*PushResult, error) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询账号失败: %w", err)
	}

	results := make([]*PushResult, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.AccountConcurrency)
	for i := range accounts {
		g.Go(func() error {
			res, err := s.Push(gctx, PushInput{AccountID: accounts[i].ID})
			if err != nil {
				s.log.Warn("账号推送失败", zap.Int64("account_id", accounts[i].ID), zap.Error(err))
				if apperr.CodeOf(err) == apperr.CodeConfiguration {
					return err
				}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*PushResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}
