package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/pkg/apperr"
	"ebay_sync_v1_202610/pkg/ebay"
	"ebay_sync_v1_202610/pkg/net"
)

// ListingConfig 在售信息拉取参数
type ListingConfig struct {
	PageSize        int
	Concurrency     int
	BatchDelay      time.Duration
	AcceptLanguages []string
}

// ListingRow 合并后的一行：平台字段 + 本地映射/库存/零售价
// 本地字段只返回不入库
type ListingRow struct {
	SKU            string           `json:"sku"`
	OfferID        string           `json:"offer_id,omitempty"`
	ListingID      string           `json:"listing_id,omitempty"`
	Title          string           `json:"title"`
	Status         string           `json:"status,omitempty"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	Currency       string           `json:"currency,omitempty"`
	RemoteQuantity int              `json:"remote_quantity"`
	ProductID      *int64           `json:"product_id,omitempty"`
	LocalQuantity  *int             `json:"local_quantity,omitempty"`
	RetailPrice    *decimal.Decimal `json:"retail_price,omitempty"`
	Orphan         bool             `json:"orphan"` // 平台有库存条目但还没有 offer
	Error          string           `json:"error,omitempty"`
}

// ListingsResult 拉取结果
type ListingsResult struct {
	AccountID int64        `json:"account_id"`
	Items     int          `json:"items"`
	Offers    int          `json:"offers"`
	Failed    int          `json:"failed"`
	Rows      []ListingRow `json:"rows"`
}

// ListingService 在售信息拉取
type ListingService struct {
	accounts repository.AccountRepository
	mappings repository.MappingRepository
	listings repository.ListingRepository
	stock    *StockService
	remote   net.Dispatcher
	logs     *SyncLogService
	cfg      ListingConfig
	log      *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewListingService 创建在售信息服务
func NewListingService(
	accounts repository.AccountRepository,
	mappings repository.MappingRepository,
	listings repository.ListingRepository,
	stock *StockService,
	remote net.Dispatcher,
	logs *SyncLogService,
	cfg ListingConfig,
	log *zap.Logger,
) *ListingService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &ListingService{
		accounts: accounts,
		mappings: mappings,
		listings: listings,
		stock:    stock,
		remote:   remote,
		logs:     logs,
		cfg:      cfg,
		log:      log.Named("listing"),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fetch 拉取账号的库存条目与 offer，合并本地数据后写缓存
func (s *ListingService) Fetch(ctx context.Context, accountID int64) (*ListingsResult, error) {
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.ErrNotFound, fmt.Sprintf("账号 %d 不存在", accountID))
		}
		return nil, err
	}
	log := s.log.With(zap.Int64("account_id", accountID))

	// 1. 库存条目 (offset 分页)
	var items []ebay.InventoryItem
	err := net.OffsetPages(ctx, s.remote, accountID, &net.Call{Method: http.MethodGet, Path: ebay.PathInventoryItem}, s.cfg.PageSize,
		func(body []byte) (int, int, error) {
			var page ebay.InventoryItemsPage
			if err := json.Unmarshal(body, &page); err != nil {
				return 0, 0, apperr.Wrap(apperr.ErrRemoteServer, fmt.Errorf("库存条目无法解析: %w", err))
			}
			items = append(items, page.InventoryItems...)
			return len(page.InventoryItems), page.Total, nil
		})
	if err != nil {
		s.logs.Record(ctx, accountID, model.OpListingFetch, model.OutcomeFail, net.StatusOf(err), 0, 0, meta{"error": err.Error()})
		return nil, err
	}

	// 2. 逐个 SKU 查 offer：批内并发，批间间隔
	offers := make(map[string][]ebay.Offer, len(items))
	offerErrs := make(map[string]error)
	var mu sync.Mutex
	for start := 0; start < len(items); start += s.cfg.Concurrency {
		end := start + s.cfg.Concurrency
		if end > len(items) {
			end = len(items)
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, item := range items[start:end] {
			sku := item.SKU
			g.Go(func() error {
				list, err := s.fetchOffers(gctx, accountID, sku)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					offerErrs[sku] = err
				} else {
					offers[sku] = list
				}
				return nil
			})
		}
		_ = g.Wait()
		if end < len(items) {
			if err := s.sleep(ctx, s.cfg.BatchDelay); err != nil {
				return nil, err
			}
		}
	}

	// 3. 合并本地数据
	rows, err := s.join(ctx, accountID, items, offers, offerErrs)
	if err != nil {
		return nil, err
	}
	res := &ListingsResult{AccountID: accountID, Items: len(items), Rows: rows}
	for _, list := range offers {
		res.Offers += len(list)
	}
	res.Failed = len(offerErrs)

	// 4. 只把平台字段写入缓存
	cache := make([]model.ListingCache, 0, len(rows))
	for _, r := range rows {
		if r.Orphan || r.OfferID == "" {
			continue
		}
		row := model.ListingCache{
			AccountID: accountID,
			SKU:       r.SKU,
			OfferID:   r.OfferID,
			ListingID: r.ListingID,
			Title:     r.Title,
			Currency:  r.Currency,
			Status:    r.Status,
		}
		if r.Price != nil {
			row.Price = *r.Price
		}
		cache = append(cache, row)
	}
	if err := s.listings.UpsertMarketplaceFields(ctx, cache); err != nil {
		log.Warn("写入在售缓存失败", zap.Error(err))
	}

	outcome := model.OutcomeOK
	if res.Failed > 0 {
		outcome = model.OutcomeRetry
	}
	s.logs.Record(ctx, accountID, model.OpListingFetch, outcome, 0, len(cache), res.Failed, meta{
		"items":  res.Items,
		"offers": res.Offers,
	})
	log.Info("在售信息拉取完成", zap.Int("items", res.Items), zap.Int("offers", res.Offers), zap.Int("failed", res.Failed))
	return res, nil
}

// fetchOffers 查单个 SKU 的 offer
// 遇到本地化头错误时按固定顺序换 Accept-Language 重试同一请求
func (s *ListingService) fetchOffers(ctx context.Context, accountID int64, sku string) ([]ebay.Offer, error) {
	languages := append([]string{""}, s.cfg.AcceptLanguages...)

	var lastErr error
	for _, lang := range languages {
		call := &net.Call{
			Method: http.MethodGet,
			Path:   ebay.PathOffer,
			Query:  url.Values{"sku": {sku}},
		}
		if lang != "" {
			call.Headers = map[string]string{"Accept-Language": lang, "Content-Language": lang}
		}
		resp, err := s.remote.Do(ctx, accountID, call)
		if err == nil {
			var page ebay.OffersPage
			if err := json.Unmarshal(resp.Body, &page); err != nil {
				return nil, fmt.Errorf("offer 无法解析: %w", err)
			}
			return page.Offers, nil
		}
		lastErr = err
		if resp == nil {
			return nil, err
		}
		// SKU 还没有 offer
		if resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		if !ebay.IsLocalizationError(resp.Body) {
			return nil, err
		}
		s.log.Debug("本地化头错误，切换语言重试", zap.String("sku", sku), zap.String("tried", lang))
	}
	return nil, lastErr
}

// join 合并映射、权威库存与零售价；一个 offer 一行，没有 offer 的条目给一行占位
func (s *ListingService) join(ctx context.Context, accountID int64, items []ebay.InventoryItem, offers map[string][]ebay.Offer, offerErrs map[string]error) ([]ListingRow, error) {
	skus := make([]string, 0, len(items))
	for _, it := range items {
		skus = append(skus, it.SKU)
	}
	mappings, err := s.mappings.ListBySKUs(ctx, accountID, skus)
	if err != nil {
		return nil, fmt.Errorf("查询映射失败: %w", err)
	}
	bySKU := make(map[string]model.SkuMapping, len(mappings))
	for _, m := range mappings {
		bySKU[m.RemoteSKU] = m
	}

	type local struct {
		qty   *int
		price *decimal.Decimal
	}
	cache := make(map[int64]local)
	localOf := func(productID int64) local {
		if l, ok := cache[productID]; ok {
			return l
		}
		var l local
		parent, err := s.stock.ResolveParent(ctx, productID)
		if err != nil {
			s.log.Warn("商品解析失败", zap.Int64("product_id", productID), zap.Error(err))
			cache[productID] = l
			return l
		}
		if qty, _, err := s.stock.AuthoritativeQuantity(ctx, parent); err == nil {
			l.qty = &qty
		}
		if p, err := s.stock.Product(ctx, productID); err == nil {
			price := p.RetailPrice
			l.price = &price
		}
		cache[productID] = l
		return l
	}

	rows := make([]ListingRow, 0, len(items))
	for _, it := range items {
		base := ListingRow{
			SKU:            it.SKU,
			Title:          it.Product.Title,
			RemoteQuantity: it.Availability.ShipToLocationAvailability.Quantity,
		}
		if m, ok := bySKU[it.SKU]; ok && m.Mapped() {
			base.ProductID = m.ProductID
			l := localOf(*m.ProductID)
			base.LocalQuantity = l.qty
			base.RetailPrice = l.price
		}
		if err, failed := offerErrs[it.SKU]; failed {
			row := base
			row.Error = err.Error()
			rows = append(rows, row)
			continue
		}

		list := offers[it.SKU]
		if len(list) == 0 {
			row := base
			row.Orphan = true
			rows = append(rows, row)
			continue
		}
		for _, o := range list {
			row := base
			row.OfferID = o.OfferID
			row.Status = o.Status
			row.Currency = o.PricingSummary.Price.Currency
			if o.Listing != nil {
				row.ListingID = o.Listing.ListingID
			}
			if v, err := decimal.NewFromString(o.PricingSummary.Price.Value); err == nil {
				row.Price = &v
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Cached 读取缓存中的平台字段
func (s *ListingService) Cached(ctx context.Context, accountID int64) ([]model.ListingCache, error) {
	return s.listings.ListByAccount(ctx, accountID)
}
