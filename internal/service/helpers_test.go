package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/pkg/net"
	"ebay_sync_v1_202610/pkg/utils"
	"ebay_sync_v1_202610/pkg/vault"
)

const testAPIBase = "https://api.test.local"

// ==================== 测试辅助 ====================

func setupServiceDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

func newTestVault(t *testing.T) *vault.Vault {
	v, err := vault.New("unit-test-secret")
	if err != nil {
		t.Fatalf("创建 vault 失败: %v", err)
	}
	return v
}

// newMockedClient 返回被 httpmock 接管的 resty 客户端，不做重试
func newMockedClient(t *testing.T) *resty.Client {
	client := utils.NewRestyClient(utils.ClientOptions{RetryCount: 0, RetryWait: time.Millisecond})
	httpmock.ActivateNonDefault(client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func ptrInt(v int) *int       { return &v }
func ptrInt64(v int64) *int64 { return &v }

// seedAccount 创建一个可用账号
func seedAccount(t *testing.T, db *gorm.DB) *model.Account {
	a := &model.Account{Provider: model.ProviderEbay, Environment: "production", Label: "test", Active: true}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("创建账号失败: %v", err)
	}
	return a
}

func seedProduct(t *testing.T, db *gorm.DB, p *model.Product) *model.Product {
	if p.RetailPrice.IsZero() {
		p.RetailPrice = decimal.NewFromInt(10)
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("创建商品失败: %v", err)
	}
	return p
}

func seedMapping(t *testing.T, db *gorm.DB, accountID int64, sku string, productID int64) {
	m := &model.SkuMapping{
		Provider: model.ProviderEbay, AccountID: accountID, RemoteSKU: sku,
		ProductID: &productID, Source: model.MappingSourceManual,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("创建映射失败: %v", err)
	}
}

// ==================== 固定令牌 ====================

// staticTokens 每个账号返回固定令牌 tok-<id>
type staticTokens struct {
	mu         sync.Mutex
	refreshes  int
	refreshErr error
}

func (s *staticTokens) Resolve(_ context.Context, id int64) (*net.Grant, error) {
	return &net.Grant{AccountID: id, Environment: "production", AccessToken: fmt.Sprintf("tok-%d", id)}, nil
}

func (s *staticTokens) Refresh(_ context.Context, id int64) (*net.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return &net.Grant{AccountID: id, Environment: "production", AccessToken: fmt.Sprintf("tok-%d", id)}, nil
}

// ==================== 服务组装 ====================

type testServices struct {
	db       *gorm.DB
	tokens   *staticTokens
	logs     *SyncLogService
	mapping  *MappingService
	stock    *StockService
	ingest   *OrderIngestService
	push     *InventoryPushService
	listings *ListingService
}

// newTestServices 组装业务服务，远端调用走 httpmock
func newTestServices(t *testing.T, db *gorm.DB, bucketLabel string) *testServices {
	client := newMockedClient(t)
	tokens := &staticTokens{}
	remote := net.NewDispatcher(client, tokens, net.Options{APIBaseURL: testAPIBase, MarketplaceID: "EBAY_US"}, zap.NewNop())

	accounts := repository.NewAccountRepository(db)
	products := repository.NewProductRepository(db)
	stockRepo := repository.NewStockRepository(db)
	mappings := repository.NewMappingRepository(db)

	logs := NewSyncLogService(repository.NewSyncLogRepository(db), time.Minute, zap.NewNop())
	mapping := NewMappingService(products, mappings, true, zap.NewNop())
	stock := NewStockService(products, stockRepo, bucketLabel, zap.NewNop())

	listings := NewListingService(accounts, mappings, repository.NewListingRepository(db), stock, remote, logs,
		ListingConfig{PageSize: 2, Concurrency: 2, AcceptLanguages: []string{"en-US", "en-GB", "de-DE"}}, zap.NewNop())
	listings.sleep = func(context.Context, time.Duration) error { return nil }

	return &testServices{
		db:      db,
		tokens:  tokens,
		logs:    logs,
		mapping: mapping,
		stock:   stock,
		ingest: NewOrderIngestService(accounts, repository.NewLedgerRepository(db), repository.NewIngestUnitOfWork(db),
			mapping, stock, remote, logs, IngestConfig{Lookback: 2 * time.Hour, PageSize: 100}, zap.NewNop()),
		push:     NewInventoryPushService(accounts, mappings, stock, remote, logs, PushConfig{BatchSize: 25}, zap.NewNop()),
		listings: listings,
	}
}

func jsonResponder(status int, body string) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(status, body)
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	}
}

func reloadAccount(t *testing.T, db *gorm.DB, id int64) *model.Account {
	var a model.Account
	if err := db.First(&a, id).Error; err != nil {
		t.Fatalf("读取账号失败: %v", err)
	}
	return &a
}

func syncLogFilter(accountID int64, operation string) repository.SyncLogFilter {
	return repository.SyncLogFilter{AccountID: accountID, Operation: operation}
}
