package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/config"
	"ebay_sync_v1_202610/internal/controller"
	"ebay_sync_v1_202610/internal/middleware"
	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/internal/router"
	"ebay_sync_v1_202610/internal/service"
	"ebay_sync_v1_202610/internal/task"
	"ebay_sync_v1_202610/pkg/database"
	"ebay_sync_v1_202610/pkg/logger"
	"ebay_sync_v1_202610/pkg/net"
	"ebay_sync_v1_202610/pkg/utils"
	"ebay_sync_v1_202610/pkg/vault"
)

func main() {
	configPath := flag.String("config", "", "config.yaml 路径，默认在 . 和 ./config 下查找")
	issueToken := flag.String("issue-token", "", "签发操作员令牌后退出，值为用户名")
	role := flag.String("role", "operator", "签发令牌的角色")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	defer func() { _ = log.Sync() }()

	if *issueToken != "" {
		printOperatorToken(cfg, *issueToken, *role)
		return
	}

	// 2. 初始化依赖
	deps, err := initDependencies(cfg, log)
	if err != nil {
		log.Fatal("依赖初始化失败", zap.Error(err))
	}
	defer deps.Close()

	// 3. 启动定时任务
	if err := deps.Tasks.Start(); err != nil {
		log.Fatal("定时任务启动失败", zap.Error(err))
	}
	defer deps.Tasks.Stop()

	// 4. 初始化路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	router.InitRoutes(r, deps.Controllers, router.Options{
		JWT:            middleware.JWTConfig{SecretKey: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer},
		Cooldown:       middleware.NewCooldown(deps.Redis),
		ManualCooldown: cfg.Sync.ManualCooldown,
		Log:            log,
	})

	// 5. 启动服务
	startServer(r, cfg.Server.Port, log)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB          *gorm.DB
	Redis       redis.UniversalClient // 未配置时为 nil
	Repos       *Repositories
	Services    *Services
	Dispatcher  net.Dispatcher
	Tasks       *task.TaskManager
	Controllers router.Controllers
}

// Repositories 仓库集合
type Repositories struct {
	Account  repository.AccountRepository
	Creds    repository.ProviderCredentialRepository
	Token    repository.TokenRepository
	Product  repository.ProductRepository
	Stock    repository.StockRepository
	Mapping  repository.MappingRepository
	Ledger   repository.LedgerRepository
	SyncLog  repository.SyncLogRepository
	Listing  repository.ListingRepository
	IngestUo *repository.IngestUnitOfWork
}

// Services 服务集合
type Services struct {
	SyncLog *service.SyncLogService
	Auth    *service.AuthService
	Token   *service.TokenService
	Account *service.AccountService
	Stock   *service.StockService
	Mapping *service.MappingService
	Ingest  *service.OrderIngestService
	Push    *service.InventoryPushService
	Listing *service.ListingService
}

// Close 释放连接
func (d *Dependencies) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if sqlDB, err := d.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// ==================== 初始化函数 ====================

// initDependencies 初始化所有依赖
func initDependencies(cfg *config.Config, log *zap.Logger) (*Dependencies, error) {
	// -------- 存储 --------
	db, err := database.InitDB(database.Options{
		DSN:      cfg.Database.DSN,
		MaxOpen:  cfg.Database.MaxOpen,
		MaxIdle:  cfg.Database.MaxIdle,
		LogLevel: cfg.Database.LogLevel,
	}, log, model.All()...)
	if err != nil {
		return nil, err
	}
	if err := middleware.RegisterAuditCallbacks(db); err != nil {
		return nil, fmt.Errorf("注册审计回调失败: %w", err)
	}

	rdb, err := initRedis(cfg.Redis, log)
	if err != nil {
		return nil, err
	}

	v, err := vault.New(cfg.Vault.Secret)
	if err != nil {
		return nil, err
	}

	// -------- Repo 层 --------
	repos := initRepositories(db)

	// -------- 基础服务 --------
	s := &cfg.Sync
	m := &cfg.Marketplace
	client := utils.NewRestyClient(utils.ClientOptions{
		Timeout:    s.RequestTimeout,
		RetryCount: s.RetryCount,
		RetryWait:  s.RetryWait,
		Debug:      cfg.Server.Mode == gin.DebugMode && cfg.Log.Level == "debug",
	})

	svc := &Services{}
	svc.SyncLog = service.NewSyncLogService(repos.SyncLog, s.ManualCooldown, log)
	svc.Auth = service.NewAuthService(repos.Account, repos.Token, repos.Creds, v, client, service.AuthConfig{
		AppID:              m.AppID,
		AppSecret:          m.AppSecret,
		RuName:             m.RuName,
		Scopes:             m.Scopes,
		APIBaseURL:         m.APIBaseURL,
		AuthBaseURL:        m.AuthBaseURL,
		DefaultEnvironment: m.Environment,
		PendingTTL:         s.PendingTTL,
	}, log)
	svc.Token = service.NewTokenService(repos.Account, repos.Token, repos.Creds, v, client, svc.SyncLog, service.TokenConfig{
		AppID:       m.AppID,
		AppSecret:   m.AppSecret,
		Scopes:      m.Scopes,
		APIBaseURL:  m.APIBaseURL,
		RefreshSkew: s.RefreshSkew,
		PendingTTL:  s.PendingTTL,
	}, log)
	svc.Account = service.NewAccountService(repos.Account, svc.Token)

	// 所有平台调用都经过调度器：带令牌、按账号限速、401 刷新重放
	dispatcher := net.NewDispatcher(client, svc.Token, net.Options{
		APIBaseURL:        m.APIBaseURL,
		MarketplaceID:     m.MarketplaceID,
		RequestsPerSecond: s.RequestsPerSecond,
	}, log)

	// -------- 业务服务 --------
	svc.Stock = service.NewStockService(repos.Product, repos.Stock, s.StockBucketLabel, log)
	svc.Mapping = service.NewMappingService(repos.Product, repos.Mapping, s.AutoMatchOnIngest, log)
	svc.Ingest = service.NewOrderIngestService(
		repos.Account, repos.Ledger, repos.IngestUo,
		svc.Mapping, svc.Stock, dispatcher, svc.SyncLog,
		service.IngestConfig{Lookback: s.OrderLookback, PageSize: s.OrderPageSize, AccountConcurrency: s.AccountConcurrency},
		log,
	)
	svc.Push = service.NewInventoryPushService(
		repos.Account, repos.Mapping, svc.Stock, dispatcher, svc.SyncLog,
		service.PushConfig{BatchSize: s.PushBatchSize, AccountConcurrency: s.AccountConcurrency},
		log,
	)
	svc.Listing = service.NewListingService(
		repos.Account, repos.Mapping, repos.Listing, svc.Stock, dispatcher, svc.SyncLog,
		service.ListingConfig{
			PageSize:        s.ListingPageSize,
			Concurrency:     s.ListingConcurrency,
			BatchDelay:      s.ListingBatchDelay,
			AcceptLanguages: s.AcceptLanguages,
		},
		log,
	)

	// -------- 定时任务 --------
	tasks := task.NewTaskManager(task.TaskManagerDeps{
		Tokens:    svc.Token,
		Orders:    svc.Ingest,
		Inventory: svc.Push,
		Lock:      task.NewRunLock(rdb),
		Log:       log,
	}, cfg.Tasks)

	return &Dependencies{
		DB:          db,
		Redis:       rdb,
		Repos:       repos,
		Services:    svc,
		Dispatcher:  dispatcher,
		Tasks:       tasks,
		Controllers: initControllers(cfg, svc, tasks, log),
	}, nil
}

// initRepositories 初始化所有仓库
func initRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account:  repository.NewAccountRepository(db),
		Creds:    repository.NewProviderCredentialRepository(db),
		Token:    repository.NewTokenRepository(db),
		Product:  repository.NewProductRepository(db),
		Stock:    repository.NewStockRepository(db),
		Mapping:  repository.NewMappingRepository(db),
		Ledger:   repository.NewLedgerRepository(db),
		SyncLog:  repository.NewSyncLogRepository(db),
		Listing:  repository.NewListingRepository(db),
		IngestUo: repository.NewIngestUnitOfWork(db),
	}
}

// initRedis Addr 为空时返回 nil，冷却与运行锁退回进程内实现
func initRedis(cfg config.RedisConfig, log *zap.Logger) (redis.UniversalClient, error) {
	if cfg.Addr == "" {
		log.Warn("未配置 Redis，冷却与任务锁只在本进程内生效")
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}
	return rdb, nil
}

// initControllers 初始化所有控制器
func initControllers(cfg *config.Config, svc *Services, tasks *task.TaskManager, log *zap.Logger) router.Controllers {
	return router.Controllers{
		Auth:    controller.NewAuthController(svc.Auth, cfg.Marketplace.ReturnURL, cfg.Marketplace.ReturnHosts, log),
		Account: controller.NewAccountController(svc.Account),
		Sync:    controller.NewSyncController(svc.Ingest, svc.Push, svc.SyncLog, tasks),
		Listing: controller.NewListingController(svc.Listing),
		Mapping: controller.NewMappingController(svc.Mapping),
	}
}

// printOperatorToken 运维签发操作员令牌
func printOperatorToken(cfg *config.Config, username, role string) {
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "jwt.secret 未配置，接口未启用鉴权")
		os.Exit(1)
	}
	token, err := middleware.GenerateOperatorToken(
		middleware.JWTConfig{SecretKey: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer},
		0, username, role, 30*24*time.Hour,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "签发失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// ==================== 服务启动 ====================

// startServer 启动服务，收到退出信号后优雅关闭
func startServer(r *gin.Engine, port string, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// 异步启动服务
	go func() {
		log.Info("服务启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 优雅关闭，最多等待 30 秒
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("服务强制关闭", zap.Error(err))
	}

	log.Info("服务已退出")
}
