package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"ebay_sync_v1_202610/pkg/apperr"
)

// Config 全局配置，启动时加载一次后通过构造函数向下传递
type Config struct {
	App         AppConfig
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	Marketplace MarketplaceConfig
	Vault       VaultConfig
	Sync        SyncConfig
	Tasks       TasksConfig
	JWT         JWTConfig
}

type AppConfig struct {
	Env string
}

type ServerConfig struct {
	Port string
	Mode string // debug, release, test
}

type DatabaseConfig struct {
	DSN      string
	MaxOpen  int
	MaxIdle  int
	LogLevel string // GORM 日志级别
}

// RedisConfig Addr 为空时冷却/运行锁退回进程内实现
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

// MarketplaceConfig 平台应用凭证与端点
type MarketplaceConfig struct {
	Environment   string // sandbox | production
	AppID         string
	AppSecret     string
	RuName        string // 回调地址标识 (redirect_uri)
	APIBaseURL    string // 覆盖默认 API 域名，测试用
	AuthBaseURL   string // 覆盖默认授权页域名
	MarketplaceID string
	Scopes        []string
	ReturnURL     string   // 授权完成后跳回的前端地址
	ReturnHosts   []string // return_url 允许的绝对地址主机
}

type VaultConfig struct {
	Secret string
}

// SyncConfig 同步批量/并发/节流参数
type SyncConfig struct {
	PushBatchSize      int
	ListingConcurrency int
	ListingBatchDelay  time.Duration
	ListingPageSize    int
	OrderLookback      time.Duration
	OrderPageSize      int
	StockBucketLabel   string
	RetryCount         int
	RetryWait          time.Duration
	RequestTimeout     time.Duration
	RequestsPerSecond  float64
	AccountConcurrency int
	PendingTTL         time.Duration
	RefreshSkew        time.Duration
	AcceptLanguages    []string
	AutoMatchOnIngest  bool
	ManualCooldown     time.Duration
}

type TasksConfig struct {
	TokenSpec       string
	OrderSpec       string
	PushSpec        string
	EnableTokenTask bool
	EnableOrderTask bool
	EnablePushTask  bool
	RunTimeout      time.Duration
}

// JWTConfig Secret 为空时不启用操作员鉴权
type JWTConfig struct {
	Secret string
	Issuer string
}

// ==================== 加载 ====================

// Load 加载配置：.env -> config.yaml -> 环境变量 (前缀 EBAY_SYNC)
// path 为空时只在当前目录和 ./config 下查找 config.yaml
func Load(path string) (*Config, error) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("EBAY_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && path != "" {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := fromViper(v)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("marketplace.environment", "production")
	v.SetDefault("marketplace.marketplace_id", "EBAY_US")
	v.SetDefault("sync.auto_match_on_ingest", true)
	v.SetDefault("tasks.enable_token_task", true)
	v.SetDefault("tasks.enable_order_task", true)
	v.SetDefault("tasks.enable_push_task", true)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{Env: v.GetString("app.env")},
		Server: ServerConfig{
			Port: v.GetString("server.port"),
			Mode: v.GetString("server.mode"),
		},
		Database: DatabaseConfig{
			DSN:      v.GetString("database.dsn"),
			MaxOpen:  v.GetInt("database.max_open"),
			MaxIdle:  v.GetInt("database.max_idle"),
			LogLevel: v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Marketplace: MarketplaceConfig{
			Environment:   v.GetString("marketplace.environment"),
			AppID:         v.GetString("marketplace.app_id"),
			AppSecret:     v.GetString("marketplace.app_secret"),
			RuName:        v.GetString("marketplace.ru_name"),
			APIBaseURL:    v.GetString("marketplace.api_base_url"),
			AuthBaseURL:   v.GetString("marketplace.auth_base_url"),
			MarketplaceID: v.GetString("marketplace.marketplace_id"),
			Scopes:        splitList(v.GetStringSlice("marketplace.scopes")),
			ReturnURL:     v.GetString("marketplace.return_url"),
			ReturnHosts:   splitList(v.GetStringSlice("marketplace.return_hosts")),
		},
		Vault: VaultConfig{Secret: v.GetString("vault.secret")},
		Sync: SyncConfig{
			PushBatchSize:      v.GetInt("sync.push_batch_size"),
			ListingConcurrency: v.GetInt("sync.listing_concurrency"),
			ListingBatchDelay:  v.GetDuration("sync.listing_batch_delay"),
			ListingPageSize:    v.GetInt("sync.listing_page_size"),
			OrderLookback:      v.GetDuration("sync.order_lookback"),
			OrderPageSize:      v.GetInt("sync.order_page_size"),
			StockBucketLabel:   v.GetString("sync.stock_bucket_label"),
			RetryCount:         v.GetInt("sync.retry_count"),
			RetryWait:          v.GetDuration("sync.retry_wait"),
			RequestTimeout:     v.GetDuration("sync.request_timeout"),
			RequestsPerSecond:  v.GetFloat64("sync.requests_per_second"),
			AccountConcurrency: v.GetInt("sync.account_concurrency"),
			PendingTTL:         v.GetDuration("sync.pending_ttl"),
			RefreshSkew:        v.GetDuration("sync.refresh_skew"),
			AcceptLanguages:    splitList(v.GetStringSlice("sync.accept_languages")),
			AutoMatchOnIngest:  v.GetBool("sync.auto_match_on_ingest"),
			ManualCooldown:     v.GetDuration("sync.manual_cooldown"),
		},
		Tasks: TasksConfig{
			TokenSpec:       v.GetString("tasks.token_spec"),
			OrderSpec:       v.GetString("tasks.order_spec"),
			PushSpec:        v.GetString("tasks.push_spec"),
			EnableTokenTask: v.GetBool("tasks.enable_token_task"),
			EnableOrderTask: v.GetBool("tasks.enable_order_task"),
			EnablePushTask:  v.GetBool("tasks.enable_push_task"),
			RunTimeout:      v.GetDuration("tasks.run_timeout"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
	}
}

// 环境变量里的列表是逗号分隔的单个字符串
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// applyDefaults 补齐零值
func applyDefaults(cfg *Config) {
	s := &cfg.Sync
	if s.PushBatchSize <= 0 || s.PushBatchSize > MaxPushBatchSize {
		s.PushBatchSize = MaxPushBatchSize
	}
	if s.ListingConcurrency <= 0 {
		s.ListingConcurrency = 3
	}
	if s.ListingBatchDelay <= 0 {
		s.ListingBatchDelay = time.Second
	}
	if s.ListingPageSize <= 0 {
		s.ListingPageSize = 100
	}
	if s.OrderLookback <= 0 {
		s.OrderLookback = 2 * time.Hour
	}
	if s.OrderPageSize <= 0 {
		s.OrderPageSize = 100
	}
	if s.StockBucketLabel == "" {
		s.StockBucketLabel = "ebay"
	}
	if s.RetryCount <= 0 {
		s.RetryCount = 3
	}
	if s.RetryWait <= 0 {
		s.RetryWait = 2 * time.Second
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 30 * time.Second
	}
	if s.AccountConcurrency <= 0 {
		s.AccountConcurrency = 1
	}
	if s.PendingTTL <= 0 {
		s.PendingTTL = 15 * time.Minute
	}
	if s.RefreshSkew <= 0 {
		s.RefreshSkew = 5 * time.Minute
	}
	if len(s.AcceptLanguages) == 0 {
		s.AcceptLanguages = []string{"en-US", "en-GB", "de-DE"}
	}
	if s.ManualCooldown <= 0 {
		s.ManualCooldown = time.Minute
	}

	m := &cfg.Marketplace
	if m.Environment == "" {
		m.Environment = EnvProduction
	}
	if len(m.Scopes) == 0 {
		m.Scopes = DefaultScopes()
	}

	t := &cfg.Tasks
	if t.TokenSpec == "" {
		t.TokenSpec = "0 */20 * * * *"
	}
	if t.OrderSpec == "" {
		t.OrderSpec = "0 */10 * * * *"
	}
	if t.PushSpec == "" {
		t.PushSpec = "0 15 * * * *"
	}
	if t.RunTimeout <= 0 {
		t.RunTimeout = 10 * time.Minute
	}

	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "ebay-sync"
	}
}

// validate 只校验启动必需项，应用凭证可以放在数据库里
func validate(cfg *Config) error {
	if cfg.Vault.Secret == "" {
		return apperr.New(apperr.ErrConfiguration, "vault.secret (EBAY_SYNC_VAULT_SECRET) 未配置")
	}
	if cfg.Database.DSN == "" {
		return apperr.New(apperr.ErrConfiguration, "database.dsn (EBAY_SYNC_DATABASE_DSN) 未配置")
	}
	switch cfg.Marketplace.Environment {
	case EnvSandbox, EnvProduction:
	default:
		return apperr.New(apperr.ErrConfiguration, "marketplace.environment 只能是 sandbox 或 production")
	}
	return nil
}

// ==================== 常量 ====================

const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"

	// MaxPushBatchSize 平台 bulk_update_price_quantity 单次上限
	MaxPushBatchSize = 25
)

// DefaultScopes 应用所需的最小授权范围
func DefaultScopes() []string {
	return []string{
		"https://api.ebay.com/oauth/api_scope",
		"https://api.ebay.com/oauth/api_scope/sell.inventory",
		"https://api.ebay.com/oauth/api_scope/sell.fulfillment",
	}
}
