package router

import (
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"ebay_sync_v1_202610/internal/controller"
	"ebay_sync_v1_202610/internal/middleware"
	"ebay_sync_v1_202610/internal/model"

	_ "ebay_sync_v1_202610/docs"
)

// Controllers 路由依赖的控制器
type Controllers struct {
	Auth    *controller.AuthController
	Account *controller.AccountController
	Sync    *controller.SyncController
	Listing *controller.ListingController
	Mapping *controller.MappingController
}

// Options 鉴权与冷却
type Options struct {
	JWT            middleware.JWTConfig
	Cooldown       middleware.Cooldown
	ManualCooldown time.Duration
	Log            *zap.Logger
}

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine, ctl Controllers, opts Options) {
	// 1. Swagger 文档路由
	// 访问 http://localhost:8080/swagger/index.html 即可查看
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 2. OAuth 回调由平台跳转过来，不走操作员鉴权
	oauth := r.Group("/api/oauth")
	{
		// GET /api/oauth/login
		oauth.GET("/login", ctl.Auth.Login)
		// GET /api/oauth/callback
		oauth.GET("/callback", ctl.Auth.Callback)
	}

	// 3. 运营接口
	api := r.Group("/api", middleware.JWTAuth(opts.JWT), middleware.AuditContext())
	{
		// 账号
		accounts := api.Group("/accounts")
		{
			accounts.GET("", ctl.Account.List)
			accounts.POST("/:id/refresh", ctl.Account.Refresh)
		}

		// 手动同步，按账号冷却
		sync := api.Group("/sync")
		{
			sync.POST("/orders",
				middleware.SyncRateLimit(opts.Cooldown, model.OpOrderIngest, opts.ManualCooldown, opts.Log),
				ctl.Sync.SyncOrders,
			)
			sync.POST("/inventory",
				middleware.SyncRateLimit(opts.Cooldown, model.OpInventoryPush, opts.ManualCooldown, opts.Log),
				ctl.Sync.SyncInventory,
			)
			sync.GET("/logs", ctl.Sync.ListLogs)
			sync.GET("/ledger", ctl.Sync.ListLedger)
		}

		// 在售信息，实时拉取同样冷却
		listings := api.Group("/listings")
		{
			listings.GET("/:account_id",
				middleware.SyncRateLimit(opts.Cooldown, model.OpListingFetch, opts.ManualCooldown, opts.Log),
				ctl.Listing.Fetch,
			)
			listings.GET("/:account_id/cached", ctl.Listing.Cached)
		}

		// SKU 映射
		mappings := api.Group("/mappings")
		{
			mappings.GET("/candidates", ctl.Mapping.Candidates)
			mappings.POST("", ctl.Mapping.Map)
			mappings.POST("/ignore", ctl.Mapping.Ignore)
		}

		// 定时任务，只允许管理员手动触发
		tasks := api.Group("/tasks")
		{
			tasks.GET("", ctl.Sync.TaskStatus)
			tasks.POST("/:name/run", middleware.RequireRole(opts.JWT, "admin"), ctl.Sync.RunTask)
		}
	}
}
