package router

import (
	"fmt"
	"strings"

	"github.com/harvesttable/donations/internal/cache"
	"github.com/harvesttable/donations/internal/config"
	adminhandlers "github.com/harvesttable/donations/internal/http/handlers/admin"
	publichandlers "github.com/harvesttable/donations/internal/http/handlers/public"
	"github.com/harvesttable/donations/internal/logger"
	"github.com/harvesttable/donations/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	// 初始化 Handler（按公开/后台分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "ht"
	}
	redisClient := cache.Client()
	checkoutRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:checkout", redisPrefix),
		WindowSeconds: cfg.Security.CheckoutRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.CheckoutRateLimit.MaxRequests,
	}
	adminLoginRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:admin_login", redisPrefix),
		WindowSeconds: cfg.Security.LoginRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.LoginRateLimit.MaxRequests,
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	if cfg.Metrics.Enabled {
		r.Use(c.Metrics.GinMiddleware())
	}
	r.Use(CORSMiddleware(cfg.CORS))

	// 捐款页与网关回调
	r.POST("/checkout", RateLimitMiddleware(redisClient, checkoutRule, KeyByIP), publicHandler.CreateDonation)
	r.POST("/webhook", publicHandler.StripeWebhook)
	r.GET("/donation-session/:id", publicHandler.GetDonationSession)

	apiV1 := r.Group("/api/v1")
	{
		admin := apiV1.Group("/admin")
		{
			admin.GET("/captcha", adminHandler.GetCaptcha)
			admin.POST("/login", RateLimitMiddleware(redisClient, adminLoginRule, KeyByIPAndJSONField("username")), adminHandler.Login)

			authorized := admin.Group("")
			authorized.Use(AdminJWTAuthMiddleware(c.AuthService), AdminAuthzMiddleware(c.Authz))
			{
				authorized.GET("/me", adminHandler.GetMe)
				authorized.GET("/donations", adminHandler.GetDonations)
				authorized.GET("/donations/:id", adminHandler.GetDonation)
				authorized.GET("/donors", adminHandler.GetDonors)
				authorized.POST("/donors/rebuild", adminHandler.RebuildDonors)
			}
		}
	}

	// 监控指标
	if cfg.Metrics.Enabled {
		path := strings.TrimSpace(cfg.Metrics.Path)
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.Handler()))
	}

	// 健康检查
	r.GET("/health", func(ctx *gin.Context) {
		redisStatus := "disabled"
		if cache.Enabled() {
			redisStatus = "ok"
			if err := cache.Ping(ctx.Request.Context()); err != nil {
				redisStatus = "unavailable"
			}
		}
		ctx.JSON(200, gin.H{"status": "ok", "redis": redisStatus})
	})

	return r
}
