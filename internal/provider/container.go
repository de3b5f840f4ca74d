package provider

import (
	"time"

	"github.com/harvesttable/donations/internal/authz"
	"github.com/harvesttable/donations/internal/cache"
	"github.com/harvesttable/donations/internal/config"
	"github.com/harvesttable/donations/internal/logger"
	"github.com/harvesttable/donations/internal/metrics"
	"github.com/harvesttable/donations/internal/models"
	"github.com/harvesttable/donations/internal/payment/stripe"
	"github.com/harvesttable/donations/internal/queue"
	"github.com/harvesttable/donations/internal/repository"
	"github.com/harvesttable/donations/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client
	Metrics     *metrics.Metrics
	Gateway     *stripe.Client
	Authz       *authz.Service

	// Repositories
	PaymentRecordRepo repository.PaymentRecordRepository
	DonorRepo         repository.DonorRepository

	// Services
	AuthService            *service.AuthService
	CaptchaService         *service.CaptchaService
	EmailService           *service.EmailService
	ReceiptService         *service.ReceiptService
	CheckoutService        *service.CheckoutService
	ReconcileService       *service.ReconcileService
	DonorService           *service.DonorService
	DonationSessionService *service.DonationSessionService
	DonationAdminService   *service.DonationAdminService
}

// NewContainer 初始化容器，数据库需已初始化
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端，未启用时返回空实现
	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		queueClient, _ = queue.NewClient(nil)
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
		Metrics:     metrics.Default(),
		Gateway: stripe.NewClient(stripe.Config{
			SecretKey:               cfg.Stripe.SecretKey,
			PublishableKey:          cfg.Stripe.PublishableKey,
			WebhookSecret:           cfg.Stripe.WebhookSecret,
			SuccessURL:              cfg.Stripe.SuccessURL,
			CancelURL:               cfg.Stripe.CancelURL,
			APIBaseURL:              cfg.Stripe.APIBaseURL,
			WebhookToleranceSeconds: cfg.Stripe.WebhookToleranceSeconds,
			PaymentMethodTypes:      cfg.Stripe.PaymentMethodTypes,
			ProductName:             cfg.Stripe.ProductName,
		}),
	}
	gatewayCfg := c.Gateway.Config()
	if err := stripe.ValidateConfig(&gatewayCfg); err != nil {
		logger.Warnw("provider_stripe_config_incomplete", "error", err)
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	// 3. 初始化管理端授权
	c.initAuthz()

	return c
}

func (c *Container) initRepositories() {
	if c.Config.Database.UseMongo() && models.MongoDB != nil {
		c.PaymentRecordRepo = repository.NewMongoPaymentRecordRepository(models.MongoDB)
		c.DonorRepo = repository.NewMongoDonorRepository(models.MongoDB)
		logger.Infow("provider_payment_store_selected", "store", "mongo")
		return
	}
	db := models.DB
	c.PaymentRecordRepo = repository.NewPaymentRecordRepository(db)
	c.DonorRepo = repository.NewDonorRepository(db)
	logger.Infow("provider_payment_store_selected", "store", "sql")
}

func (c *Container) initServices() {
	donation := c.Config.Donation

	c.EmailService = service.NewEmailService(&c.Config.Email)
	c.ReceiptService = service.NewReceiptService(c.PaymentRecordRepo, c.EmailService)
	c.AuthService = service.NewAuthService(c.Config.Admin, c.Config.JWT)
	c.CaptchaService = service.NewCaptchaService(c.Config.Captcha)
	c.DonorService = service.NewDonorService(c.DonorRepo, c.PaymentRecordRepo, c.QueueClient, c.Metrics)
	c.CheckoutService = service.NewCheckoutService(donation, c.PaymentRecordRepo, c.Gateway, c.Metrics)
	c.ReconcileService = service.NewReconcileService(c.PaymentRecordRepo, c.Gateway, c.DonorService, c.QueueClient, c.Metrics, service.ReconcileOptions{
		ReplayMaxAttempts: donation.ReplayMaxAttempts,
		ReplayDelay:       time.Duration(donation.ReplayDelaySeconds) * time.Second,
		ReceiptsEnabled:   c.EmailService.Enabled(),
	})
	c.DonationSessionService = service.NewDonationSessionService(c.PaymentRecordRepo, time.Duration(donation.SessionCacheSecond)*time.Second)
	c.DonationAdminService = service.NewDonationAdminService(c.PaymentRecordRepo)
}

func (c *Container) initAuthz() {
	if models.DB == nil {
		logger.Warnw("provider_authz_skipped", "reason", "database not initialized")
		return
	}
	authzService, err := authz.NewService(models.DB)
	if err != nil {
		logger.Errorw("provider_init_authz_failed", "error", err)
		return
	}
	if err := authzService.BootstrapBuiltinRoles(); err != nil {
		logger.Errorw("provider_authz_bootstrap_failed", "error", err)
		return
	}
	if err := authzService.SyncAdminAccounts(c.Config.Admin.RoleBindings()); err != nil {
		logger.Errorw("provider_authz_sync_accounts_failed", "error", err)
		return
	}
	c.Authz = authzService
}

// Close 释放队列与缓存连接
func (c *Container) Close() {
	if c == nil {
		return
	}
	if err := c.QueueClient.Close(); err != nil {
		logger.Warnw("provider_close_queue_client_failed", "error", err)
	}
	if err := cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
}
