package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Security SecurityConfig `mapstructure:"security"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Donation DonationConfig `mapstructure:"donation"`
	Email    EmailConfig    `mapstructure:"email"`
	Admin    AdminConfig    `mapstructure:"admin"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release

	ReadHeaderTimeoutSeconds int `mapstructure:"read_header_timeout_seconds"`
}

// ReadHeaderTimeout HTTP 读取请求头超时
func (c ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver       string             `mapstructure:"driver"`        // 数据库驱动（sqlite/postgres）
	DSN          string             `mapstructure:"dsn"`           // 数据库连接串
	PaymentStore string             `mapstructure:"payment_store"` // 捐款记录存储（sql/mongo）
	Pool         DatabasePoolConfig `mapstructure:"pool"`
}

// UseMongo 是否使用文档库保存捐款记录与捐赠人汇总
func (c DatabaseConfig) UseMongo() bool {
	return strings.EqualFold(strings.TrimSpace(c.PaymentStore), constants.PaymentStoreMongo)
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	CheckoutRateLimit RateLimitConfig `mapstructure:"checkout_rate_limit"`
	LoginRateLimit    RateLimitConfig `mapstructure:"login_rate_limit"`
}

// CaptchaConfig 管理端登录验证码配置，provider 为 none 或 image
type CaptchaConfig struct {
	Provider string             `mapstructure:"provider"`
	Image    CaptchaImageConfig `mapstructure:"image"`
}

// CaptchaImageConfig 图片验证码配置
type CaptchaImageConfig struct {
	Length        int `mapstructure:"length"`
	Width         int `mapstructure:"width"`
	Height        int `mapstructure:"height"`
	NoiseCount    int `mapstructure:"noise_count"`
	ShowLine      int `mapstructure:"show_line"`
	ExpireSeconds int `mapstructure:"expire_seconds"`
	MaxStore      int `mapstructure:"max_store"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// StripeConfig Stripe 网关配置
type StripeConfig struct {
	SecretKey               string   `mapstructure:"secret_key"`
	PublishableKey          string   `mapstructure:"publishable_key"`
	WebhookSecret           string   `mapstructure:"webhook_secret"`
	SuccessURL              string   `mapstructure:"success_url"`
	CancelURL               string   `mapstructure:"cancel_url"`
	APIBaseURL              string   `mapstructure:"api_base_url"`
	WebhookToleranceSeconds int      `mapstructure:"webhook_tolerance_seconds"`
	PaymentMethodTypes      []string `mapstructure:"payment_method_types"`
	ProductName             string   `mapstructure:"product_name"`
}

// DonationConfig 捐款规则配置
type DonationConfig struct {
	MinAmount          int64    `mapstructure:"min_amount"` // 最小金额（分）
	MaxAmount          int64    `mapstructure:"max_amount"` // 最大金额（分）
	AllowedCurrencies  []string `mapstructure:"allowed_currencies"`
	SessionCacheSecond int      `mapstructure:"session_cache_seconds"`
	ReplayMaxAttempts  int      `mapstructure:"replay_max_attempts"`
	ReplayDelaySeconds int      `mapstructure:"replay_delay_seconds"`
}

// EmailConfig 邮件服务配置
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	UseTLS   bool   `mapstructure:"use_tls"`
	UseSSL   bool   `mapstructure:"use_ssl"`
	OrgName  string `mapstructure:"org_name"`
}

// 管理端内置角色
const (
	AdminRoleOwner           = "owner"
	AdminRoleOperator        = "operator"
	AdminRoleReadonlyAuditor = "readonly_auditor"
)

// AdminAccountConfig 附加管理员账号
type AdminAccountConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // bcrypt
	Role         string `mapstructure:"role"`
}

// AdminConfig 管理员账号配置，主账号默认 owner 角色
type AdminConfig struct {
	Username     string               `mapstructure:"username"`
	PasswordHash string               `mapstructure:"password_hash"` // bcrypt
	Role         string               `mapstructure:"role"`
	Accounts     []AdminAccountConfig `mapstructure:"accounts"`
}

// AllAccounts 合并主账号与附加账号，用户名重复时保留先出现的
func (c AdminConfig) AllAccounts() []AdminAccountConfig {
	accounts := make([]AdminAccountConfig, 0, len(c.Accounts)+1)
	seen := make(map[string]struct{}, len(c.Accounts)+1)
	appendAccount := func(account AdminAccountConfig, defaultRole string) {
		account.Username = strings.TrimSpace(account.Username)
		account.PasswordHash = strings.TrimSpace(account.PasswordHash)
		account.Role = strings.ToLower(strings.TrimSpace(account.Role))
		if account.Username == "" || account.PasswordHash == "" {
			return
		}
		if _, ok := seen[account.Username]; ok {
			return
		}
		if account.Role == "" {
			account.Role = defaultRole
		}
		seen[account.Username] = struct{}{}
		accounts = append(accounts, account)
	}
	appendAccount(AdminAccountConfig{Username: c.Username, PasswordHash: c.PasswordHash, Role: c.Role}, AdminRoleOwner)
	for _, account := range c.Accounts {
		appendAccount(account, AdminRoleReadonlyAuditor)
	}
	return accounts
}

// RoleBindings 用户名到角色的映射
func (c AdminConfig) RoleBindings() map[string]string {
	bindings := make(map[string]string)
	for _, account := range c.AllAccounts() {
		bindings[account.Username] = account.Role
	}
	return bindings
}

// JWTConfig JWT 配置
type JWTConfig struct {
	SecretKey   string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// MetricsConfig 监控指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load 从 config.yml 加载配置
func Load() *Config {
	// .env 仅用于本地开发，不存在时忽略
	if err := godotenv.Load(); err == nil {
		logger.Infow("config_dotenv_loaded")
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("./etc")

	setDefaults(viper.GetViper())

	// 环境变量支持（例如 stripe.secret_key -> STRIPE_SECRET_KEY）
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	cfg.Donation.normalize()
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_header_timeout_seconds", 5)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/donations.db")
	v.SetDefault("database.payment_store", constants.PaymentStoreSQL)
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("mongo.uri", "mongodb://127.0.0.1:27017")
	v.SetDefault("mongo.database", "donations")
	v.SetDefault("mongo.timeout_seconds", 10)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "ht")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"Idempotency-Key",
		"X-Requested-With",
	})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.checkout_rate_limit.window_seconds", 60)
	v.SetDefault("security.checkout_rate_limit.max_requests", 10)
	v.SetDefault("security.login_rate_limit.window_seconds", 300)
	v.SetDefault("security.login_rate_limit.max_requests", 5)

	v.SetDefault("captcha.provider", constants.CaptchaProviderNone)
	v.SetDefault("captcha.image.length", 5)
	v.SetDefault("captcha.image.width", 240)
	v.SetDefault("captcha.image.height", 80)
	v.SetDefault("captcha.image.noise_count", 2)
	v.SetDefault("captcha.image.show_line", 2)
	v.SetDefault("captcha.image.expire_seconds", 300)
	v.SetDefault("captcha.image.max_store", 10240)
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.publishable_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.success_url", "http://localhost:3000/donate/thank-you?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("stripe.cancel_url", "http://localhost:3000/donate")
	v.SetDefault("stripe.api_base_url", "")
	v.SetDefault("stripe.webhook_tolerance_seconds", 300)
	v.SetDefault("stripe.payment_method_types", []string{"card"})
	v.SetDefault("stripe.product_name", "Donation")
	v.SetDefault("donation.min_amount", 100)
	v.SetDefault("donation.max_amount", 1000000)
	v.SetDefault("donation.allowed_currencies", []string{"usd"})
	v.SetDefault("donation.session_cache_seconds", 30)
	v.SetDefault("donation.replay_max_attempts", 4)
	v.SetDefault("donation.replay_delay_seconds", 15)
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.from_name", "")
	v.SetDefault("email.use_tls", true)
	v.SetDefault("email.use_ssl", false)
	v.SetDefault("email.org_name", "Harvest Table")
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.role", AdminRoleOwner)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expire_hours", 12)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func (c *DonationConfig) normalize() {
	currencies := make([]string, 0, len(c.AllowedCurrencies))
	seen := make(map[string]struct{}, len(c.AllowedCurrencies))
	for _, item := range c.AllowedCurrencies {
		code := strings.ToLower(strings.TrimSpace(item))
		if len(code) != 3 {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		currencies = append(currencies, code)
	}
	if len(currencies) == 0 {
		currencies = []string{"usd"}
	}
	c.AllowedCurrencies = currencies
	if c.MinAmount <= 0 {
		c.MinAmount = 100
	}
	if c.MaxAmount < c.MinAmount {
		c.MaxAmount = c.MinAmount
	}
}
