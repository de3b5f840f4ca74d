package service

import "errors"

// 下单校验错误
var (
	ErrInvalidDonationAmount  = errors.New("invalid donation amount")
	ErrInvalidCurrency        = errors.New("unsupported currency")
	ErrInvalidInterval        = errors.New("invalid donation interval")
	ErrInvalidEmail           = errors.New("invalid email address")
	ErrInvalidCheckoutMode    = errors.New("invalid checkout mode")
	ErrInvalidMetadata        = errors.New("invalid metadata")
	ErrInvalidIdempotencyKey  = errors.New("invalid idempotency key")
	ErrIdempotencyKeyConflict = errors.New("idempotency key reused with different parameters")
)

// 网关错误，对外只暴露通用信息
var (
	ErrPaymentGatewayRejected      = errors.New("payment gateway rejected request")
	ErrPaymentGatewayRequestFailed = errors.New("payment gateway request failed")
	ErrPaymentGatewayNotConfigured = errors.New("payment gateway not configured")
)

// webhook 错误
var (
	ErrWebhookSignatureInvalid = errors.New("webhook signature invalid")
	ErrWebhookPayloadInvalid   = errors.New("webhook payload invalid")
)

// 查询与管理错误
var (
	ErrDonationNotFound   = errors.New("donation not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrAdminNotConfigured = errors.New("admin account not configured")
)

// 验证码错误
var (
	ErrCaptchaRequired = errors.New("captcha required")
	ErrCaptchaInvalid  = errors.New("captcha invalid")
	ErrCaptchaDisabled = errors.New("captcha disabled")
)

// 邮件错误
var (
	ErrEmailServiceDisabled      = errors.New("email service disabled")
	ErrEmailServiceNotConfigured = errors.New("email service not configured")
	ErrEmailRecipientRejected    = errors.New("email recipient rejected")
)
