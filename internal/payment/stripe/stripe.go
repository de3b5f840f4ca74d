package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/logger"

	stripeapi "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
)

var (
	ErrConfigInvalid    = errors.New("stripe config invalid")
	ErrRequestFailed    = errors.New("stripe request failed")
	ErrResponseInvalid  = errors.New("stripe response invalid")
	ErrGatewayRejected  = errors.New("stripe rejected request")
	ErrSignatureInvalid = errors.New("stripe signature invalid")
	ErrPayloadInvalid   = errors.New("stripe payload invalid")
)

const (
	defaultWebhookToleranceS = 300
	defaultProductName       = "Donation"
	maxNetworkRetries        = 2
)

// Config Stripe 网关配置。
type Config struct {
	SecretKey               string
	PublishableKey          string
	WebhookSecret           string
	SuccessURL              string
	CancelURL               string
	APIBaseURL              string // 为空时使用官方地址，测试中指向本地服务
	WebhookToleranceSeconds int
	PaymentMethodTypes      []string
	ProductName             string
}

// CheckoutInput 创建托管收银台会话输入。
type CheckoutInput struct {
	RecordID       string
	IdempotencyKey string
	Amount         int64
	Currency       string
	Interval       string // one_time / month
	CustomerEmail  string
	Description    string
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
}

// CheckoutResult 收银台会话返回。
type CheckoutResult struct {
	SessionID       string
	URL             string
	PaymentIntentID string
	SubscriptionID  string
}

// IntentInput 创建 PaymentIntent 输入。
type IntentInput struct {
	RecordID       string
	IdempotencyKey string
	Amount         int64
	Currency       string
	CustomerEmail  string
	Description    string
	Metadata       map[string]string
}

// IntentResult PaymentIntent 返回。
type IntentResult struct {
	PaymentIntentID string
	ClientSecret    string
	Status          string
}

// Client 基于 stripe-go 的网关客户端。
type Client struct {
	cfg Config
	api *client.API
}

// NewClient 创建网关客户端，密钥缺失时仍可创建，调用时返回 ErrConfigInvalid。
func NewClient(cfg Config) *Client {
	cfg.normalize()
	var backends *stripeapi.Backends
	backendConfig := &stripeapi.BackendConfig{
		MaxNetworkRetries: stripeapi.Int64(maxNetworkRetries),
		LeveledLogger:     logger.SW("component", "stripe"),
	}
	if cfg.APIBaseURL != "" {
		backendConfig.URL = stripeapi.String(cfg.APIBaseURL)
		backendConfig.MaxNetworkRetries = stripeapi.Int64(0)
	}
	backends = &stripeapi.Backends{
		API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendConfig),
		Connect: stripeapi.GetBackendWithConfig(stripeapi.ConnectBackend, backendConfig),
		Uploads: stripeapi.GetBackendWithConfig(stripeapi.UploadsBackend, backendConfig),
	}
	return &Client{cfg: cfg, api: client.New(cfg.SecretKey, backends)}
}

// Config 返回归一化后的配置副本。
func (c *Client) Config() Config {
	return c.cfg
}

// ValidateConfig 校验下单所需配置。
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return fmt.Errorf("%w: secret_key is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" {
		return fmt.Errorf("%w: success_url is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.CancelURL) == "" {
		return fmt.Errorf("%w: cancel_url is required", ErrConfigInvalid)
	}
	if cfg.APIBaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.APIBaseURL); err != nil {
			return fmt.Errorf("%w: api_base_url is invalid", ErrConfigInvalid)
		}
	}
	if _, err := url.ParseRequestURI(sanitizeURLForValidation(cfg.SuccessURL)); err != nil {
		return fmt.Errorf("%w: success_url is invalid", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(sanitizeURLForValidation(cfg.CancelURL)); err != nil {
		return fmt.Errorf("%w: cancel_url is invalid", ErrConfigInvalid)
	}
	if len(cfg.PaymentMethodTypes) == 0 {
		return fmt.Errorf("%w: payment_method_types is empty", ErrConfigInvalid)
	}
	return nil
}

// CreateCheckoutSession 创建 Checkout Session，月捐使用订阅模式。
func (c *Client) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if err := ValidateConfig(&c.cfg); err != nil {
		return nil, err
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" || input.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount and currency are required", ErrConfigInvalid)
	}
	successURL := firstNonEmpty(input.SuccessURL, c.cfg.SuccessURL)
	cancelURL := firstNonEmpty(input.CancelURL, c.cfg.CancelURL)
	productName := firstNonEmpty(input.Description, c.cfg.ProductName)

	priceData := &stripeapi.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripeapi.String(currency),
		UnitAmount: stripeapi.Int64(input.Amount),
		ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripeapi.String(productName),
		},
	}
	params := &stripeapi.CheckoutSessionParams{
		SuccessURL:         stripeapi.String(successURL),
		CancelURL:          stripeapi.String(cancelURL),
		ClientReferenceID:  stripeapi.String(input.RecordID),
		PaymentMethodTypes: stripeapi.StringSlice(c.cfg.PaymentMethodTypes),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{Quantity: stripeapi.Int64(1), PriceData: priceData},
		},
	}
	if email := strings.TrimSpace(input.CustomerEmail); email != "" {
		params.CustomerEmail = stripeapi.String(email)
	}

	metadata := mergeMetadata(input.Metadata, input.RecordID)
	if input.Interval == "month" {
		params.Mode = stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription))
		priceData.Recurring = &stripeapi.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripeapi.String(string(stripeapi.PriceRecurringIntervalMonth)),
		}
		params.SubscriptionData = &stripeapi.CheckoutSessionSubscriptionDataParams{Metadata: metadata}
	} else {
		params.Mode = stripeapi.String(string(stripeapi.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripeapi.CheckoutSessionPaymentIntentDataParams{Metadata: metadata}
	}
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	params.Context = ctx
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError("create checkout session", err)
	}
	if session == nil || strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.URL) == "" {
		return nil, fmt.Errorf("%w: missing session id or url", ErrResponseInvalid)
	}
	result := &CheckoutResult{
		SessionID: session.ID,
		URL:       session.URL,
	}
	if session.PaymentIntent != nil {
		result.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.Subscription != nil {
		result.SubscriptionID = session.Subscription.ID
	}
	return result, nil
}

// CreatePaymentIntent 创建 PaymentIntent，由前端使用 client_secret 完成确认。
func (c *Client) CreatePaymentIntent(ctx context.Context, input IntentInput) (*IntentResult, error) {
	if strings.TrimSpace(c.cfg.SecretKey) == "" {
		return nil, fmt.Errorf("%w: secret_key is required", ErrConfigInvalid)
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" || input.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount and currency are required", ErrConfigInvalid)
	}
	params := &stripeapi.PaymentIntentParams{
		Amount:             stripeapi.Int64(input.Amount),
		Currency:           stripeapi.String(currency),
		PaymentMethodTypes: stripeapi.StringSlice(c.cfg.PaymentMethodTypes),
		Description:        stripeapi.String(firstNonEmpty(input.Description, c.cfg.ProductName)),
	}
	if email := strings.TrimSpace(input.CustomerEmail); email != "" {
		params.ReceiptEmail = stripeapi.String(email)
	}
	for key, value := range mergeMetadata(input.Metadata, input.RecordID) {
		params.AddMetadata(key, value)
	}
	params.Context = ctx
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	intent, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError("create payment intent", err)
	}
	if intent == nil || strings.TrimSpace(intent.ID) == "" || strings.TrimSpace(intent.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: missing payment intent id or client secret", ErrResponseInvalid)
	}
	return &IntentResult{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Status:          string(intent.Status),
	}, nil
}

// mapStripeError 区分网关拒绝（参数、卡片、幂等冲突）与可重试的通信失败。
func mapStripeError(action string, err error) error {
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripeapi.ErrorTypeCard, stripeapi.ErrorTypeInvalidRequest, stripeapi.ErrorTypeIdempotency:
			return fmt.Errorf("%w: %s: %s", ErrGatewayRejected, action, stripeErr.Msg)
		default:
			return fmt.Errorf("%w: %s: status %d: %s", ErrRequestFailed, action, stripeErr.HTTPStatusCode, stripeErr.Msg)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrRequestFailed, action, err)
}

func mergeMetadata(metadata map[string]string, recordID string) map[string]string {
	merged := make(map[string]string, len(metadata)+1)
	for key, value := range metadata {
		merged[key] = value
	}
	if recordID = strings.TrimSpace(recordID); recordID != "" {
		merged["record_id"] = recordID
	}
	return merged
}

func sanitizeURLForValidation(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return trimmed
	}
	return strings.ReplaceAll(trimmed, "{CHECKOUT_SESSION_ID}", "cs_test_placeholder")
}

func (c *Config) normalize() {
	c.SecretKey = strings.TrimSpace(c.SecretKey)
	c.PublishableKey = strings.TrimSpace(c.PublishableKey)
	c.WebhookSecret = strings.TrimSpace(c.WebhookSecret)
	c.SuccessURL = strings.TrimSpace(c.SuccessURL)
	c.CancelURL = strings.TrimSpace(c.CancelURL)
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.ProductName = strings.TrimSpace(c.ProductName)
	if c.ProductName == "" {
		c.ProductName = defaultProductName
	}
	if c.WebhookToleranceSeconds <= 0 {
		c.WebhookToleranceSeconds = defaultWebhookToleranceS
	}
	normalized := make([]string, 0, len(c.PaymentMethodTypes))
	for _, item := range c.PaymentMethodTypes {
		trimmed := strings.ToLower(strings.TrimSpace(item))
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) == 0 {
		normalized = []string{"card"}
	}
	sort.Strings(normalized)
	c.PaymentMethodTypes = normalized
}

func (c *Config) webhookTolerance() time.Duration {
	return time.Duration(c.WebhookToleranceSeconds) * time.Second
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
