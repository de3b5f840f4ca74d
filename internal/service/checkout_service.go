package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harvesttable/donations/internal/config"
	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/logger"
	"github.com/harvesttable/donations/internal/metrics"
	"github.com/harvesttable/donations/internal/models"
	"github.com/harvesttable/donations/internal/payment/stripe"
	"github.com/harvesttable/donations/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	maxMetadataKeys        = 20
	maxMetadataKeyLength   = 40
	maxMetadataValueLength = 500
)

var reservedMetadataKeys = map[string]struct{}{
	constants.MetadataRecordID:       {},
	constants.MetadataInterval:       {},
	constants.MetadataIdempotencyKey: {},
}

// CheckoutService 捐款下单服务
type CheckoutService struct {
	cfg      config.DonationConfig
	records  repository.PaymentRecordRepository
	gateway  PaymentGateway
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// NewCheckoutService 创建下单服务
func NewCheckoutService(cfg config.DonationConfig, records repository.PaymentRecordRepository, gateway PaymentGateway, m *metrics.Metrics) *CheckoutService {
	return &CheckoutService{
		cfg:      cfg,
		records:  records,
		gateway:  gateway,
		metrics:  m,
		validate: validator.New(),
	}
}

// CreateDonationInput 下单请求
type CreateDonationInput struct {
	Amount         int64
	Currency       string            `validate:"omitempty,len=3,alpha"`
	Interval       string            `validate:"omitempty,oneof=one_time month"`
	Email          string            `validate:"omitempty,email,max=254"`
	Name           string            `validate:"max=200"`
	Mode           string            `validate:"omitempty,oneof=checkout intent"`
	IdempotencyKey string            `validate:"max=255,printascii"`
	Metadata       map[string]string `validate:"-"`
}

// CreateDonationResult 下单结果；托管收银台返回 SessionID/CheckoutURL，Intent 返回 ClientSecret
type CreateDonationResult struct {
	RecordID        string
	Flow            string
	SessionID       string
	CheckoutURL     string
	PaymentIntentID string
	ClientSecret    string
	Reused          bool // 幂等键命中已有记录
}

// CreateDonation 校验输入、调用网关并落库 pending 记录
func (s *CheckoutService) CreateDonation(ctx context.Context, input CreateDonationInput) (*CreateDonationResult, error) {
	normalized, err := s.normalizeInput(input)
	if err != nil {
		return nil, err
	}

	existing, err := s.records.GetByIdempotencyKey(ctx, normalized.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	recordID := uuid.NewString()
	if existing != nil {
		if !sameDonationRequest(existing, normalized) {
			return nil, ErrIdempotencyKeyConflict
		}
		recordID = existing.ID
	}

	gatewayMetadata := buildGatewayMetadata(normalized)
	result := &CreateDonationResult{
		RecordID: recordID,
		Flow:     normalized.Mode,
		Reused:   existing != nil,
	}
	refs := repository.GatewayRefs{}
	switch normalized.Mode {
	case constants.CheckoutFlowIntent:
		intent, err := s.gateway.CreatePaymentIntent(ctx, stripe.IntentInput{
			RecordID:       recordID,
			IdempotencyKey: normalized.IdempotencyKey,
			Amount:         normalized.Amount,
			Currency:       normalized.Currency,
			CustomerEmail:  normalized.Email,
			Metadata:       gatewayMetadata,
		})
		if err != nil {
			return nil, s.mapGatewayError(err, normalized)
		}
		result.PaymentIntentID = intent.PaymentIntentID
		result.ClientSecret = intent.ClientSecret
		refs.PaymentIntentID = intent.PaymentIntentID
	default:
		session, err := s.gateway.CreateCheckoutSession(ctx, stripe.CheckoutInput{
			RecordID:       recordID,
			IdempotencyKey: normalized.IdempotencyKey,
			Amount:         normalized.Amount,
			Currency:       normalized.Currency,
			Interval:       normalized.Interval,
			CustomerEmail:  normalized.Email,
			Metadata:       gatewayMetadata,
		})
		if err != nil {
			return nil, s.mapGatewayError(err, normalized)
		}
		result.SessionID = session.SessionID
		result.CheckoutURL = session.URL
		result.PaymentIntentID = session.PaymentIntentID
		refs.SessionID = session.SessionID
		refs.PaymentIntentID = session.PaymentIntentID
		refs.SubscriptionID = session.SubscriptionID
	}
	s.metrics.CheckoutCreated(normalized.Mode, normalized.Interval)

	if existing != nil {
		if err := s.records.AttachGatewayRefs(ctx, existing.ID, refs); err != nil {
			logger.Warnw("checkout_attach_refs_failed", "record_id", existing.ID, "error", err)
		}
		logger.Infow("checkout_idempotent_replay",
			"record_id", existing.ID,
			"flow", normalized.Mode,
			"session_id", refs.SessionID,
		)
		return result, nil
	}

	record := &models.PaymentRecord{
		ID:                     recordID,
		Flow:                   normalized.Mode,
		GatewaySessionID:       models.StringPtr(refs.SessionID),
		GatewayPaymentIntentID: models.StringPtr(refs.PaymentIntentID),
		GatewaySubscriptionID:  models.StringPtr(refs.SubscriptionID),
		Amount:                 normalized.Amount,
		Currency:               normalized.Currency,
		Interval:               normalized.Interval,
		Status:                 constants.PaymentStatusPending,
		CustomerEmail:          normalized.Email,
		CustomerName:           normalized.Name,
		Metadata:               models.JSONFromStrings(normalized.Metadata),
		IdempotencyKey:         normalized.IdempotencyKey,
	}
	if err := s.records.Create(ctx, record); err != nil {
		// 网关已创建会话，webhook 到达后按 metadata.record_id 补建记录
		logger.Errorw("checkout_record_persist_failed",
			"record_id", recordID,
			"session_id", refs.SessionID,
			"payment_intent_id", refs.PaymentIntentID,
			"error", err,
		)
		return result, nil
	}
	logger.Infow("checkout_session_created",
		"record_id", recordID,
		"flow", normalized.Mode,
		"interval", normalized.Interval,
		"amount", normalized.Amount,
		"currency", normalized.Currency,
	)
	return result, nil
}

func (s *CheckoutService) normalizeInput(input CreateDonationInput) (CreateDonationInput, error) {
	input.Currency = strings.ToLower(strings.TrimSpace(input.Currency))
	if input.Currency == "" {
		input.Currency = s.defaultCurrency()
	}
	input.Interval = strings.ToLower(strings.TrimSpace(input.Interval))
	if input.Interval == "" {
		input.Interval = constants.DonationIntervalOneTime
	}
	input.Mode = strings.ToLower(strings.TrimSpace(input.Mode))
	if input.Mode == "" {
		input.Mode = constants.CheckoutFlowSession
	}
	input.Email = strings.TrimSpace(input.Email)
	input.Name = strings.TrimSpace(input.Name)
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)

	if err := s.validate.Struct(input); err != nil {
		return input, mapValidationError(err)
	}
	if input.Amount <= 0 || input.Amount < s.cfg.MinAmount || (s.cfg.MaxAmount > 0 && input.Amount > s.cfg.MaxAmount) {
		return input, fmt.Errorf("%w: amount must be between %d and %d", ErrInvalidDonationAmount, s.cfg.MinAmount, s.cfg.MaxAmount)
	}
	if !s.currencyAllowed(input.Currency) {
		return input, ErrInvalidCurrency
	}
	if input.Mode == constants.CheckoutFlowIntent && input.Interval != constants.DonationIntervalOneTime {
		return input, fmt.Errorf("%w: monthly donations require hosted checkout", ErrInvalidCheckoutMode)
	}
	metadata, err := normalizeMetadata(input.Metadata)
	if err != nil {
		return input, err
	}
	input.Metadata = metadata
	if input.IdempotencyKey == "" {
		input.IdempotencyKey = uuid.NewString()
	}
	return input, nil
}

func (s *CheckoutService) defaultCurrency() string {
	if len(s.cfg.AllowedCurrencies) > 0 {
		return s.cfg.AllowedCurrencies[0]
	}
	return "usd"
}

func (s *CheckoutService) currencyAllowed(currency string) bool {
	allowed := s.cfg.AllowedCurrencies
	if len(allowed) == 0 {
		allowed = []string{"usd"}
	}
	for _, item := range allowed {
		if item == currency {
			return true
		}
	}
	return false
}

func (s *CheckoutService) mapGatewayError(err error, input CreateDonationInput) error {
	switch {
	case errors.Is(err, stripe.ErrConfigInvalid):
		s.metrics.CheckoutFailed("config")
		logger.Errorw("checkout_gateway_not_configured", "error", err)
		return ErrPaymentGatewayNotConfigured
	case errors.Is(err, stripe.ErrGatewayRejected):
		s.metrics.CheckoutFailed("rejected")
		logger.Warnw("checkout_gateway_rejected",
			"mode", input.Mode,
			"interval", input.Interval,
			"error", err,
		)
		return ErrPaymentGatewayRejected
	default:
		s.metrics.CheckoutFailed("request")
		logger.Errorw("checkout_gateway_request_failed",
			"mode", input.Mode,
			"interval", input.Interval,
			"error", err,
		)
		return ErrPaymentGatewayRequestFailed
	}
}

func mapValidationError(err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	switch fieldErrors[0].Field() {
	case "Currency":
		return ErrInvalidCurrency
	case "Interval":
		return ErrInvalidInterval
	case "Email":
		return ErrInvalidEmail
	case "Mode":
		return ErrInvalidCheckoutMode
	case "IdempotencyKey":
		return ErrInvalidIdempotencyKey
	case "Name":
		return fmt.Errorf("%w: name is too long", ErrInvalidMetadata)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidMetadata, strings.ToLower(fieldErrors[0].Field()))
	}
}

func normalizeMetadata(metadata map[string]string) (map[string]string, error) {
	if len(metadata) == 0 {
		return map[string]string{}, nil
	}
	if len(metadata) > maxMetadataKeys {
		return nil, fmt.Errorf("%w: at most %d keys", ErrInvalidMetadata, maxMetadataKeys)
	}
	result := make(map[string]string, len(metadata))
	for key, value := range metadata {
		key = strings.TrimSpace(key)
		if key == "" || len(key) > maxMetadataKeyLength {
			return nil, fmt.Errorf("%w: key length must be 1..%d", ErrInvalidMetadata, maxMetadataKeyLength)
		}
		if _, reserved := reservedMetadataKeys[key]; reserved {
			return nil, fmt.Errorf("%w: key %q is reserved", ErrInvalidMetadata, key)
		}
		if len(value) > maxMetadataValueLength {
			return nil, fmt.Errorf("%w: value for %q exceeds %d chars", ErrInvalidMetadata, key, maxMetadataValueLength)
		}
		result[key] = value
	}
	return result, nil
}

func buildGatewayMetadata(input CreateDonationInput) map[string]string {
	metadata := make(map[string]string, len(input.Metadata)+2)
	for key, value := range input.Metadata {
		metadata[key] = value
	}
	metadata[constants.MetadataInterval] = input.Interval
	metadata[constants.MetadataIdempotencyKey] = input.IdempotencyKey
	return metadata
}

func sameDonationRequest(record *models.PaymentRecord, input CreateDonationInput) bool {
	return record.Amount == input.Amount &&
		record.Currency == input.Currency &&
		record.Interval == input.Interval &&
		record.Flow == input.Mode
}
