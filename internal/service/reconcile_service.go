package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/logger"
	"github.com/harvesttable/donations/internal/metrics"
	"github.com/harvesttable/donations/internal/models"
	"github.com/harvesttable/donations/internal/payment/stripe"
	"github.com/harvesttable/donations/internal/queue"
	"github.com/harvesttable/donations/internal/repository"

	"go.uber.org/zap"
)

const (
	defaultReplayMaxAttempts = 4
	defaultReplayDelay       = 15 * time.Second
	unknownEventType         = "unknown"
)

// ReconcileOptions 对账服务可选配置
type ReconcileOptions struct {
	ReplayMaxAttempts int
	ReplayDelay       time.Duration
	ReceiptsEnabled   bool // 邮件服务启用时投递收据任务
}

// WebhookOutcome 单个事件的处理结果
type WebhookOutcome struct {
	EventID   string
	EventType string
	RecordID  string
	Outcome   string // applied / skipped / duplicate / not_found / ignored / failed
	Replay    bool   // 已投递延迟重放
}

// ReconcileService webhook 对账服务
type ReconcileService struct {
	records repository.PaymentRecordRepository
	gateway PaymentGateway
	donors  *DonorService
	queue   TaskQueue
	metrics *metrics.Metrics
	opts    ReconcileOptions
}

// NewReconcileService 创建对账服务
func NewReconcileService(records repository.PaymentRecordRepository, gateway PaymentGateway, donors *DonorService, queueClient TaskQueue, m *metrics.Metrics, opts ReconcileOptions) *ReconcileService {
	if opts.ReplayMaxAttempts <= 0 {
		opts.ReplayMaxAttempts = defaultReplayMaxAttempts
	}
	if opts.ReplayDelay <= 0 {
		opts.ReplayDelay = defaultReplayDelay
	}
	return &ReconcileService{
		records: records,
		gateway: gateway,
		donors:  donors,
		queue:   queueClient,
		metrics: m,
		opts:    opts,
	}
}

func reconcileLogger(event *stripe.WebhookEvent) *zap.SugaredLogger {
	if event == nil {
		return logger.S()
	}
	return logger.SW("event_id", event.ID, "event_type", event.Type)
}

// HandleWebhook 验签后处理事件；仅验签失败返回错误，载荷无效或处理失败记录日志并视为已接收
func (s *ReconcileService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookOutcome, error) {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, stripe.ErrSignatureInvalid):
			s.metrics.WebhookRejected(metrics.RejectSignature)
			logger.Warnw("payment_webhook_signature_invalid", "error", err)
			return nil, ErrWebhookSignatureInvalid
		case errors.Is(err, stripe.ErrConfigInvalid):
			s.metrics.WebhookRejected(metrics.RejectSignature)
			logger.Errorw("payment_webhook_secret_missing", "error", err)
			return nil, ErrWebhookSignatureInvalid
		default:
			// 签名已通过的事件即使无法使用也视为已接收
			s.metrics.WebhookEvent(unknownEventType, metrics.OutcomeFailed)
			logger.Warnw("payment_webhook_payload_invalid", "error", err)
			return &WebhookOutcome{EventType: unknownEventType, Outcome: metrics.OutcomeFailed}, nil
		}
	}

	outcome, err := s.ProcessEvent(ctx, event)
	if err != nil {
		s.metrics.WebhookEvent(event.Type, metrics.OutcomeFailed)
		reconcileLogger(event).Errorw("payment_webhook_process_failed", "error", err)
		return &WebhookOutcome{
			EventID:   event.ID,
			EventType: event.Type,
			Outcome:   metrics.OutcomeFailed,
		}, nil
	}
	return outcome, nil
}

// ProcessEvent 处理已验签事件，未找到记录时按配置投递延迟重放
func (s *ReconcileService) ProcessEvent(ctx context.Context, event *stripe.WebhookEvent) (*WebhookOutcome, error) {
	return s.process(ctx, event, 0)
}

// ReplayEvent 重放任务入口；attempt 达到上限仍未找到记录时按事件数据补建记录
func (s *ReconcileService) ReplayEvent(ctx context.Context, event *stripe.WebhookEvent, attempt int) (*WebhookOutcome, error) {
	if attempt < s.opts.ReplayMaxAttempts {
		return s.process(ctx, event, attempt)
	}
	transition := transitionFor(event)
	if transition == nil {
		return s.ignored(event), nil
	}
	record, err := s.lookupRecord(ctx, event)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record, err = s.materializeRecord(ctx, event)
		if err != nil {
			return nil, err
		}
		if record == nil {
			reconcileLogger(event).Warnw("payment_webhook_replay_exhausted", "attempt", attempt, "record_id", event.RecordID)
			s.metrics.WebhookEvent(event.Type, metrics.OutcomeNotFound)
			return &WebhookOutcome{EventID: event.ID, EventType: event.Type, Outcome: metrics.OutcomeNotFound}, nil
		}
	}
	return s.apply(ctx, record, event, transition)
}

func (s *ReconcileService) process(ctx context.Context, event *stripe.WebhookEvent, attempt int) (*WebhookOutcome, error) {
	if event == nil || strings.TrimSpace(event.ID) == "" {
		return nil, ErrWebhookPayloadInvalid
	}
	transition := transitionFor(event)
	if transition == nil {
		return s.ignored(event), nil
	}
	record, err := s.lookupRecord(ctx, event)
	if err != nil {
		return nil, err
	}
	if record == nil {
		outcome := &WebhookOutcome{EventID: event.ID, EventType: event.Type, Outcome: metrics.OutcomeNotFound}
		outcome.Replay = s.scheduleReplay(event, attempt)
		reconcileLogger(event).Infow("payment_webhook_record_not_found",
			"session_id", event.SessionID,
			"payment_intent_id", event.PaymentIntentID,
			"subscription_id", event.SubscriptionID,
			"record_id", event.RecordID,
			"replay_scheduled", outcome.Replay,
			"attempt", attempt,
		)
		s.metrics.WebhookEvent(event.Type, metrics.OutcomeNotFound)
		return outcome, nil
	}
	return s.apply(ctx, record, event, transition)
}

func (s *ReconcileService) ignored(event *stripe.WebhookEvent) *WebhookOutcome {
	reconcileLogger(event).Infow("payment_webhook_event_ignored", "object_type", event.ObjectType)
	s.metrics.WebhookEvent(event.Type, metrics.OutcomeIgnored)
	return &WebhookOutcome{EventID: event.ID, EventType: event.Type, Outcome: metrics.OutcomeIgnored}
}

// lookupRecord 先按网关标识查找，再回退到 metadata.record_id
func (s *ReconcileService) lookupRecord(ctx context.Context, event *stripe.WebhookEvent) (*models.PaymentRecord, error) {
	var (
		record *models.PaymentRecord
		err    error
	)
	switch event.ObjectType {
	case "checkout.session":
		if event.SessionID != "" {
			record, err = s.records.GetBySessionID(ctx, event.SessionID)
		}
	case "payment_intent", "charge":
		if event.PaymentIntentID != "" {
			record, err = s.records.GetByPaymentIntentID(ctx, event.PaymentIntentID)
		}
	case "subscription":
		if event.SubscriptionID != "" {
			record, err = s.records.GetBySubscriptionID(ctx, event.SubscriptionID)
		}
	}
	if err != nil || record != nil {
		return record, err
	}
	if event.RecordID != "" {
		return s.records.GetByID(ctx, event.RecordID)
	}
	return nil, nil
}

func (s *ReconcileService) apply(ctx context.Context, record *models.PaymentRecord, event *stripe.WebhookEvent, transition transitionFunc) (*WebhookOutcome, error) {
	result, err := s.records.ApplyEvent(ctx, repository.ApplyEventInput{
		RecordID:   record.ID,
		EventID:    event.ID,
		EventType:  event.Type,
		OccurredAt: event.OccurredAt(),
		Mutate: func(locked *models.PaymentRecord) bool {
			return transition(locked, event)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("apply event: %w", err)
	}
	outcome := &WebhookOutcome{EventID: event.ID, EventType: event.Type, RecordID: record.ID}
	if result == nil {
		outcome.Outcome = metrics.OutcomeNotFound
		s.metrics.WebhookEvent(event.Type, outcome.Outcome)
		return outcome, nil
	}
	outcome.Outcome = result.Outcome
	s.metrics.WebhookEvent(event.Type, result.Outcome)

	log := reconcileLogger(event).With("record_id", record.ID)
	switch result.Outcome {
	case constants.EventOutcomeDuplicate:
		log.Infow("payment_webhook_duplicate")
		return outcome, nil
	case constants.EventOutcomeSkipped:
		log.Infow("payment_webhook_transition_skipped", "status", result.Before.Status)
		return outcome, nil
	}
	log.Infow("payment_webhook_processed",
		"from", result.Before.Status,
		"to", result.After.Status,
	)
	s.afterTransition(ctx, event, result)
	return outcome, nil
}

// afterTransition 状态变更后的副作用：捐赠人汇总、收据邮件、缓存失效
func (s *ReconcileService) afterTransition(ctx context.Context, event *stripe.WebhookEvent, result *repository.TransitionResult) {
	after := result.After
	invalidateDonationSession(ctx, after)

	if delta, occurredAt, ok := donorDelta(result.Before, after); ok && s.donors != nil {
		adjustment := DonorAdjustment{
			Email:      after.CustomerEmail,
			Name:       after.CustomerName,
			Delta:      delta,
			OccurredAt: occurredAt,
			SourceKey:  after.ID + ":" + event.ID,
		}
		if err := s.donors.Submit(ctx, adjustment); err != nil {
			reconcileLogger(event).Errorw("payment_webhook_donor_update_failed",
				"record_id", after.ID,
				"delta", delta,
				"error", err,
			)
		}
	}

	if !enteredSucceeded(result.Before, after) {
		return
	}
	s.metrics.DonationSucceeded(after.Currency, after.Interval, after.Amount)
	if !s.opts.ReceiptsEnabled || strings.TrimSpace(after.CustomerEmail) == "" || !queueEnabled(s.queue) {
		return
	}
	if err := s.queue.EnqueueReceiptEmail(queue.DonationReceiptEmailPayload{RecordID: after.ID}); err != nil {
		reconcileLogger(event).Warnw("donation_receipt_enqueue_failed", "record_id", after.ID, "error", err)
	}
}

// scheduleReplay 仅对携带本系统 record_id 的事件重放，外部或测试事件直接忽略
func (s *ReconcileService) scheduleReplay(event *stripe.WebhookEvent, attempt int) bool {
	if strings.TrimSpace(event.RecordID) == "" || !queueEnabled(s.queue) {
		return false
	}
	next := attempt + 1
	if next > s.opts.ReplayMaxAttempts {
		return false
	}
	delay := s.opts.ReplayDelay * time.Duration(next)
	if err := s.queue.EnqueueWebhookReplay(queue.WebhookReplayPayload{Event: *event, Attempt: next}, delay); err != nil {
		reconcileLogger(event).Warnw("payment_webhook_replay_enqueue_failed", "attempt", next, "error", err)
		return false
	}
	return true
}

// materializeRecord 下单落库失败时按事件数据补建记录，事件缺少必要字段时返回 nil
func (s *ReconcileService) materializeRecord(ctx context.Context, event *stripe.WebhookEvent) (*models.PaymentRecord, error) {
	recordID := strings.TrimSpace(event.RecordID)
	if recordID == "" || event.Amount <= 0 || strings.TrimSpace(event.Currency) == "" {
		return nil, nil
	}
	switch event.ObjectType {
	case "checkout.session", "payment_intent":
	default:
		return nil, nil
	}

	flow := constants.CheckoutFlowIntent
	if event.SessionID != "" {
		flow = constants.CheckoutFlowSession
	}
	interval := constants.DonationIntervalOneTime
	if event.Mode == "subscription" || event.Metadata[constants.MetadataInterval] == constants.DonationIntervalMonth {
		interval = constants.DonationIntervalMonth
	}
	idempotencyKey := strings.TrimSpace(event.Metadata[constants.MetadataIdempotencyKey])
	if idempotencyKey == "" {
		idempotencyKey = "recovered:" + recordID
	}
	metadata := make(map[string]string, len(event.Metadata))
	for key, value := range event.Metadata {
		if _, reserved := reservedMetadataKeys[key]; reserved {
			continue
		}
		metadata[key] = value
	}

	record := &models.PaymentRecord{
		ID:                     recordID,
		Flow:                   flow,
		GatewaySessionID:       models.StringPtr(event.SessionID),
		GatewayPaymentIntentID: models.StringPtr(event.PaymentIntentID),
		GatewaySubscriptionID:  models.StringPtr(event.SubscriptionID),
		Amount:                 event.Amount,
		Currency:               strings.ToLower(event.Currency),
		Interval:               interval,
		Status:                 constants.PaymentStatusPending,
		CustomerEmail:          strings.TrimSpace(event.CustomerEmail),
		CustomerName:           strings.TrimSpace(event.CustomerName),
		Metadata:               models.JSONFromStrings(metadata),
		IdempotencyKey:         idempotencyKey,
	}
	if err := s.records.Create(ctx, record); err != nil {
		existing, getErr := s.records.GetByID(ctx, recordID)
		if getErr != nil || existing == nil {
			return nil, fmt.Errorf("materialize record: %w", err)
		}
		return existing, nil
	}
	reconcileLogger(event).Warnw("payment_record_materialized",
		"record_id", recordID,
		"amount", record.Amount,
		"currency", record.Currency,
	)
	return record, nil
}
