package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/logger"
	"github.com/harvesttable/donations/internal/provider"
	"github.com/harvesttable/donations/internal/queue"
	"github.com/harvesttable/donations/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskDonorAdjustment, c.handleDonorAdjustment)
	mux.HandleFunc(queue.TaskDonorRebuild, c.handleDonorRebuild)
	mux.HandleFunc(queue.TaskDonationReceiptEmail, c.handleReceiptEmail)
	mux.HandleFunc(queue.TaskWebhookReplay, c.handleWebhookReplay)
}

// decodePayload 载荷损坏时不再重试
func decodePayload(task *asynq.Task, dest interface{}) error {
	if err := json.Unmarshal(task.Payload(), dest); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func (c *Consumer) handleDonorAdjustment(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.Container == nil || c.DonorService == nil {
		logger.Debugw("worker_donor_adjustment_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.DonorAdjustmentPayload
	if err := decodePayload(task, &payload); err != nil {
		logger.Warnw("worker_donor_adjustment_unmarshal_failed", "error", err)
		return err
	}
	if strings.TrimSpace(payload.SourceKey) == "" || payload.Delta == 0 {
		logger.Debugw("worker_donor_adjustment_skip_invalid_payload",
			"source_key", payload.SourceKey,
			"delta", payload.Delta,
		)
		return nil
	}
	if _, err := c.DonorService.Apply(ctx, adjustmentFromPayload(payload)); err != nil {
		logger.Warnw("worker_donor_adjustment_failed", "source_key", payload.SourceKey, "error", err)
		return err
	}
	return nil
}

func adjustmentFromPayload(payload queue.DonorAdjustmentPayload) service.DonorAdjustment {
	adjustment := service.DonorAdjustment{
		Email:     payload.Email,
		Name:      payload.Name,
		Delta:     payload.Delta,
		SourceKey: payload.SourceKey,
	}
	if payload.OccurredAt > 0 {
		adjustment.OccurredAt = time.Unix(payload.OccurredAt, 0).UTC()
	}
	return adjustment
}

func (c *Consumer) handleDonorRebuild(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.Container == nil || c.DonorService == nil {
		logger.Debugw("worker_donor_rebuild_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.DonorRebuildPayload
	if err := decodePayload(task, &payload); err != nil {
		logger.Warnw("worker_donor_rebuild_unmarshal_failed", "error", err)
		return err
	}
	count, err := c.DonorService.Rebuild(ctx)
	if err != nil {
		logger.Warnw("worker_donor_rebuild_failed", "requested_by", payload.RequestedBy, "error", err)
		return err
	}
	logger.Infow("worker_donor_rebuild_done", "requested_by", payload.RequestedBy, "donors", count)
	return nil
}

func (c *Consumer) handleReceiptEmail(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.Container == nil || c.ReceiptService == nil {
		logger.Debugw("worker_receipt_email_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.DonationReceiptEmailPayload
	if err := decodePayload(task, &payload); err != nil {
		logger.Warnw("worker_receipt_email_unmarshal_failed", "error", err)
		return err
	}
	if strings.TrimSpace(payload.RecordID) == "" {
		logger.Debugw("worker_receipt_email_skip_invalid_payload")
		return nil
	}
	if err := c.ReceiptService.SendReceipt(ctx, payload.RecordID); err != nil {
		logger.Warnw("worker_receipt_email_send_failed", "record_id", payload.RecordID, "error", err)
		return err
	}
	return nil
}

func (c *Consumer) handleWebhookReplay(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.Container == nil || c.ReconcileService == nil {
		logger.Debugw("worker_webhook_replay_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.WebhookReplayPayload
	if err := decodePayload(task, &payload); err != nil {
		logger.Warnw("worker_webhook_replay_unmarshal_failed", "error", err)
		return err
	}
	if strings.TrimSpace(payload.Event.ID) == "" {
		logger.Debugw("worker_webhook_replay_skip_invalid_payload", "attempt", payload.Attempt)
		return nil
	}
	outcome, err := c.ReconcileService.ReplayEvent(ctx, &payload.Event, payload.Attempt)
	if err != nil {
		logger.Warnw("worker_webhook_replay_failed",
			"event_id", payload.Event.ID,
			"event_type", payload.Event.Type,
			"attempt", payload.Attempt,
			"error", err,
		)
		return err
	}
	logger.Infow("worker_webhook_replay_done",
		"event_id", outcome.EventID,
		"record_id", outcome.RecordID,
		"outcome", outcome.Outcome,
		"attempt", payload.Attempt,
	)
	return nil
}
