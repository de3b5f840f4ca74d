package queue

import (
	"encoding/json"

	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/payment/stripe"

	"github.com/hibiken/asynq"
)

const (
	// TaskDonorAdjustment 捐赠人汇总调整任务
	TaskDonorAdjustment = constants.TaskDonorAdjustment
	// TaskDonorRebuild 捐赠人汇总全量重建任务
	TaskDonorRebuild = constants.TaskDonorRebuild
	// TaskDonationReceiptEmail 捐款收据邮件任务
	TaskDonationReceiptEmail = constants.TaskDonationReceiptEmail
	// TaskWebhookReplay 找不到记录的 webhook 延迟重放任务
	TaskWebhookReplay = constants.TaskWebhookReplay
)

// DonorAdjustmentPayload 捐赠人汇总调整载荷
type DonorAdjustmentPayload struct {
	SourceKey  string `json:"source_key"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Delta      int64  `json:"delta"`
	OccurredAt int64  `json:"occurred_at"` // Unix 秒
}

// DonorRebuildPayload 重建任务载荷
type DonorRebuildPayload struct {
	RequestedBy string `json:"requested_by"`
}

// DonationReceiptEmailPayload 收据邮件载荷
type DonationReceiptEmailPayload struct {
	RecordID string `json:"record_id"`
}

// WebhookReplayPayload 重放载荷，事件已通过签名校验
type WebhookReplayPayload struct {
	Event   stripe.WebhookEvent `json:"event"`
	Attempt int                 `json:"attempt"`
}

// NewDonorAdjustmentTask 创建捐赠人汇总调整任务
func NewDonorAdjustmentTask(payload DonorAdjustmentPayload) (*asynq.Task, error) {
	return newJSONTask(TaskDonorAdjustment, payload)
}

// NewDonorRebuildTask 创建重建任务
func NewDonorRebuildTask(payload DonorRebuildPayload) (*asynq.Task, error) {
	return newJSONTask(TaskDonorRebuild, payload)
}

// NewDonationReceiptEmailTask 创建收据邮件任务
func NewDonationReceiptEmailTask(payload DonationReceiptEmailPayload) (*asynq.Task, error) {
	return newJSONTask(TaskDonationReceiptEmail, payload)
}

// NewWebhookReplayTask 创建 webhook 重放任务
func NewWebhookReplayTask(payload WebhookReplayPayload) (*asynq.Task, error) {
	return newJSONTask(TaskWebhookReplay, payload)
}

func newJSONTask(taskType string, payload interface{}) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body), nil
}
