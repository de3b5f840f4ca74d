package service

import (
	"context"
	"time"

	"github.com/harvesttable/donations/internal/payment/stripe"
	"github.com/harvesttable/donations/internal/queue"
)

// PaymentGateway 网关能力，生产环境由 stripe.Client 实现
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, input stripe.CheckoutInput) (*stripe.CheckoutResult, error)
	CreatePaymentIntent(ctx context.Context, input stripe.IntentInput) (*stripe.IntentResult, error)
	ParseWebhook(payload []byte, signatureHeader string) (*stripe.WebhookEvent, error)
}

// TaskQueue 异步任务投递，生产环境由 queue.Client 实现
type TaskQueue interface {
	Enabled() bool
	EnqueueDonorAdjustment(payload queue.DonorAdjustmentPayload) error
	EnqueueDonorRebuild(payload queue.DonorRebuildPayload) error
	EnqueueReceiptEmail(payload queue.DonationReceiptEmailPayload) error
	EnqueueWebhookReplay(payload queue.WebhookReplayPayload, delay time.Duration) error
}

func queueEnabled(q TaskQueue) bool {
	return q != nil && q.Enabled()
}
