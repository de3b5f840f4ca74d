package service

import (
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/models"
	"github.com/harvesttable/donations/internal/payment/stripe"
)

// transitionFunc 在锁定的记录上执行迁移，返回 false 表示源状态不匹配
type transitionFunc func(record *models.PaymentRecord, event *stripe.WebhookEvent) bool

// transitionFor 按事件类型选择迁移规则，未处理的类型返回 nil
func transitionFor(event *stripe.WebhookEvent) transitionFunc {
	if event == nil {
		return nil
	}
	switch event.Type {
	case constants.StripeEventCheckoutSessionCompleted:
		if strings.EqualFold(event.PaymentStatus, "unpaid") {
			return markProcessing
		}
		return markSucceeded
	case constants.StripeEventCheckoutAsyncPaymentSucceeded, constants.StripeEventPaymentIntentSucceeded:
		return markSucceeded
	case constants.StripeEventPaymentIntentProcessing:
		return markProcessing
	case constants.StripeEventCheckoutAsyncPaymentFailed, constants.StripeEventPaymentIntentFailed:
		return markFailed
	case constants.StripeEventPaymentIntentCanceled, constants.StripeEventCheckoutSessionExpired:
		return markCanceled
	case constants.StripeEventChargeRefunded:
		return applyRefund
	case constants.StripeEventSubscriptionDeleted:
		return cancelSubscription
	case constants.StripeEventSubscriptionUpdated:
		if strings.EqualFold(event.ObjectStatus, "canceled") {
			return cancelSubscription
		}
		return nil
	default:
		return nil
	}
}

func isOpenStatus(status string) bool {
	return status == constants.PaymentStatusPending || status == constants.PaymentStatusProcessing
}

func markProcessing(record *models.PaymentRecord, event *stripe.WebhookEvent) bool {
	if record.Status != constants.PaymentStatusPending {
		return false
	}
	record.Status = constants.PaymentStatusProcessing
	fillFromEvent(record, event)
	return true
}

func markSucceeded(record *models.PaymentRecord, event *stripe.WebhookEvent) bool {
	if !isOpenStatus(record.Status) {
		return false
	}
	paidAt := event.OccurredAt()
	record.Status = constants.PaymentStatusSucceeded
	record.PaidAt = &paidAt
	fillFromEvent(record, event)
	return true
}

func markFailed(record *models.PaymentRecord, event *stripe.WebhookEvent) bool {
	if !isOpenStatus(record.Status) {
		return false
	}
	failedAt := event.OccurredAt()
	record.Status = constants.PaymentStatusFailed
	record.FailedAt = &failedAt
	fillFromEvent(record, event)
	return true
}

func markCanceled(record *models.PaymentRecord, event *stripe.WebhookEvent) bool {
	if !isOpenStatus(record.Status) {
		return false
	}
	canceledAt := event.OccurredAt()
	record.Status = constants.PaymentStatusCanceled
	record.CanceledAt = &canceledAt
	return true
}

// applyRefund 退款金额取网关累计值，只增不减
// 退款先于成功事件到达时记录仍处于 pending/processing，扣款已发生，同时补记支付时间
func applyRefund(record *models.PaymentRecord, event *stripe.WebhookEvent) bool {
	switch record.Status {
	case constants.PaymentStatusSucceeded, constants.PaymentStatusPartiallyRefunded:
	case constants.PaymentStatusPending, constants.PaymentStatusProcessing:
	case constants.PaymentStatusCanceled:
		if !record.IsPaid() {
			return false
		}
	default:
		return false
	}
	refunded := event.AmountRefunded
	if refunded > record.Amount {
		refunded = record.Amount
	}
	if refunded <= record.RefundedAmount {
		return false
	}
	refundedAt := event.OccurredAt()
	if record.PaidAt == nil {
		paidAt := refundedAt
		record.PaidAt = &paidAt
	}
	record.RefundedAmount = refunded
	record.RefundedAt = &refundedAt
	if refunded >= record.Amount {
		record.Status = constants.PaymentStatusRefunded
	} else {
		record.Status = constants.PaymentStatusPartiallyRefunded
	}
	fillFromEvent(record, event)
	return true
}

// cancelSubscription 月捐取消，已支付金额仍计入捐赠人汇总
func cancelSubscription(record *models.PaymentRecord, event *stripe.WebhookEvent) bool {
	if record.Interval != constants.DonationIntervalMonth && record.SubscriptionID() == "" {
		return false
	}
	switch record.Status {
	case constants.PaymentStatusPending, constants.PaymentStatusProcessing, constants.PaymentStatusSucceeded:
	default:
		return false
	}
	canceledAt := event.OccurredAt()
	record.Status = constants.PaymentStatusCanceled
	record.CanceledAt = &canceledAt
	if record.GatewaySubscriptionID == nil {
		record.GatewaySubscriptionID = models.StringPtr(event.SubscriptionID)
	}
	return true
}

// fillFromEvent 补齐空缺的网关标识与捐赠人信息，已有值不覆盖
func fillFromEvent(record *models.PaymentRecord, event *stripe.WebhookEvent) {
	if record.GatewaySessionID == nil {
		record.GatewaySessionID = models.StringPtr(event.SessionID)
	}
	if record.GatewayPaymentIntentID == nil {
		record.GatewayPaymentIntentID = models.StringPtr(event.PaymentIntentID)
	}
	if record.GatewaySubscriptionID == nil {
		record.GatewaySubscriptionID = models.StringPtr(event.SubscriptionID)
	}
	if strings.TrimSpace(record.CustomerEmail) == "" {
		record.CustomerEmail = strings.TrimSpace(event.CustomerEmail)
	}
	if strings.TrimSpace(record.CustomerName) == "" {
		record.CustomerName = strings.TrimSpace(event.CustomerName)
	}
}

// donorDelta 由迁移前后快照计算捐赠人汇总变化
func donorDelta(before, after *models.PaymentRecord) (int64, time.Time, bool) {
	if before == nil || after == nil {
		return 0, time.Time{}, false
	}
	// 首次支付按净额计入，覆盖退款先于成功事件到达的情况
	if before.PaidAt == nil && after.PaidAt != nil {
		net := after.NetAmount()
		if net <= 0 {
			return 0, time.Time{}, false
		}
		return net, *after.PaidAt, true
	}
	if after.RefundedAmount > before.RefundedAmount {
		occurredAt := time.Now()
		if after.RefundedAt != nil {
			occurredAt = *after.RefundedAt
		}
		return -(after.RefundedAmount - before.RefundedAmount), occurredAt, true
	}
	return 0, time.Time{}, false
}

func enteredSucceeded(before, after *models.PaymentRecord) bool {
	return before != nil && after != nil &&
		before.Status != constants.PaymentStatusSucceeded &&
		after.Status == constants.PaymentStatusSucceeded
}
