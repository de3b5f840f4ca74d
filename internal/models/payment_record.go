package models

import (
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/constants"
)

// PaymentRecord 捐款支付记录，一次发起支付对应一条
type PaymentRecord struct {
	ID                     string               `gorm:"primarykey;type:varchar(36)" json:"id"`                                    // 内部ID（UUID）
	Flow                   string               `gorm:"type:varchar(16);not null" json:"flow"`                                    // 下单方式（checkout/intent）
	GatewaySessionID       *string              `gorm:"type:varchar(255);uniqueIndex" json:"gateway_session_id,omitempty"`        // 网关 Checkout Session ID
	GatewayPaymentIntentID *string              `gorm:"type:varchar(255);uniqueIndex" json:"gateway_payment_intent_id,omitempty"` // 网关 PaymentIntent ID
	GatewaySubscriptionID  *string              `gorm:"type:varchar(255);uniqueIndex" json:"gateway_subscription_id,omitempty"`   // 网关订阅ID（月捐）
	Amount                 int64                `gorm:"not null" json:"amount"`                                                   // 金额（最小货币单位）
	RefundedAmount         int64                `gorm:"not null;default:0" json:"refunded_amount"`                                // 累计退款（最小货币单位）
	Currency               string               `gorm:"type:varchar(3);not null" json:"currency"`                                 // 币种（小写）
	Interval               string               `gorm:"column:donation_interval;type:varchar(16);not null" json:"interval"`       // 周期（one_time/month）
	Status                 string               `gorm:"type:varchar(32);index;not null" json:"status"`                            // 状态
	CustomerEmail          string               `gorm:"type:varchar(255);index" json:"customer_email"`                            // 捐赠人邮箱
	CustomerName           string               `gorm:"type:varchar(255)" json:"customer_name"`                                   // 捐赠人姓名
	Metadata               JSON                 `gorm:"type:json" json:"metadata"`                                                // 来源渠道、活动标签等
	IdempotencyKey         string               `gorm:"type:varchar(255);uniqueIndex;not null" json:"idempotency_key"`            // 幂等键
	CreatedAt              time.Time            `gorm:"index" json:"created_at"`                                                  // 创建时间
	UpdatedAt              time.Time            `json:"updated_at"`                                                               // 更新时间
	PaidAt                 *time.Time           `gorm:"index" json:"paid_at"`                                                     // 支付成功时间
	FailedAt               *time.Time           `json:"failed_at"`                                                                // 失败时间
	RefundedAt             *time.Time           `json:"refunded_at"`                                                              // 退款时间
	CanceledAt             *time.Time           `json:"canceled_at"`                                                              // 取消时间
	LastEventAt            *time.Time           `json:"last_event_at"`                                                            // 最近一次 webhook 时间
	Events                 []PaymentRecordEvent `gorm:"foreignKey:PaymentRecordID" json:"events,omitempty"`                       // 已处理事件账本
	ProcessedEventIDs      []string             `gorm:"-" json:"processed_event_ids,omitempty"`                                   // 账本事件ID（读取时填充）
}

// TableName 指定表名
func (PaymentRecord) TableName() string {
	return "payment_records"
}

// SessionID 返回网关 Session ID，未设置时为空串
func (r *PaymentRecord) SessionID() string {
	return StringValue(r.GatewaySessionID)
}

// PaymentIntentID 返回网关 PaymentIntent ID
func (r *PaymentRecord) PaymentIntentID() string {
	return StringValue(r.GatewayPaymentIntentID)
}

// SubscriptionID 返回网关订阅ID
func (r *PaymentRecord) SubscriptionID() string {
	return StringValue(r.GatewaySubscriptionID)
}

// HasProcessedEvent 判断事件是否已生效；被跳过的事件不算
func (r *PaymentRecord) HasProcessedEvent(eventID string) bool {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false
	}
	for _, id := range r.ProcessedEventIDs {
		if id == eventID {
			return true
		}
	}
	for _, event := range r.Events {
		if event.EventID == eventID && event.Outcome == constants.EventOutcomeApplied {
			return true
		}
	}
	return false
}

// IsPaid 是否曾经支付成功（退款、订阅取消后仍为 true）
func (r *PaymentRecord) IsPaid() bool {
	return r.PaidAt != nil
}

// NetAmount 扣除退款后的净额
func (r *PaymentRecord) NetAmount() int64 {
	net := r.Amount - r.RefundedAmount
	if net < 0 {
		return 0
	}
	return net
}

// Clone 深拷贝，用于对比状态迁移前后的差异
func (r *PaymentRecord) Clone() *PaymentRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.GatewaySessionID = cloneStringPtr(r.GatewaySessionID)
	cp.GatewayPaymentIntentID = cloneStringPtr(r.GatewayPaymentIntentID)
	cp.GatewaySubscriptionID = cloneStringPtr(r.GatewaySubscriptionID)
	cp.PaidAt = cloneTimePtr(r.PaidAt)
	cp.FailedAt = cloneTimePtr(r.FailedAt)
	cp.RefundedAt = cloneTimePtr(r.RefundedAt)
	cp.CanceledAt = cloneTimePtr(r.CanceledAt)
	cp.LastEventAt = cloneTimePtr(r.LastEventAt)
	if r.Metadata != nil {
		cp.Metadata = make(JSON, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	if r.ProcessedEventIDs != nil {
		cp.ProcessedEventIDs = append([]string(nil), r.ProcessedEventIDs...)
	}
	if r.Events != nil {
		cp.Events = append([]PaymentRecordEvent(nil), r.Events...)
	}
	return &cp
}

// PaymentRecordEvent 幂等账本：每条记录每个网关事件只允许出现一次
type PaymentRecordEvent struct {
	ID              uint      `gorm:"primarykey" json:"id"`                                                                               // 主键
	PaymentRecordID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_payment_record_event,priority:1" json:"payment_record_id"` // 捐款记录ID
	EventID         string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_payment_record_event,priority:2" json:"event_id"`         // 网关事件ID
	EventType       string    `gorm:"type:varchar(100);not null" json:"event_type"`                                                       // 事件类型
	Outcome         string    `gorm:"type:varchar(16);not null" json:"outcome"`                                                           // applied/skipped
	ProcessedAt     time.Time `gorm:"index" json:"processed_at"`                                                                          // 处理时间
}

// TableName 指定表名
func (PaymentRecordEvent) TableName() string {
	return "payment_record_events"
}

// StringPtr 去空白后返回指针，空串返回 nil
func StringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// StringValue 安全解引用
func StringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
