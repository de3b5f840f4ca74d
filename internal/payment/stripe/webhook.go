package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80/webhook"
)

// WebhookEvent 归一化后的 webhook 事件，可序列化后进入重放队列。
type WebhookEvent struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Created         int64             `json:"created"`
	ObjectType      string            `json:"object_type"`
	SessionID       string            `json:"session_id,omitempty"`
	PaymentIntentID string            `json:"payment_intent_id,omitempty"`
	SubscriptionID  string            `json:"subscription_id,omitempty"`
	ChargeID        string            `json:"charge_id,omitempty"`
	CustomerID      string            `json:"customer_id,omitempty"`
	RecordID        string            `json:"record_id,omitempty"`
	Amount          int64             `json:"amount"`
	AmountRefunded  int64             `json:"amount_refunded"`
	Currency        string            `json:"currency,omitempty"`
	PaymentStatus   string            `json:"payment_status,omitempty"` // checkout.session.payment_status
	ObjectStatus    string            `json:"object_status,omitempty"`  // 对象自身 status 字段
	Mode            string            `json:"mode,omitempty"`
	CustomerEmail   string            `json:"customer_email,omitempty"`
	CustomerName    string            `json:"customer_name,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// OccurredAt 事件创建时间，缺失时返回当前时间。
func (e *WebhookEvent) OccurredAt() time.Time {
	if e == nil || e.Created <= 0 {
		return time.Now()
	}
	return time.Unix(e.Created, 0)
}

// ParseWebhook 校验签名并解析事件，签名失败返回 ErrSignatureInvalid；
// ErrPayloadInvalid 仅在签名通过后出现。
func (c *Client) ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	if c.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook_secret is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, fmt.Errorf("%w: Stripe-Signature is required", ErrSignatureInvalid)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                c.cfg.webhookTolerance(),
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(string(event.Type)) == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrPayloadInvalid)
	}

	result := &WebhookEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: event.Created,
	}
	if event.Data != nil {
		fillWebhookEvent(result, event.Data.Object)
	}
	return result, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func fillWebhookEvent(result *WebhookEvent, objectRaw map[string]interface{}) {
	if objectRaw == nil {
		return
	}
	result.ObjectType = readString(objectRaw, "object")
	result.Metadata = readStringMap(objectRaw, "metadata")
	result.Currency = strings.ToLower(readString(objectRaw, "currency"))
	result.CustomerID = readExpandableID(objectRaw, "customer")
	result.ObjectStatus = readString(objectRaw, "status")

	switch result.ObjectType {
	case "checkout.session":
		result.SessionID = readString(objectRaw, "id")
		result.PaymentIntentID = readExpandableID(objectRaw, "payment_intent")
		result.SubscriptionID = readExpandableID(objectRaw, "subscription")
		result.Amount = readInt64(objectRaw, "amount_total")
		result.PaymentStatus = readString(objectRaw, "payment_status")
		result.Mode = readString(objectRaw, "mode")
		details := readMap(objectRaw, "customer_details")
		result.CustomerEmail = firstNonEmpty(readString(details, "email"), readString(objectRaw, "customer_email"))
		result.CustomerName = readString(details, "name")
	case "payment_intent":
		result.PaymentIntentID = readString(objectRaw, "id")
		result.Amount = readInt64(objectRaw, "amount")
		result.CustomerEmail = readString(objectRaw, "receipt_email")
	case "charge":
		result.ChargeID = readString(objectRaw, "id")
		result.PaymentIntentID = readExpandableID(objectRaw, "payment_intent")
		result.Amount = readInt64(objectRaw, "amount")
		result.AmountRefunded = readInt64(objectRaw, "amount_refunded")
		billing := readMap(objectRaw, "billing_details")
		result.CustomerEmail = firstNonEmpty(readString(billing, "email"), readString(objectRaw, "receipt_email"))
		result.CustomerName = readString(billing, "name")
	case "subscription":
		result.SubscriptionID = readString(objectRaw, "id")
	}
	result.RecordID = strings.TrimSpace(result.Metadata["record_id"])
	if result.RecordID == "" && result.ObjectType == "checkout.session" {
		result.RecordID = strings.TrimSpace(readString(objectRaw, "client_reference_id"))
	}
}

// readExpandableID 读取可展开字段：字符串 ID 或带 id 的对象。
func readExpandableID(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case map[string]interface{}:
		return readString(typed, "id")
	default:
		return ""
	}
}

func readString(raw map[string]interface{}, key string) string {
	if raw == nil || strings.TrimSpace(key) == "" {
		return ""
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	case int64:
		return strconv.FormatInt(typed, 10)
	case int:
		return strconv.Itoa(typed)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return ""
	}
}

func readMap(raw map[string]interface{}, key string) map[string]interface{} {
	if raw == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return nil
	}
	mapped, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	return mapped
}

func readStringMap(raw map[string]interface{}, key string) map[string]string {
	mapped := readMap(raw, key)
	result := make(map[string]string, len(mapped))
	for k := range mapped {
		result[k] = readString(mapped, k)
	}
	return result
}

func readInt64(raw map[string]interface{}, key string) int64 {
	if raw == nil || strings.TrimSpace(key) == "" {
		return 0
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return 0
	}
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatVal, err := typed.Float64()
		if err != nil {
			return 0
		}
		return int64(floatVal)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
