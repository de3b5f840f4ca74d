package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// 标签取值
const (
	OutcomeApplied   = "applied"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
	OutcomeNotFound  = "not_found"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"

	RejectSignature = "signature"
	RejectPayload   = "payload"
	RejectTooLarge  = "too_large"
)

// Metrics 捐款链路指标
type Metrics struct {
	webhookEvents     *prometheus.CounterVec
	webhookRejected   *prometheus.CounterVec
	checkoutCreated   *prometheus.CounterVec
	checkoutFailed    *prometheus.CounterVec
	donorAdjustments  *prometheus.CounterVec
	donatedMinorUnits *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default 返回注册到默认 Registerer 的单例
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New 创建并注册指标，重复注册时复用已存在的 collector
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donations_webhook_events_total",
			Help: "Verified gateway webhook events by type and reconciliation outcome.",
		}, []string{"type", "outcome"}),
		webhookRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donations_webhook_rejected_total",
			Help: "Webhook requests rejected before processing.",
		}, []string{"reason"}),
		checkoutCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donations_checkout_created_total",
			Help: "Gateway checkout sessions or payment intents created.",
		}, []string{"flow", "interval"}),
		checkoutFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donations_checkout_failed_total",
			Help: "Checkout requests that failed after validation.",
		}, []string{"reason"}),
		donorAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donations_donor_adjustments_total",
			Help: "Donor aggregate adjustments by result.",
		}, []string{"direction", "result"}),
		donatedMinorUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donations_succeeded_minor_units_total",
			Help: "Sum of succeeded donation amounts in minor currency units.",
		}, []string{"currency", "interval"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "donations_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route", "status"}),
	}
	m.webhookEvents = register(registerer, m.webhookEvents).(*prometheus.CounterVec)
	m.webhookRejected = register(registerer, m.webhookRejected).(*prometheus.CounterVec)
	m.checkoutCreated = register(registerer, m.checkoutCreated).(*prometheus.CounterVec)
	m.checkoutFailed = register(registerer, m.checkoutFailed).(*prometheus.CounterVec)
	m.donorAdjustments = register(registerer, m.donorAdjustments).(*prometheus.CounterVec)
	m.donatedMinorUnits = register(registerer, m.donatedMinorUnits).(*prometheus.CounterVec)
	m.httpDuration = register(registerer, m.httpDuration).(*prometheus.HistogramVec)
	return m
}

func register(registerer prometheus.Registerer, collector prometheus.Collector) prometheus.Collector {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector
		}
		panic(err)
	}
	return collector
}

// WebhookEvent 记录一次已验签事件的处理结果
func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// WebhookRejected 记录验签前被拒绝的请求
func (m *Metrics) WebhookRejected(reason string) {
	if m == nil {
		return
	}
	m.webhookRejected.WithLabelValues(reason).Inc()
}

// CheckoutCreated 记录网关下单成功
func (m *Metrics) CheckoutCreated(flow, interval string) {
	if m == nil {
		return
	}
	m.checkoutCreated.WithLabelValues(flow, interval).Inc()
}

// CheckoutFailed 记录网关下单失败
func (m *Metrics) CheckoutFailed(reason string) {
	if m == nil {
		return
	}
	m.checkoutFailed.WithLabelValues(reason).Inc()
}

// DonorAdjustment 记录捐赠人汇总调整
func (m *Metrics) DonorAdjustment(delta int64, result string) {
	if m == nil {
		return
	}
	direction := "credit"
	if delta < 0 {
		direction = "debit"
	}
	m.donorAdjustments.WithLabelValues(direction, result).Inc()
}

// DonationSucceeded 累计成功捐款金额
func (m *Metrics) DonationSucceeded(currency, interval string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.donatedMinorUnits.WithLabelValues(currency, interval).Add(float64(amount))
}

// GinMiddleware 按路由模板统计请求耗时
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
