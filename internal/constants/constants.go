package constants

// 捐款记录状态常量
const (
	PaymentStatusPending           = "pending"
	PaymentStatusProcessing        = "processing"
	PaymentStatusSucceeded         = "succeeded"
	PaymentStatusFailed            = "failed"
	PaymentStatusCanceled          = "canceled"
	PaymentStatusRefunded          = "refunded"
	PaymentStatusPartiallyRefunded = "partially_refunded"
)

// 捐款周期常量
const (
	DonationIntervalOneTime = "one_time"
	DonationIntervalMonth   = "month"
)

// 下单方式常量
const (
	CheckoutFlowSession = "checkout" // 托管收银台
	CheckoutFlowIntent  = "intent"   // 前端直接确认 PaymentIntent
)

// 账本事件处理结果
const (
	EventOutcomeApplied   = "applied"
	EventOutcomeSkipped   = "skipped"
	EventOutcomeDuplicate = "duplicate" // 仅作为处理结果返回，不落库
)

// Stripe webhook 事件类型
const (
	StripeEventCheckoutSessionCompleted      = "checkout.session.completed"
	StripeEventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	StripeEventCheckoutAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	StripeEventCheckoutSessionExpired        = "checkout.session.expired"
	StripeEventPaymentIntentSucceeded        = "payment_intent.succeeded"
	StripeEventPaymentIntentFailed           = "payment_intent.payment_failed"
	StripeEventPaymentIntentProcessing       = "payment_intent.processing"
	StripeEventPaymentIntentCanceled         = "payment_intent.canceled"
	StripeEventChargeRefunded                = "charge.refunded"
	StripeEventSubscriptionDeleted           = "customer.subscription.deleted"
	StripeEventSubscriptionUpdated           = "customer.subscription.updated"
)

// Stripe metadata 键
const (
	MetadataRecordID       = "record_id"
	MetadataInterval       = "interval"
	MetadataIdempotencyKey = "idempotency_key"
	MetadataSource         = "source"
)

// 异步队列与任务
const (
	QueueDefault             = "default"
	QueueCritical            = "critical"
	TaskDonorAdjustment      = "donor:adjustment"
	TaskDonorRebuild         = "donor:rebuild"
	TaskDonationReceiptEmail = "donation:receipt_email"
	TaskWebhookReplay        = "webhook:replay"
)

// 存储类型
const (
	PaymentStoreSQL   = "sql"
	PaymentStoreMongo = "mongo"
)

// 验证码类型
const (
	CaptchaProviderNone  = "none"
	CaptchaProviderImage = "image"
)
