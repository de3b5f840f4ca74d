package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harvesttable/donations/internal/config"
	"github.com/harvesttable/donations/internal/models"
	"github.com/harvesttable/donations/internal/payment/stripe"
	"github.com/harvesttable/donations/internal/queue"
	"github.com/harvesttable/donations/internal/repository"

	"github.com/glebarez/sqlite"
	stripewebhook "github.com/stripe/stripe-go/v80/webhook"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_service_test"

type serviceTestEnv struct {
	db       *gorm.DB
	records  *repository.GormPaymentRecordRepository
	donors   *repository.GormDonorRepository
	gateway  *fakeGateway
	queue    *fakeQueue
	donorSvc *DonorService
	checkout *CheckoutService
	recon    *ReconcileService
}

func setupServiceTest(t *testing.T) *serviceTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := models.Migrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	env := &serviceTestEnv{
		db:      db,
		records: repository.NewPaymentRecordRepository(db),
		donors:  repository.NewDonorRepository(db),
		gateway: newFakeGateway(),
		queue:   &fakeQueue{},
	}
	env.donorSvc = NewDonorService(env.donors, env.records, env.queue, nil)
	env.checkout = NewCheckoutService(config.DonationConfig{
		MinAmount:         100,
		MaxAmount:         1000000,
		AllowedCurrencies: []string{"usd", "jpy"},
	}, env.records, env.gateway, nil)
	env.recon = NewReconcileService(env.records, env.gateway, env.donorSvc, env.queue, nil, ReconcileOptions{})
	return env
}

func (e *serviceTestEnv) createRecord(t *testing.T, record *models.PaymentRecord) *models.PaymentRecord {
	t.Helper()
	if err := e.records.Create(context.Background(), record); err != nil {
		t.Fatalf("create record failed: %v", err)
	}
	return record
}

func (e *serviceTestEnv) mustRecord(t *testing.T, id string) *models.PaymentRecord {
	t.Helper()
	record, err := e.records.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get record failed: %v", err)
	}
	if record == nil {
		t.Fatalf("record %s not found", id)
	}
	return record
}

func (e *serviceTestEnv) donorTotal(t *testing.T, email string) int64 {
	t.Helper()
	donor, err := e.donors.GetByEmail(context.Background(), repository.NormalizeEmail(email))
	if err != nil {
		t.Fatalf("get donor failed: %v", err)
	}
	if donor == nil {
		return 0
	}
	return donor.TotalDonated
}

// signEvent 生成带合法签名的 webhook 请求体
func signEvent(t *testing.T, id, eventType string, object map[string]interface{}) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]interface{}{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event failed: %v", err)
	}
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   body,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return body, signed.Header
}

func checkoutSessionObject(sessionID string, amount int64, extra map[string]interface{}) map[string]interface{} {
	object := map[string]interface{}{
		"object":         "checkout.session",
		"id":             sessionID,
		"payment_status": "paid",
		"status":         "complete",
		"mode":           "payment",
		"currency":       "usd",
		"amount_total":   amount,
	}
	for key, value := range extra {
		object[key] = value
	}
	return object
}

type fakeGateway struct {
	mu           sync.Mutex
	parser       *stripe.Client
	checkoutErr  error
	intentErr    error
	checkoutReqs []stripe.CheckoutInput
	intentReqs   []stripe.IntentInput
	sessionsByIK map[string]string
	seq          int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		parser:       stripe.NewClient(stripe.Config{WebhookSecret: testWebhookSecret}),
		sessionsByIK: make(map[string]string),
	}
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, input stripe.CheckoutInput) (*stripe.CheckoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkoutReqs = append(g.checkoutReqs, input)
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	sessionID, ok := g.sessionsByIK[input.IdempotencyKey]
	if !ok {
		g.seq++
		sessionID = fmt.Sprintf("cs_test_%d", g.seq)
		g.sessionsByIK[input.IdempotencyKey] = sessionID
	}
	result := &stripe.CheckoutResult{
		SessionID: sessionID,
		URL:       "https://checkout.stripe.test/" + sessionID,
	}
	return result, nil
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, input stripe.IntentInput) (*stripe.IntentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intentReqs = append(g.intentReqs, input)
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	g.seq++
	id := fmt.Sprintf("pi_test_%d", g.seq)
	return &stripe.IntentResult{PaymentIntentID: id, ClientSecret: id + "_secret_x", Status: "requires_payment_method"}, nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signatureHeader string) (*stripe.WebhookEvent, error) {
	return g.parser.ParseWebhook(payload, signatureHeader)
}

func (g *fakeGateway) checkoutCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.checkoutReqs)
}

type replayCall struct {
	payload queue.WebhookReplayPayload
	delay   time.Duration
}

type fakeQueue struct {
	mu          sync.Mutex
	enabled     bool
	adjustments []queue.DonorAdjustmentPayload
	rebuilds    []queue.DonorRebuildPayload
	receipts    []queue.DonationReceiptEmailPayload
	replays     []replayCall
}

func (q *fakeQueue) Enabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

func (q *fakeQueue) EnqueueDonorAdjustment(payload queue.DonorAdjustmentPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.adjustments = append(q.adjustments, payload)
	return nil
}

func (q *fakeQueue) EnqueueDonorRebuild(payload queue.DonorRebuildPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rebuilds = append(q.rebuilds, payload)
	return nil
}

func (q *fakeQueue) EnqueueReceiptEmail(payload queue.DonationReceiptEmailPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.receipts = append(q.receipts, payload)
	return nil
}

func (q *fakeQueue) EnqueueWebhookReplay(payload queue.WebhookReplayPayload, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.replays = append(q.replays, replayCall{payload: payload, delay: delay})
	return nil
}
