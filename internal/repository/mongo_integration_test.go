//go:build integration
// +build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/models"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// setupMongoIntegrationDB 初始化 MongoDB 集成测试库，测试结束后删除。
func setupMongoIntegrationDB(t *testing.T) *mongo.Database {
	t.Helper()

	uri := strings.TrimSpace(os.Getenv("TEST_MONGO_URI"))
	if uri == "" {
		t.Skip("skip mongo integration test: TEST_MONGO_URI is empty")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect mongo failed: %v", err)
	}
	db := client.Database(fmt.Sprintf("donations_it_%d", time.Now().UnixNano()))
	if err := EnsureMongoIndexes(ctx, db); err != nil {
		t.Fatalf("ensure indexes failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return db
}

func TestMongoPaymentRecordApplyEventConcurrentDeliveries(t *testing.T) {
	db := setupMongoIntegrationDB(t)
	ctx := context.Background()
	repo := NewMongoPaymentRecordRepository(db)

	record := newPendingRecord("cs_mongo_concurrent")
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create record failed: %v", err)
	}
	paidAt := time.Now().UTC()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := repo.ApplyEvent(ctx, ApplyEventInput{
				RecordID:  record.ID,
				EventID:   "evt_mongo_same",
				EventType: constants.StripeEventCheckoutSessionCompleted,
				Mutate:    markSucceeded(paidAt),
			})
			if err != nil {
				t.Errorf("apply event failed: %v", err)
				return
			}
			if result.Changed() {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if applied != 1 {
		t.Fatalf("exactly one delivery should apply, got %d", applied)
	}

	if err := repo.AttachGatewayRefs(ctx, record.ID, GatewayRefs{SessionID: "cs_overwrite", PaymentIntentID: "pi_mongo"}); err != nil {
		t.Fatalf("attach refs failed: %v", err)
	}
	got, err := repo.GetByPaymentIntentID(ctx, "pi_mongo")
	if err != nil || got == nil {
		t.Fatalf("lookup by intent failed: %v", err)
	}
	if got.SessionID() != "cs_mongo_concurrent" || got.Status != constants.PaymentStatusSucceeded {
		t.Fatalf("unexpected record state: %+v", got)
	}
	events, err := repo.ListEvents(ctx, record.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("ledger should hold one event: len=%d err=%v", len(events), err)
	}

	totals, err := repo.AggregateDonors(ctx)
	if err != nil || len(totals) != 1 || totals[0].TotalDonated != record.Amount {
		t.Fatalf("unexpected aggregate: %+v err=%v", totals, err)
	}
}

func TestMongoPaymentRecordReevaluatesSkippedEvent(t *testing.T) {
	db := setupMongoIntegrationDB(t)
	ctx := context.Background()
	repo := NewMongoPaymentRecordRepository(db)

	record := newPendingRecord("cs_mongo_reeval")
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create record failed: %v", err)
	}
	ready := false
	input := ApplyEventInput{
		RecordID:  record.ID,
		EventID:   "evt_mongo_early",
		EventType: constants.StripeEventChargeRefunded,
		Mutate: func(locked *models.PaymentRecord) bool {
			if !ready {
				return false
			}
			locked.Status = constants.PaymentStatusRefunded
			return true
		},
	}

	first, err := repo.ApplyEvent(ctx, input)
	if err != nil || first.Outcome != constants.EventOutcomeSkipped {
		t.Fatalf("first delivery should be skipped, got %+v err=%v", first, err)
	}
	ready = true
	second, err := repo.ApplyEvent(ctx, input)
	if err != nil || second.Outcome != constants.EventOutcomeApplied {
		t.Fatalf("skipped event should apply on redelivery, got %+v err=%v", second, err)
	}
	third, err := repo.ApplyEvent(ctx, input)
	if err != nil || third.Outcome != constants.EventOutcomeDuplicate {
		t.Fatalf("applied event should now be a duplicate, got %+v err=%v", third, err)
	}
}

func TestMongoDonorAdjustmentLedger(t *testing.T) {
	db := setupMongoIntegrationDB(t)
	ctx := context.Background()
	repo := NewMongoDonorRepository(db)

	for i := 0; i < 3; i++ {
		if _, err := repo.ApplyAdjustment(ctx, DonorAdjustmentInput{
			Email:     "Mongo@Example.org",
			Name:      "Mo",
			Delta:     700,
			SourceKey: "rec-m:evt-m",
		}); err != nil {
			t.Fatalf("apply adjustment failed: %v", err)
		}
	}
	if _, err := repo.ApplyAdjustment(ctx, DonorAdjustmentInput{Email: "mongo@example.org", Delta: -1000, SourceKey: "rec-m:evt-r"}); err != nil {
		t.Fatalf("apply refund failed: %v", err)
	}
	donor, err := repo.GetByEmail(ctx, "mongo@example.org")
	if err != nil || donor == nil {
		t.Fatalf("get donor failed: %v", err)
	}
	if donor.TotalDonated != 0 || donor.DonationCount != 1 {
		t.Fatalf("unexpected donor: %+v", donor)
	}

	if err := repo.ReplaceAll(ctx, []DonorTotal{{Email: "mongo@example.org", TotalDonated: 700, DonationCount: 1}}); err != nil {
		t.Fatalf("replace all failed: %v", err)
	}
	applied, err := repo.ApplyAdjustment(ctx, DonorAdjustmentInput{Email: "mongo@example.org", Delta: 700, SourceKey: "rec-m:evt-m"})
	if err != nil || applied {
		t.Fatalf("applied keys must survive rebuild: applied=%v err=%v", applied, err)
	}
}
