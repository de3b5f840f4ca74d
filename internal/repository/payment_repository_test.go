package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func setupPaymentRecordRepositoryTest(t *testing.T) (*GormPaymentRecordRepository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_record_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	return NewPaymentRecordRepository(db), db
}

func newPendingRecord(sessionID string) *models.PaymentRecord {
	return &models.PaymentRecord{
		ID:               uuid.NewString(),
		Flow:             constants.CheckoutFlowSession,
		GatewaySessionID: models.StringPtr(sessionID),
		Amount:           2500,
		Currency:         "usd",
		Interval:         constants.DonationIntervalOneTime,
		Status:           constants.PaymentStatusPending,
		CustomerEmail:    "Donor@Example.org",
		CustomerName:     "Dana Donor",
		Metadata:         models.JSON{constants.MetadataSource: "newsletter"},
		IdempotencyKey:   uuid.NewString(),
	}
}

func markSucceeded(at time.Time) func(record *models.PaymentRecord) bool {
	return func(record *models.PaymentRecord) bool {
		if record.Status != constants.PaymentStatusPending && record.Status != constants.PaymentStatusProcessing {
			return false
		}
		record.Status = constants.PaymentStatusSucceeded
		record.PaidAt = &at
		return true
	}
}

func TestPaymentRecordRepositoryLookups(t *testing.T) {
	repo, _ := setupPaymentRecordRepositoryTest(t)
	ctx := context.Background()
	record := newPendingRecord("cs_test_lookup")
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create record failed: %v", err)
	}

	bySession, err := repo.GetBySessionID(ctx, "cs_test_lookup")
	if err != nil || bySession == nil || bySession.ID != record.ID {
		t.Fatalf("lookup by session failed: %+v err=%v", bySession, err)
	}
	byKey, err := repo.GetByIdempotencyKey(ctx, record.IdempotencyKey)
	if err != nil || byKey == nil || byKey.ID != record.ID {
		t.Fatalf("lookup by idempotency key failed: %+v err=%v", byKey, err)
	}
	if byKey.Metadata[constants.MetadataSource] != "newsletter" {
		t.Fatalf("metadata not persisted: %+v", byKey.Metadata)
	}
	missing, err := repo.GetByPaymentIntentID(ctx, "pi_missing")
	if err != nil || missing != nil {
		t.Fatalf("missing record should return nil,nil: %+v err=%v", missing, err)
	}
	blank, err := repo.GetByID(ctx, "  ")
	if err != nil || blank != nil {
		t.Fatalf("blank id should return nil,nil")
	}
}

func TestPaymentRecordRepositoryAttachGatewayRefsSetOnce(t *testing.T) {
	repo, _ := setupPaymentRecordRepositoryTest(t)
	ctx := context.Background()
	record := newPendingRecord("cs_test_refs")
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create record failed: %v", err)
	}

	if err := repo.AttachGatewayRefs(ctx, record.ID, GatewayRefs{
		SessionID:       "cs_other",
		PaymentIntentID: "pi_first",
	}); err != nil {
		t.Fatalf("attach refs failed: %v", err)
	}
	if err := repo.AttachGatewayRefs(ctx, record.ID, GatewayRefs{PaymentIntentID: "pi_second"}); err != nil {
		t.Fatalf("attach refs again failed: %v", err)
	}

	got, err := repo.GetByID(ctx, record.ID)
	if err != nil || got == nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got.SessionID() != "cs_test_refs" {
		t.Fatalf("session id must not be overwritten, got %s", got.SessionID())
	}
	if got.PaymentIntentID() != "pi_first" {
		t.Fatalf("payment intent should be set once, got %s", got.PaymentIntentID())
	}
}

func TestPaymentRecordRepositoryReevaluatesSkippedEvent(t *testing.T) {
	repo, _ := setupPaymentRecordRepositoryTest(t)
	ctx := context.Background()
	record := newPendingRecord("cs_test_reeval")
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create record failed: %v", err)
	}

	ready := false
	input := ApplyEventInput{
		RecordID:  record.ID,
		EventID:   "evt_early",
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
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if second.Outcome != constants.EventOutcomeApplied || second.After.Status != constants.PaymentStatusRefunded {
		t.Fatalf("skipped event should apply on redelivery, got %+v", second)
	}

	third, err := repo.ApplyEvent(ctx, input)
	if err != nil || third.Outcome != constants.EventOutcomeDuplicate {
		t.Fatalf("applied event should now be a duplicate, got %+v err=%v", third, err)
	}

	events, err := repo.ListEvents(ctx, record.ID)
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(events) != 1 || events[0].Outcome != constants.EventOutcomeApplied {
		t.Fatalf("ledger should keep one applied entry, got %+v", events)
	}
}

func TestPaymentRecordRepositoryApplyEventIsIdempotent(t *testing.T) {
	repo, _ := setupPaymentRecordRepositoryTest(t)
	ctx := context.Background()
	record := newPendingRecord("cs_test_apply")
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create record failed: %v", err)
	}
	paidAt := time.Now().UTC().Truncate(time.Second)

	first, err := repo.ApplyEvent(ctx, ApplyEventInput{
		RecordID:  record.ID,
		EventID:   "evt_1",
		EventType: constants.StripeEventCheckoutSessionCompleted,
		Mutate:    markSucceeded(paidAt),
	})
	if err != nil {
		t.Fatalf("apply event failed: %v", err)
	}
	if first.Outcome != constants.EventOutcomeApplied || !first.Changed() {
		t.Fatalf("first delivery should apply, got %s", first.Outcome)
	}
	if first.Before.Status != constants.PaymentStatusPending || first.After.Status != constants.PaymentStatusSucceeded {
		t.Fatalf("unexpected transition: %s -> %s", first.Before.Status, first.After.Status)
	}

	calls := 0
	second, err := repo.ApplyEvent(ctx, ApplyEventInput{
		RecordID:  record.ID,
		EventID:   "evt_1",
		EventType: constants.StripeEventCheckoutSessionCompleted,
		Mutate: func(record *models.PaymentRecord) bool {
			calls++
			return true
		},
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if second.Outcome != constants.EventOutcomeDuplicate || calls != 0 {
		t.Fatalf("duplicate delivery must not mutate, outcome=%s calls=%d", second.Outcome, calls)
	}

	skipped, err := repo.ApplyEvent(ctx, ApplyEventInput{
		RecordID:  record.ID,
		EventID:   "evt_2",
		EventType: constants.StripeEventPaymentIntentSucceeded,
		Mutate:    markSucceeded(paidAt),
	})
	if err != nil {
		t.Fatalf("apply second event failed: %v", err)
	}
	if skipped.Outcome != constants.EventOutcomeSkipped {
		t.Fatalf("no-op transition should be skipped, got %s", skipped.Outcome)
	}

	events, err := repo.ListEvents(ctx, record.ID)
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ledger should hold two events, got %d", len(events))
	}
	if events[0].EventID != "evt_1" || events[0].Outcome != constants.EventOutcomeApplied {
		t.Fatalf("unexpected first ledger entry: %+v", events[0])
	}
	if events[1].Outcome != constants.EventOutcomeSkipped {
		t.Fatalf("unexpected second ledger entry: %+v", events[1])
	}

	missing, err := repo.ApplyEvent(ctx, ApplyEventInput{RecordID: "unknown", EventID: "evt_3"})
	if err != nil || missing != nil {
		t.Fatalf("unknown record should return nil,nil: %+v err=%v", missing, err)
	}
	if _, err := repo.ApplyEvent(ctx, ApplyEventInput{RecordID: record.ID}); err != ErrInvalidEventInput {
		t.Fatalf("missing event id should fail, got %v", err)
	}
}

func TestPaymentRecordRepositoryApplyEventConcurrentDeliveries(t *testing.T) {
	repo, _ := setupPaymentRecordRepositoryTest(t)
	ctx := context.Background()
	record := newPendingRecord("cs_test_concurrent")
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create record failed: %v", err)
	}
	paidAt := time.Now().UTC()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := repo.ApplyEvent(ctx, ApplyEventInput{
				RecordID:  record.ID,
				EventID:   "evt_same",
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
}

func TestPaymentRecordRepositoryListAdminAndAggregate(t *testing.T) {
	repo, db := setupPaymentRecordRepositoryTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	earlier := now.Add(-48 * time.Hour)

	paid := newPendingRecord("cs_list_1")
	paid.Status = constants.PaymentStatusSucceeded
	paid.PaidAt = &earlier
	paid.CustomerName = "Old Name"

	refunded := newPendingRecord("cs_list_2")
	refunded.CustomerEmail = "donor@example.org"
	refunded.Status = constants.PaymentStatusPartiallyRefunded
	refunded.Amount = 5000
	refunded.RefundedAmount = 2000
	refunded.PaidAt = &now
	refunded.CustomerName = "New Name"

	pending := newPendingRecord("cs_list_3")
	pending.CustomerEmail = "other@example.org"
	pending.Metadata = models.JSON{constants.MetadataSource: "gala"}

	for _, record := range []*models.PaymentRecord{paid, refunded, pending} {
		if err := repo.Create(ctx, record); err != nil {
			t.Fatalf("create record failed: %v", err)
		}
	}
	if err := db.Model(&models.PaymentRecord{}).Where("id = ?", pending.ID).Update("created_at", now.Add(time.Hour)).Error; err != nil {
		t.Fatalf("update created_at failed: %v", err)
	}

	list, total, err := repo.ListAdmin(ctx, PaymentRecordListFilter{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list admin failed: %v", err)
	}
	if total != 3 || len(list) != 3 || list[0].ID != pending.ID {
		t.Fatalf("unexpected list result total=%d len=%d", total, len(list))
	}

	bySource, total, err := repo.ListAdmin(ctx, PaymentRecordListFilter{Source: "gala"})
	if err != nil || total != 1 || bySource[0].ID != pending.ID {
		t.Fatalf("source filter failed total=%d err=%v", total, err)
	}

	bySearch, total, err := repo.ListAdmin(ctx, PaymentRecordListFilter{Search: "cs_list_2"})
	if err != nil || total != 1 || bySearch[0].ID != refunded.ID {
		t.Fatalf("search filter failed total=%d err=%v", total, err)
	}

	byEmail, total, err := repo.ListAdmin(ctx, PaymentRecordListFilter{Email: "DONOR@example.org", Status: constants.PaymentStatusSucceeded})
	if err != nil || total != 1 || byEmail[0].ID != paid.ID {
		t.Fatalf("email filter failed total=%d err=%v", total, err)
	}

	totals, err := repo.AggregateDonors(ctx)
	if err != nil {
		t.Fatalf("aggregate donors failed: %v", err)
	}
	if len(totals) != 1 {
		t.Fatalf("only paid records should be aggregated, got %d", len(totals))
	}
	donor := totals[0]
	if donor.Email != "donor@example.org" || donor.TotalDonated != 5500 || donor.DonationCount != 2 {
		t.Fatalf("unexpected aggregate: %+v", donor)
	}
	if donor.Name != "New Name" || donor.LastDonationDate == nil || !donor.LastDonationDate.Equal(now) {
		t.Fatalf("latest donation should win name and date: %+v", donor)
	}
}
