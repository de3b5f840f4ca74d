package service

import (
	"context"
	"testing"
	"time"

	"github.com/harvesttable/donations/internal/constants"
)

func TestDonorApplyIsIdempotentAndFloored(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	applied, err := env.donorSvc.Apply(ctx, DonorAdjustment{Email: "Jane@Example.com", Delta: 2500, OccurredAt: at, SourceKey: "rec-1:evt_1"})
	if err != nil || !applied {
		t.Fatalf("first apply failed: applied=%v err=%v", applied, err)
	}
	applied, err = env.donorSvc.Apply(ctx, DonorAdjustment{Email: "jane@example.com", Delta: 2500, OccurredAt: at, SourceKey: "rec-1:evt_1"})
	if err != nil || applied {
		t.Fatalf("duplicate source key must be a no-op: applied=%v err=%v", applied, err)
	}
	donor, err := env.donorSvc.GetByEmail(ctx, "JANE@example.com")
	if err != nil || donor == nil {
		t.Fatalf("get donor failed: %v", err)
	}
	if donor.TotalDonated != 2500 || donor.DonationCount != 1 || donor.LastDonationDate == nil || !donor.LastDonationDate.Equal(at) {
		t.Fatalf("unexpected donor: %+v", donor)
	}

	if _, err := env.donorSvc.Apply(ctx, DonorAdjustment{Email: "jane@example.com", Delta: -4000, OccurredAt: at.Add(time.Hour), SourceKey: "rec-1:evt_2"}); err != nil {
		t.Fatalf("refund apply failed: %v", err)
	}
	if total := env.donorTotal(t, "jane@example.com"); total != 0 {
		t.Fatalf("expected total floored at 0, got %d", total)
	}
}

func TestDonorApplySkipsBlankEmail(t *testing.T) {
	env := setupServiceTest(t)
	applied, err := env.donorSvc.Apply(context.Background(), DonorAdjustment{Email: "  ", Delta: 2500, SourceKey: "rec-2:evt_1"})
	if err != nil || applied {
		t.Fatalf("blank email must be skipped: applied=%v err=%v", applied, err)
	}
	var count int64
	if err := env.db.Table("donors").Count(&count).Error; err != nil {
		t.Fatalf("count donors failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no donors, got %d", count)
	}
}

func TestDonorRebuildRecomputesFromRecords(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()

	paid := newSucceededRecord("pi_rebuild_1", 5000)
	paid.RefundedAmount = 1000
	paid.Status = constants.PaymentStatusPartiallyRefunded
	env.createRecord(t, paid)
	env.createRecord(t, newSucceededRecord("pi_rebuild_2", 2500))
	env.createRecord(t, newTestRecord("cs_rebuild_pending", 9900))

	if _, err := env.donorSvc.Apply(ctx, DonorAdjustment{Email: "jane@example.com", Delta: 123, SourceKey: "drift"}); err != nil {
		t.Fatalf("seed drift failed: %v", err)
	}

	queued, count, err := env.donorSvc.RequestRebuild(ctx, "admin")
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if queued || count != 1 {
		t.Fatalf("expected synchronous rebuild of 1 donor, queued=%v count=%d", queued, count)
	}
	donor, err := env.donorSvc.GetByEmail(ctx, "jane@example.com")
	if err != nil || donor == nil {
		t.Fatalf("get donor failed: %v", err)
	}
	if donor.TotalDonated != 6500 || donor.DonationCount != 2 {
		t.Fatalf("unexpected rebuilt donor: %+v", donor)
	}
}

func TestDonorRequestRebuildQueued(t *testing.T) {
	env := setupServiceTest(t)
	env.queue.enabled = true
	queued, _, err := env.donorSvc.RequestRebuild(context.Background(), "admin")
	if err != nil || !queued {
		t.Fatalf("expected queued rebuild: queued=%v err=%v", queued, err)
	}
	if len(env.queue.rebuilds) != 1 || env.queue.rebuilds[0].RequestedBy != "admin" {
		t.Fatalf("unexpected rebuild tasks: %+v", env.queue.rebuilds)
	}
}
