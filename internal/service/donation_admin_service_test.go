package service

import (
	"context"
	"errors"
	"testing"

	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/models"
	"github.com/harvesttable/donations/internal/repository"
)

func TestDonationAdminServiceDetailIncludesLedger(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	record := env.createRecord(t, &models.PaymentRecord{
		ID:               "rec-admin",
		Flow:             constants.CheckoutFlowSession,
		GatewaySessionID: models.StringPtr("cs_admin"),
		Amount:           2500,
		Currency:         "usd",
		Interval:         constants.DonationIntervalOneTime,
		Status:           constants.PaymentStatusPending,
		CustomerEmail:    "jane@example.com",
		IdempotencyKey:   "ik-admin",
	})
	body, sig := signEvent(t, "evt_admin_1", constants.StripeEventCheckoutSessionCompleted, checkoutSessionObject("cs_admin", 2500, nil))
	if _, err := env.recon.HandleWebhook(ctx, body, sig); err != nil {
		t.Fatalf("handle webhook failed: %v", err)
	}

	svc := NewDonationAdminService(env.records)
	detail, err := svc.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("get detail failed: %v", err)
	}
	if detail.Record.Status != constants.PaymentStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", detail.Record.Status)
	}
	if len(detail.Events) != 1 || detail.Events[0].EventID != "evt_admin_1" {
		t.Fatalf("unexpected ledger: %+v", detail.Events)
	}

	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrDonationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	items, total, err := svc.List(ctx, repository.PaymentRecordListFilter{Page: 1, PageSize: 20, Status: " SUCCEEDED "})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != record.ID {
		t.Fatalf("unexpected list result: total=%d items=%d", total, len(items))
	}
}
