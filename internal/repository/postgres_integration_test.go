//go:build integration
// +build integration

package repository

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresIntegrationDB 初始化 PostgreSQL 集成测试数据库。
func setupPostgresIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("skip postgres integration test: TEST_POSTGRES_DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}

	cleanupModels := []interface{}{
		&models.PaymentRecordEvent{},
		&models.PaymentRecord{},
		&models.DonorAdjustment{},
		&models.Donor{},
	}
	_ = db.Migrator().DropTable(cleanupModels...)

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate postgres models failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Migrator().DropTable(cleanupModels...)
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func TestPostgresPaymentRecordLedgerAndSearch(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	ctx := context.Background()
	repo := NewPaymentRecordRepository(db)

	record := newPendingRecord("cs_pg_ledger")
	record.Metadata = models.JSON{constants.MetadataSource: "Spring Appeal"}
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create record failed: %v", err)
	}

	paidAt := time.Now().UTC()
	first, err := repo.ApplyEvent(ctx, ApplyEventInput{
		RecordID:  record.ID,
		EventID:   "evt_pg_1",
		EventType: constants.StripeEventCheckoutSessionCompleted,
		Mutate:    markSucceeded(paidAt),
	})
	if err != nil || !first.Changed() {
		t.Fatalf("first delivery should apply: %+v err=%v", first, err)
	}
	again, err := repo.ApplyEvent(ctx, ApplyEventInput{
		RecordID:  record.ID,
		EventID:   "evt_pg_1",
		EventType: constants.StripeEventCheckoutSessionCompleted,
		Mutate:    markSucceeded(paidAt),
	})
	if err != nil || again.Outcome != constants.EventOutcomeDuplicate {
		t.Fatalf("duplicate delivery should be detected: %+v err=%v", again, err)
	}

	rows, total, err := repo.ListAdmin(ctx, PaymentRecordListFilter{Search: "DONOR@", Source: "Spring Appeal"})
	if err != nil {
		t.Fatalf("list admin failed: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("ILIKE search want 1 got total=%d len=%d", total, len(rows))
	}
}

func TestPostgresDonorAdjustmentLedger(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	ctx := context.Background()
	repo := NewDonorRepository(db)

	for i := 0; i < 2; i++ {
		if _, err := repo.ApplyAdjustment(ctx, DonorAdjustmentInput{
			Email:     "pg@example.org",
			Delta:     1200,
			SourceKey: "rec-pg:evt-pg",
		}); err != nil {
			t.Fatalf("apply adjustment failed: %v", err)
		}
	}
	donor, err := repo.GetByEmail(ctx, "pg@example.org")
	if err != nil || donor == nil {
		t.Fatalf("get donor failed: %v", err)
	}
	if donor.TotalDonated != 1200 || donor.DonationCount != 1 {
		t.Fatalf("duplicate adjustment applied twice: %+v", donor)
	}
}
