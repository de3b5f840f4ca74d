package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestSetDefaultsUnmarshal(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal defaults failed: %v", err)
	}
	if cfg.Donation.MinAmount != 100 || cfg.Donation.MaxAmount != 1000000 {
		t.Fatalf("unexpected donation bounds: %+v", cfg.Donation)
	}
	if cfg.Database.UseMongo() {
		t.Fatalf("default payment store should be sql")
	}
	if cfg.Stripe.WebhookToleranceSeconds != 300 {
		t.Fatalf("unexpected webhook tolerance: %d", cfg.Stripe.WebhookToleranceSeconds)
	}
	if cfg.Queue.Queues["critical"] != 5 {
		t.Fatalf("unexpected queue weights: %+v", cfg.Queue.Queues)
	}
}

func TestDonationConfigNormalize(t *testing.T) {
	cfg := DonationConfig{
		MinAmount:         0,
		MaxAmount:         50,
		AllowedCurrencies: []string{" USD ", "usd", "eur", "dollars", ""},
	}
	cfg.normalize()

	if cfg.MinAmount != 100 {
		t.Fatalf("min amount want 100 got %d", cfg.MinAmount)
	}
	if cfg.MaxAmount != 100 {
		t.Fatalf("max amount should be raised to min, got %d", cfg.MaxAmount)
	}
	if len(cfg.AllowedCurrencies) != 2 || cfg.AllowedCurrencies[0] != "usd" || cfg.AllowedCurrencies[1] != "eur" {
		t.Fatalf("unexpected currencies: %v", cfg.AllowedCurrencies)
	}

	empty := DonationConfig{}
	empty.normalize()
	if len(empty.AllowedCurrencies) != 1 || empty.AllowedCurrencies[0] != "usd" {
		t.Fatalf("empty currencies should fall back to usd, got %v", empty.AllowedCurrencies)
	}
}

func TestDatabaseConfigUseMongo(t *testing.T) {
	if !(DatabaseConfig{PaymentStore: " Mongo "}).UseMongo() {
		t.Fatalf("expected mongo store")
	}
	if (DatabaseConfig{PaymentStore: "sql"}).UseMongo() {
		t.Fatalf("expected sql store")
	}
}

func TestAdminConfigAllAccounts(t *testing.T) {
	cfg := AdminConfig{
		Username:     "admin",
		PasswordHash: "hash-a",
		Accounts: []AdminAccountConfig{
			{Username: " auditor ", PasswordHash: "hash-b"},
			{Username: "ops", PasswordHash: "hash-c", Role: " Operator "},
			{Username: "admin", PasswordHash: "hash-d", Role: "readonly_auditor"},
			{Username: "no-password"},
		},
	}
	accounts := cfg.AllAccounts()
	if len(accounts) != 3 {
		t.Fatalf("want 3 accounts got %d: %+v", len(accounts), accounts)
	}
	bindings := cfg.RoleBindings()
	if bindings["admin"] != AdminRoleOwner {
		t.Fatalf("primary account should default to owner, got %q", bindings["admin"])
	}
	if bindings["auditor"] != AdminRoleReadonlyAuditor {
		t.Fatalf("extra account should default to readonly_auditor, got %q", bindings["auditor"])
	}
	if bindings["ops"] != AdminRoleOperator {
		t.Fatalf("explicit role should be normalized, got %q", bindings["ops"])
	}
	if accounts[0].PasswordHash != "hash-a" {
		t.Fatalf("duplicate username must keep the first entry")
	}
}
