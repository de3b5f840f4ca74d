package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDonationSessionViewIsMasked(t *testing.T) {
	env := setupServiceTest(t)
	record := newSucceededRecord("pi_view", 2500)
	record.Metadata = map[string]interface{}{"source": "newsletter"}
	env.createRecord(t, record)
	svc := NewDonationSessionService(env.records, time.Second)

	byID, err := svc.Get(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("get by id failed: %v", err)
	}
	bySession, err := svc.Get(context.Background(), record.SessionID())
	if err != nil {
		t.Fatalf("get by session failed: %v", err)
	}
	if byID.ID != bySession.ID {
		t.Fatalf("lookups disagree: %s vs %s", byID.ID, bySession.ID)
	}
	if byID.Email != "j***@example.com" || byID.Name != "Jane" {
		t.Fatalf("unexpected masked donor: email=%s name=%s", byID.Email, byID.Name)
	}
	if byID.AmountDisplay != "25.00" || byID.Currency != "USD" || byID.CompletedAt == nil {
		t.Fatalf("unexpected view: %+v", byID)
	}

	body, err := json.Marshal(byID)
	if err != nil {
		t.Fatalf("marshal view failed: %v", err)
	}
	for _, secret := range []string{"pi_view", record.SessionID(), record.IdempotencyKey, "newsletter"} {
		if strings.Contains(string(body), secret) {
			t.Fatalf("view leaks %q: %s", secret, body)
		}
	}
}

func TestDonationSessionNotFound(t *testing.T) {
	env := setupServiceTest(t)
	svc := NewDonationSessionService(env.records, 0)
	for _, id := range []string{"", "cs_missing", "missing-id"} {
		if _, err := svc.Get(context.Background(), id); !errors.Is(err, ErrDonationNotFound) {
			t.Fatalf("expected ErrDonationNotFound for %q, got %v", id, err)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	tests := map[string]string{
		"jane@example.com":  "j***@example.com",
		" Ödön@example.hu ": "Ö***@example.hu",
		"no-at-sign":        "",
		"@example.com":      "",
		"":                  "",
	}
	for input, want := range tests {
		if got := maskEmail(input); got != want {
			t.Fatalf("maskEmail(%q) = %q, want %q", input, got, want)
		}
	}
}
