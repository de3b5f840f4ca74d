package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWebhookEventCounter(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.WebhookEvent("checkout.session.completed", OutcomeApplied)
	m.WebhookEvent("checkout.session.completed", OutcomeApplied)
	m.WebhookEvent("checkout.session.completed", OutcomeDuplicate)

	if got := testutil.ToFloat64(m.webhookEvents.WithLabelValues("checkout.session.completed", OutcomeApplied)); got != 2 {
		t.Fatalf("expected 2 applied events, got %v", got)
	}
	if got := testutil.ToFloat64(m.webhookEvents.WithLabelValues("checkout.session.completed", OutcomeDuplicate)); got != 1 {
		t.Fatalf("expected 1 duplicate event, got %v", got)
	}
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := New(registry)
	second := New(registry)
	first.DonorAdjustment(-500, OutcomeApplied)
	second.DonorAdjustment(-200, OutcomeApplied)

	if got := testutil.ToFloat64(first.donorAdjustments.WithLabelValues("debit", OutcomeApplied)); got != 2 {
		t.Fatalf("expected shared collector count 2, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.WebhookEvent("x", OutcomeApplied)
	m.CheckoutCreated("checkout", "one_time")
	m.DonationSucceeded("usd", "one_time", 100)
}

func TestGinMiddlewareObservesRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/donation-session/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/donation-session/abc", nil))

	if count := testutil.CollectAndCount(m.httpDuration); count != 1 {
		t.Fatalf("expected one observed series, got %d", count)
	}
}
