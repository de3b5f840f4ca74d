package public

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/harvesttable/donations/internal/metrics"
	"github.com/harvesttable/donations/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	webhookBodyLimit      = 64 << 10
)

// StripeWebhook Stripe webhook 回调；验签通过后始终返回 200。
func (h *Handler) StripeWebhook(c *gin.Context) {
	log := requestLog(c)
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Metrics.WebhookRejected(metrics.RejectTooLarge)
			log.Warnw("stripe_webhook_body_too_large", "limit", webhookBodyLimit)
		} else {
			h.Metrics.WebhookRejected(metrics.RejectPayload)
			log.Warnw("stripe_webhook_body_read_failed", "error", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"received": false})
		return
	}
	signature := strings.TrimSpace(c.GetHeader(stripeSignatureHeader))
	log.Infow("stripe_webhook_received",
		"client_ip", c.ClientIP(),
		"body_size", len(body),
		"has_signature", signature != "",
	)

	outcome, err := h.ReconcileService.HandleWebhook(c.Request.Context(), body, signature)
	if err != nil {
		if errors.Is(err, service.ErrWebhookSignatureInvalid) {
			log.Warnw("stripe_webhook_signature_invalid", "error", err)
		} else {
			log.Errorw("stripe_webhook_handle_failed", "error", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"received": false})
		return
	}

	log.Infow("stripe_webhook_handled",
		"event_id", outcome.EventID,
		"event_type", outcome.EventType,
		"record_id", outcome.RecordID,
		"outcome", outcome.Outcome,
	)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
