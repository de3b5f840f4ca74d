package public

import (
	"encoding/json"
	"strings"

	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/http/response"
	"github.com/harvesttable/donations/internal/service"

	"github.com/gin-gonic/gin"
)

const idempotencyKeyHeader = "Idempotency-Key"

// CreateDonationRequest 捐款下单请求
type CreateDonationRequest struct {
	Amount         json.Number       `json:"amount"`
	Currency       string            `json:"currency"`
	Interval       string            `json:"interval"`
	Email          string            `json:"email"`
	Name           string            `json:"name"`
	Mode           string            `json:"mode"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata"`
}

// CreateDonation 创建收银台会话或 PaymentIntent
func (h *Handler) CreateDonation(c *gin.Context) {
	var req CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	amount, err := req.Amount.Int64()
	if err != nil {
		respondCheckoutError(c, service.ErrInvalidDonationAmount)
		return
	}
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if header := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader)); header != "" {
		idempotencyKey = header
	}

	result, err := h.CheckoutService.CreateDonation(c.Request.Context(), service.CreateDonationInput{
		Amount:         amount,
		Currency:       req.Currency,
		Interval:       req.Interval,
		Email:          req.Email,
		Name:           req.Name,
		Mode:           req.Mode,
		IdempotencyKey: idempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		respondCheckoutError(c, err)
		return
	}

	if result.Flow == constants.CheckoutFlowIntent {
		c.JSON(200, gin.H{
			"recordId":     result.RecordID,
			"orderId":      result.PaymentIntentID,
			"clientSecret": result.ClientSecret,
		})
		return
	}
	c.JSON(200, gin.H{
		"recordId":    result.RecordID,
		"sessionId":   result.SessionID,
		"checkoutUrl": result.CheckoutURL,
	})
}

// GetDonationSession 感谢页查询捐款状态
func (h *Handler) GetDonationSession(c *gin.Context) {
	view, err := h.DonationSessionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDonationSessionError(c, err)
		return
	}
	c.JSON(200, view)
}
