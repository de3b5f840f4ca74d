package public

import (
	"errors"

	"github.com/harvesttable/donations/internal/http/response"
	"github.com/harvesttable/donations/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.msg, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

var checkoutErrorRules = []mappedHandlerError{
	{target: service.ErrInvalidDonationAmount, code: response.CodeBadRequest, msg: "invalid donation amount"},
	{target: service.ErrInvalidCurrency, code: response.CodeBadRequest, msg: "unsupported currency"},
	{target: service.ErrInvalidInterval, code: response.CodeBadRequest, msg: "invalid interval"},
	{target: service.ErrInvalidEmail, code: response.CodeBadRequest, msg: "invalid email"},
	{target: service.ErrInvalidCheckoutMode, code: response.CodeBadRequest, msg: "invalid checkout mode"},
	{target: service.ErrInvalidMetadata, code: response.CodeBadRequest, msg: "invalid metadata"},
	{target: service.ErrInvalidIdempotencyKey, code: response.CodeBadRequest, msg: "invalid idempotency key"},
	{target: service.ErrIdempotencyKeyConflict, code: response.CodeConflict, msg: "idempotency key reused with different parameters"},
	{target: service.ErrPaymentGatewayRejected, code: response.CodeBadGateway, msg: "payment provider rejected the request"},
	{target: service.ErrPaymentGatewayRequestFailed, code: response.CodeBadGateway, msg: "payment provider unavailable"},
	{target: service.ErrPaymentGatewayNotConfigured, code: response.CodeServiceUnavailable, msg: "payments are not configured"},
}

var donationSessionErrorRules = []mappedHandlerError{
	{target: service.ErrDonationNotFound, code: response.CodeNotFound, msg: "donation not found"},
}

func respondCheckoutError(c *gin.Context, err error) {
	respondWithMappedError(c, err, checkoutErrorRules, response.CodeInternal, "checkout failed")
}

func respondDonationSessionError(c *gin.Context, err error) {
	respondWithMappedError(c, err, donationSessionErrorRules, response.CodeInternal, "donation lookup failed")
}
