package admin

import (
	"errors"
	"strings"
	"time"

	handlershared "github.com/harvesttable/donations/internal/http/handlers/shared"
	"github.com/harvesttable/donations/internal/http/response"
	"github.com/harvesttable/donations/internal/repository"
	"github.com/harvesttable/donations/internal/service"

	"github.com/gin-gonic/gin"
)

// GetDonations 捐款记录列表
func (h *Handler) GetDonations(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	filter := repository.PaymentRecordListFilter{
		Page:     page,
		PageSize: pageSize,
		Status:   c.Query("status"),
		Interval: c.Query("interval"),
		Currency: c.Query("currency"),
		Email:    c.Query("email"),
		Search:   strings.TrimSpace(c.Query("search")),
		Source:   strings.TrimSpace(c.Query("source")),
	}
	var err error
	if filter.CreatedFrom, err = parseTimeQuery(c, "created_from"); err != nil {
		response.BadRequest(c, "invalid created_from")
		return
	}
	if filter.CreatedTo, err = parseTimeQuery(c, "created_to"); err != nil {
		response.BadRequest(c, "invalid created_to")
		return
	}

	records, total, err := h.DonationAdminService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, response.CodeInternal, "donation list failed", err)
		return
	}
	response.SuccessWithPage(c, records, response.BuildPagination(page, pageSize, total))
}

// GetDonation 捐款详情，含事件台账
func (h *Handler) GetDonation(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.BadRequest(c, "invalid id")
		return
	}
	detail, err := h.DonationAdminService.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrDonationNotFound) {
			response.NotFound(c, "donation not found")
			return
		}
		respondError(c, response.CodeInternal, "donation fetch failed", err)
		return
	}
	response.Success(c, detail)
}

// parseTimeQuery 支持 RFC3339 与 2006-01-02
func parseTimeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return &parsed, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
