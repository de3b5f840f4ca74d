package admin

import (
	"strings"

	handlershared "github.com/harvesttable/donations/internal/http/handlers/shared"
	"github.com/harvesttable/donations/internal/http/response"
	"github.com/harvesttable/donations/internal/repository"

	"github.com/gin-gonic/gin"
)

// GetDonors 捐赠人汇总列表
func (h *Handler) GetDonors(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	search := strings.TrimSpace(c.Query("email"))
	if search == "" {
		search = strings.TrimSpace(c.Query("search"))
	}
	donors, total, err := h.DonorService.List(c.Request.Context(), repository.DonorListFilter{
		Page:     page,
		PageSize: pageSize,
		Search:   search,
		OrderBy:  strings.TrimSpace(c.Query("order_by")),
	})
	if err != nil {
		respondError(c, response.CodeInternal, "donor list failed", err)
		return
	}
	response.SuccessWithPage(c, donors, response.BuildPagination(page, pageSize, total))
}

// RebuildDonors 由捐款记录重建捐赠人汇总
func (h *Handler) RebuildDonors(c *gin.Context) {
	username, ok := getAdminUsername(c)
	if !ok {
		return
	}
	queued, count, err := h.DonorService.RequestRebuild(c.Request.Context(), username)
	if err != nil {
		respondError(c, response.CodeInternal, "donor rebuild failed", err)
		return
	}
	requestLog(c).Infow("admin_donor_rebuild_requested", "username", username, "queued", queued, "donors", count)
	msg := "donor rebuild completed"
	if queued {
		msg = "donor rebuild queued"
	}
	response.SuccessWithMsg(c, msg, gin.H{
		"queued": queued,
		"donors": count,
	})
}
