package admin

import (
	"errors"
	"strings"

	"github.com/harvesttable/donations/internal/http/response"
	"github.com/harvesttable/donations/internal/service"

	"github.com/gin-gonic/gin"
)

// LoginRequest 管理员登录请求
type LoginRequest struct {
	Username       string                       `json:"username" binding:"required"`
	Password       string                       `json:"password" binding:"required"`
	CaptchaPayload service.CaptchaVerifyPayload `json:"captcha_payload"`
}

// GetCaptcha 获取登录图片验证码，未启用时返回 enabled=false
func (h *Handler) GetCaptcha(c *gin.Context) {
	if !h.CaptchaService.Enabled() {
		response.Success(c, gin.H{"enabled": false})
		return
	}
	challenge, err := h.CaptchaService.GenerateImageChallenge()
	if err != nil {
		respondError(c, response.CodeInternal, "generate captcha failed", err)
		return
	}
	response.Success(c, gin.H{
		"enabled":      true,
		"captcha_id":   challenge.CaptchaID,
		"image_base64": challenge.ImageBase64,
	})
}

// Login 管理员登录
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if err := h.CaptchaService.Verify(req.CaptchaPayload); err != nil {
		switch {
		case errors.Is(err, service.ErrCaptchaRequired):
			response.ErrorWithData(c, response.CodeBadRequest, "captcha required", gin.H{"captcha_required": true})
		case errors.Is(err, service.ErrCaptchaInvalid):
			requestLog(c).Warnw("admin_login_captcha_invalid", "username", req.Username, "client_ip", c.ClientIP())
			response.ErrorWithData(c, response.CodeBadRequest, "invalid captcha", gin.H{"captcha_required": true})
		default:
			respondError(c, response.CodeInternal, "captcha verify failed", err)
		}
		return
	}
	token, expiresAt, err := h.AuthService.Login(strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			requestLog(c).Warnw("admin_login_failed", "username", req.Username, "client_ip", c.ClientIP())
			respondError(c, response.CodeUnauthorized, "invalid username or password", nil)
		case errors.Is(err, service.ErrAdminNotConfigured):
			respondError(c, response.CodeServiceUnavailable, "admin login is not configured", nil)
		default:
			respondError(c, response.CodeInternal, "login failed", err)
		}
		return
	}
	requestLog(c).Infow("admin_login_succeeded", "username", req.Username, "client_ip", c.ClientIP())
	response.Success(c, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	})
}

// GetMe 当前管理员身份与生效权限
func (h *Handler) GetMe(c *gin.Context) {
	username, ok := getAdminUsername(c)
	if !ok {
		return
	}
	roles, err := h.Authz.GetAdminRoles(username)
	if err != nil {
		respondError(c, response.CodeInternal, "load admin roles failed", err)
		return
	}
	policies, err := h.Authz.GetAdminPolicies(username)
	if err != nil {
		respondError(c, response.CodeInternal, "load admin permissions failed", err)
		return
	}
	response.Success(c, gin.H{
		"username":    username,
		"role":        getAdminRole(c),
		"roles":       roles,
		"permissions": policies,
	})
}
