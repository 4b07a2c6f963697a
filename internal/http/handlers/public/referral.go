package public

import (
	"errors"

	"github.com/referral-next/internal/http/response"
	"github.com/referral-next/internal/service"

	"github.com/gin-gonic/gin"
)

// RegisterLinkRequest 邀请关系登记请求
type RegisterLinkRequest struct {
	InvitedUserID string `json:"invited_user_id" binding:"required"`
}

// RegisterLink 登记邀请关系
func (h *Handler) RegisterLink(c *gin.Context) {
	inviterID := c.Param("userId")
	var req RegisterLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", err)
		return
	}

	rec, err := h.ReferralService.RegisterLink(inviterID, req.InvitedUserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAlreadyInvited):
			respondError(c, response.CodeBadRequest, "referral link already used", nil)
		case errors.Is(err, service.ErrSelfReferral):
			respondError(c, response.CodeBadRequest, "cannot refer yourself", nil)
		case errors.Is(err, service.ErrInvalidUserID):
			respondError(c, response.CodeBadRequest, "invalid user id", nil)
		default:
			respondError(c, response.CodeInternal, "register referral failed", err)
		}
		return
	}
	response.Success(c, rec)
}

// GetRefInfo 查询用户邀请信息
func (h *Handler) GetRefInfo(c *gin.Context) {
	userID := c.Param("userId")
	info, err := h.ReferralService.GetRefInfo(userID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidUserID) {
			respondError(c, response.CodeBadRequest, "invalid user id", nil)
			return
		}
		respondError(c, response.CodeInternal, "fetch referral info failed", err)
		return
	}
	response.Success(c, info)
}
