package public

import (
	"github.com/referral-next/internal/http/response"
	"github.com/referral-next/internal/queue"

	"github.com/gin-gonic/gin"
)

// PurchaseEventRequest 购买事件入队请求
type PurchaseEventRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Reference   string `json:"reference"`
	ProductSlug string `json:"product_slug"`
}

// VerificationEventRequest 账号验证事件入队请求
type VerificationEventRequest struct {
	UserID            string `json:"user_id" binding:"required"`
	ExternalAccountID string `json:"external_account_id" binding:"required"`
	ExistingLinkCount int64  `json:"existing_link_count"`
}

// IngestPurchaseEvent 接收购买事件并写入队列
func (h *Handler) IngestPurchaseEvent(c *gin.Context) {
	var req PurchaseEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", err)
		return
	}
	if h.QueueClient == nil || !h.QueueClient.Enabled() {
		respondError(c, response.CodeInternal, "event queue unavailable", nil)
		return
	}
	if err := h.QueueClient.EnqueuePurchaseEvent(queue.PurchaseEventPayload{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Reference:   req.Reference,
		ProductSlug: req.ProductSlug,
	}); err != nil {
		respondError(c, response.CodeInternal, "enqueue purchase event failed", err)
		return
	}
	response.Success(c, gin.H{"queued": true})
}

// IngestVerificationEvent 接收账号验证事件并写入队列
func (h *Handler) IngestVerificationEvent(c *gin.Context) {
	var req VerificationEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", err)
		return
	}
	if h.QueueClient == nil || !h.QueueClient.Enabled() {
		respondError(c, response.CodeInternal, "event queue unavailable", nil)
		return
	}
	if err := h.QueueClient.EnqueueVerificationEvent(queue.VerificationEventPayload{
		UserID:            req.UserID,
		ExternalAccountID: req.ExternalAccountID,
		ExistingLinkCount: req.ExistingLinkCount,
	}); err != nil {
		respondError(c, response.CodeInternal, "enqueue verification event failed", err)
		return
	}
	response.Success(c, gin.H{"queued": true})
}
