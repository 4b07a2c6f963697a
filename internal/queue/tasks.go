package queue

import (
	"encoding/json"

	"github.com/referral-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskPurchaseEvent 购买事件任务
	TaskPurchaseEvent = constants.TaskPurchaseEvent
	// TaskVerificationEvent 账号验证事件任务
	TaskVerificationEvent = constants.TaskVerificationEvent
)

// PurchaseEventPayload 购买事件载荷
type PurchaseEventPayload struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	ProductSlug string `json:"product_slug"`
}

// VerificationEventPayload 账号验证事件载荷
type VerificationEventPayload struct {
	UserID            string `json:"user_id"`
	ExternalAccountID string `json:"external_account_id"`
	ExistingLinkCount int64  `json:"existing_link_count"`
}

// NewPurchaseEventTask 创建购买事件任务
func NewPurchaseEventTask(payload PurchaseEventPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPurchaseEvent, body), nil
}

// NewVerificationEventTask 创建账号验证事件任务
func NewVerificationEventTask(payload VerificationEventPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVerificationEvent, body), nil
}
