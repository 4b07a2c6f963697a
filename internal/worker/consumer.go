package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/referral-next/internal/logger"
	"github.com/referral-next/internal/provider"
	"github.com/referral-next/internal/queue"

	"github.com/hibiken/asynq"
)

// Consumer 事件消费者。
// 两类事件流独立订阅；投递语义为至少一次，
// 重投安全性由奖励服务的幂等保证（本地标记 + 账本引用），不依赖传输层。
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskPurchaseEvent, c.handlePurchaseEvent)
	mux.HandleFunc(queue.TaskVerificationEvent, c.handleVerificationEvent)
}

func (c *Consumer) handlePurchaseEvent(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.PurchaseEventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// 结构损坏的事件重试也不会成功，记录后丢弃，避免毒消息卡死队列
		logger.Errorw("worker_purchase_event_malformed", "error", err)
		return fmt.Errorf("malformed purchase event: %v: %w", err, asynq.SkipRetry)
	}
	if strings.TrimSpace(payload.UserID) == "" {
		logger.Errorw("worker_purchase_event_missing_user", "reference", payload.Reference)
		return fmt.Errorf("purchase event without user id: %w", asynq.SkipRetry)
	}
	if err := c.ReferralService.OnFirstPurchase(ctx, payload.UserID, payload.Amount, payload.Reference, payload.ProductSlug); err != nil {
		logger.Errorw("worker_purchase_event_failed",
			"user", payload.UserID,
			"reference", payload.Reference,
			"error", err,
		)
		return err
	}
	return nil
}

func (c *Consumer) handleVerificationEvent(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.VerificationEventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Errorw("worker_verification_event_malformed", "error", err)
		return fmt.Errorf("malformed verification event: %v: %w", err, asynq.SkipRetry)
	}
	if strings.TrimSpace(payload.UserID) == "" {
		logger.Errorw("worker_verification_event_missing_user", "external_account", payload.ExternalAccountID)
		return fmt.Errorf("verification event without user id: %w", asynq.SkipRetry)
	}
	if err := c.ReferralService.OnVerified(ctx, payload.UserID, payload.ExternalAccountID, payload.ExistingLinkCount); err != nil {
		logger.Errorw("worker_verification_event_failed",
			"user", payload.UserID,
			"external_account", payload.ExternalAccountID,
			"error", err,
		)
		return err
	}
	return nil
}
