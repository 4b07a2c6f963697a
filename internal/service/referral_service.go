package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/referral-next/internal/config"
	"github.com/referral-next/internal/ledger"
	"github.com/referral-next/internal/logger"
	"github.com/referral-next/internal/models"
	"github.com/referral-next/internal/repository"

	"github.com/shopspring/decimal"
)

// ReferralService 邀请奖励核心服务。
// 每个 (被邀请人, 奖励类型) 组合是一个单向状态机：
// 未处理 -> 已处理（已支付 / 被抑制 / 无邀请人），打标后不再回退。
type ReferralService struct {
	repo      repository.ReferralRepository
	ledger    ledger.API
	cfg       config.ReferralConfig
	bonusRate decimal.Decimal
	excluded  map[string]struct{}
}

// NewReferralService 创建邀请奖励服务
func NewReferralService(repo repository.ReferralRepository, ledgerAPI ledger.API, cfg config.ReferralConfig) *ReferralService {
	rate, err := decimal.NewFromString(strings.TrimSpace(cfg.BonusRate))
	if err != nil || rate.LessThanOrEqual(decimal.Zero) {
		rate = decimal.RequireFromString("0.25")
	}
	excluded := make(map[string]struct{}, len(cfg.ExcludedProducts))
	for _, slug := range cfg.ExcludedProducts {
		slug = strings.TrimSpace(slug)
		if slug != "" {
			excluded[slug] = struct{}{}
		}
	}
	return &ReferralService{
		repo:      repo,
		ledger:    ledgerAPI,
		cfg:       cfg,
		bonusRate: rate,
		excluded:  excluded,
	}
}

// RegisterLink 登记邀请关系。
// 被邀请身份已有任何记录（含占位记录）时统一返回 ErrAlreadyInvited。
func (s *ReferralService) RegisterLink(inviterID, invitedID string) (*models.Referral, error) {
	inviterID = strings.TrimSpace(inviterID)
	invitedID = strings.TrimSpace(invitedID)
	if inviterID == "" || invitedID == "" {
		return nil, ErrInvalidUserID
	}
	if inviterID == invitedID {
		return nil, ErrSelfReferral
	}
	rec, err := s.repo.Create(&inviterID, invitedID)
	if err != nil {
		if errors.Is(err, repository.ErrInvitedExists) {
			return nil, ErrAlreadyInvited
		}
		return nil, err
	}
	logger.Infow("referral_link_registered", "inviter", inviterID, "invited", invitedID)
	return rec, nil
}

// GetRefInfo 查询用户的邀请信息：被谁邀请、邀请了谁
func (s *ReferralService) GetRefInfo(userID string) (*models.RefInfo, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	invitedBy, err := s.repo.GetByInvited(userID)
	if err != nil {
		return nil, err
	}
	referrals, err := s.repo.ListByInviter(userID)
	if err != nil {
		return nil, err
	}
	return &models.RefInfo{
		InvitedBy: invitedBy,
		Referrals: referrals,
	}, nil
}

// ResolveAndAward 处理一次奖励事件并保证恰好处理一次。
// 幂等性由两层独立保证：本地奖励标记 + 账本端幂等引用，
// 任意一层都可能在并发/重投时成为实际拦截方。
// 账本调用先于打标持久化；乐观并发冲突时整体重试。
func (s *ReferralService) ResolveAndAward(ctx context.Context, invitedUserID string, kind models.RewardKind, rewardSize int64) (*models.Referral, error) {
	invitedUserID = strings.TrimSpace(invitedUserID)
	if invitedUserID == "" {
		return nil, ErrInvalidUserID
	}

	maxAttempts := s.cfg.MaxConflictRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	for attempt := 0; attempt <= maxAttempts; attempt++ {
		rec, err := s.repo.GetByInvited(invitedUserID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// 无记录则创建占位记录（无邀请人），永久占住该身份，
			// 之后任何 RegisterLink 都无法再把它挂到某个邀请人名下
			rec, err = s.repo.Create(nil, invitedUserID)
			if errors.Is(err, repository.ErrInvitedExists) {
				// 并发创建，重读后继续
				continue
			}
			if err != nil {
				return nil, err
			}
			logger.Infow("referral_placeholder_created", "invited", invitedUserID, "kind", kind)
		}

		if rec.Flags.Has(kind) {
			// 已处理，终态
			return rec, nil
		}

		if kind == models.RewardFirstPurchase {
			rec.PurchaseAmount = s.inferPurchaseAmount(rewardSize)
		}

		if rec.HasInviter() {
			suppress, err := s.shouldSuppress(rec, kind)
			if err != nil {
				return nil, err
			}
			if suppress {
				logger.Warnw("referral_reward_suppressed",
					"inviter", rec.InviterID(),
					"invited", invitedUserID,
					"kind", kind,
				)
			} else {
				reference := fmt.Sprintf("%s+%s", invitedUserID, kind)
				err := s.ledger.TopUp(ctx, rec.InviterID(), s.cfg.BonusProduct, reference, rewardSize)
				if errors.Is(err, ledger.ErrDuplicateTransaction) {
					logger.Infow("referral_reward_already_paid",
						"inviter", rec.InviterID(),
						"reference", reference,
					)
				} else if err != nil {
					return nil, err
				} else {
					logger.Infow("referral_reward_paid",
						"inviter", rec.InviterID(),
						"invited", invitedUserID,
						"kind", kind,
						"amount", rewardSize,
					)
				}
			}
		}

		// 标记表示“已处理”，被抑制或无邀请人同样打标
		rec.Flags = rec.Flags.With(kind)
		if err := s.repo.Save(rec); err != nil {
			if errors.Is(err, repository.ErrConcurrentModification) {
				logger.Warnw("referral_award_conflict_retry",
					"invited", invitedUserID,
					"kind", kind,
					"attempt", attempt,
				)
				continue
			}
			return nil, err
		}
		return rec, nil
	}
	return nil, ErrTooManyConflicts
}

// OnFirstPurchase 首次购买事件入口。
// 购买的商品若是奖励体系自身的商品则跳过，避免奖励的连带购买再触发奖励。
func (s *ReferralService) OnFirstPurchase(ctx context.Context, userID string, amount int64, reference, productSlug string) error {
	if _, ok := s.excluded[strings.TrimSpace(productSlug)]; ok {
		logger.Debugw("referral_purchase_skip_internal_product",
			"user", userID,
			"product", productSlug,
			"reference", reference,
		)
		return nil
	}
	rewardSize := decimal.NewFromInt(amount).Abs().Mul(s.bonusRate).Round(0).IntPart()
	_, err := s.ResolveAndAward(ctx, userID, models.RewardFirstPurchase, rewardSize)
	return err
}

// OnVerified 账号验证事件入口。
// externalAccountID 已被其他内部账号绑定过时整体跳过，防止一个外部账号刷多份奖励。
func (s *ReferralService) OnVerified(ctx context.Context, userID, externalAccountID string, existingLinkCount int64) error {
	if existingLinkCount != 0 {
		logger.Infow("referral_verify_skip_linked_account",
			"user", userID,
			"external_account", externalAccountID,
			"existing_links", existingLinkCount,
		)
		return nil
	}

	if _, err := s.ResolveAndAward(ctx, userID, models.RewardVerified, s.cfg.VerifyRewardSize); err != nil {
		return err
	}

	// 给被邀请人自己的促销充值，引用为外部账号标识
	err := s.ledger.TopUp(ctx, userID, s.cfg.VerifyTopUpProduct, externalAccountID, s.cfg.VerifyPromoAmount)
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		logger.Infow("referral_verify_promo_already_paid", "user", userID, "reference", externalAccountID)
	} else if err != nil {
		return err
	}

	// 赠送临时高级商品；余额不足可恢复，不阻断事件处理
	reference := fmt.Sprintf("%s+%s", userID, s.cfg.PremiumProduct)
	err = s.ledger.PurchaseProduct(ctx, userID, s.cfg.PremiumProduct, reference)
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		logger.Warnw("referral_verify_premium_insufficient_balance", "user", userID)
		return nil
	}
	return err
}

// inferPurchaseAmount 由奖励额度反推原始购买金额（奖励比例的逆运算）
func (s *ReferralService) inferPurchaseAmount(rewardSize int64) int64 {
	if rewardSize <= 0 {
		return 0
	}
	return decimal.NewFromInt(rewardSize).Div(s.bonusRate).Round(0).IntPart()
}

// shouldSuppress 防刷节流。
// 仅针对验证奖励：邀请人 30 天窗口内已有 >= N 条打过标的其他记录，
// 且其中没有任何高额首购时，视为疑似批量刷小号，抑制本次支付。
func (s *ReferralService) shouldSuppress(rec *models.Referral, kind models.RewardKind) (bool, error) {
	if kind != models.RewardVerified {
		return false, nil
	}
	windowDays := s.cfg.ThrottleWindowDays
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().AddDate(0, 0, -windowDays)
	recent, err := s.repo.ListByInviterSince(rec.InviterID(), since)
	if err != nil {
		return false, err
	}

	rewarded := 0
	anyHighValue := false
	for _, other := range recent {
		if other.ID == rec.ID {
			continue
		}
		if other.Flags.Empty() {
			continue
		}
		rewarded++
		if other.PurchaseAmount > s.cfg.HighValueThreshold {
			anyHighValue = true
		}
	}

	maxRecent := s.cfg.ThrottleMaxRecent
	if maxRecent <= 0 {
		maxRecent = 7
	}
	return rewarded >= maxRecent && !anyHighValue, nil
}
