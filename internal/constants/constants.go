package constants

// 奖励类型常量（与 models.RewardKind 取值一致）
const (
	RewardKindFirstPurchase = "first_purchase_bonus"
	RewardKindVerified      = "verified_account"
)

// 账本商品 slug 常量
const (
	ProductReferralBonus = "referral-bonus" // 邀请人奖励充值商品
	ProductVerifyTopUp   = "verify-topup"   // 验证奖励充值商品
	ProductTempPremium   = "temp-premium"   // 临时高级会员商品
	ProductTransfer      = "transfer"       // 转账商品（部分部署存在）
)

// 队列与任务常量
const (
	QueueDefault          = "referral"
	TaskPurchaseEvent     = "referral:purchase_event"
	TaskVerificationEvent = "referral:verification_event"
)
