package models

import (
	"time"
)

// Referral 邀请关系记录。
// Invited 全局唯一：一个用户终生只能作为被邀请方出现一次。
// Inviter 可为空，空值表示奖励路径懒创建的占位记录，
// 用于封锁该身份，避免事后再被挂到某个邀请人名下。
type Referral struct {
	ID             uint          `gorm:"primarykey" json:"-"`
	Inviter        *string       `gorm:"type:varchar(64);index" json:"inviter"`
	Invited        string        `gorm:"type:varchar(64);not null;uniqueIndex" json:"invited"`
	Flags          RewardFlagSet `gorm:"type:text" json:"flags"`                // 已处理的奖励类型集合（只增不减）
	PurchaseAmount int64         `gorm:"not null;default:0" json:"purchase_amount"` // 首购金额（反推），防刷信号
	CreatedAt      time.Time     `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"` // 乐观并发检测令牌
}

// TableName 指定表名
func (Referral) TableName() string {
	return "referrals"
}

// InviterID 返回邀请人标识，占位记录返回空串
func (r *Referral) InviterID() string {
	if r == nil || r.Inviter == nil {
		return ""
	}
	return *r.Inviter
}

// HasInviter 判断是否存在真实邀请人
func (r *Referral) HasInviter() bool {
	return r != nil && r.Inviter != nil && *r.Inviter != ""
}

// RefInfo 用户邀请信息汇总
type RefInfo struct {
	InvitedBy *Referral  `json:"invited_by"` // 谁邀请了该用户，可能为空
	Referrals []Referral `json:"referrals"`  // 该用户邀请的所有记录
}
