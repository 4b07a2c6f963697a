package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/referral-next/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrInvitedExists 被邀请身份已存在记录（唯一约束）
	ErrInvitedExists = errors.New("invited identity already recorded")
	// ErrConcurrentModification 记录在读取后被并发修改
	ErrConcurrentModification = errors.New("referral modified concurrently")
)

// ReferralRepository 邀请记录数据访问接口
type ReferralRepository interface {
	GetByInvited(invited string) (*models.Referral, error)
	ListByInviter(inviter string) ([]models.Referral, error)
	ListByInviterSince(inviter string, since time.Time) ([]models.Referral, error)
	Create(inviter *string, invited string) (*models.Referral, error)
	Save(rec *models.Referral) error
}

// GormReferralRepository GORM 邀请记录仓储实现
type GormReferralRepository struct {
	db *gorm.DB
}

// NewReferralRepository 创建邀请记录仓储
func NewReferralRepository(db *gorm.DB) *GormReferralRepository {
	return &GormReferralRepository{db: db}
}

// GetByInvited 按被邀请身份获取记录，不存在时返回 nil
func (r *GormReferralRepository) GetByInvited(invited string) (*models.Referral, error) {
	invited = strings.TrimSpace(invited)
	if invited == "" {
		return nil, nil
	}
	var rec models.Referral
	if err := r.db.Where("invited = ?", invited).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListByInviter 列出某邀请人名下的全部记录，顺序不保证
func (r *GormReferralRepository) ListByInviter(inviter string) ([]models.Referral, error) {
	inviter = strings.TrimSpace(inviter)
	if inviter == "" {
		return []models.Referral{}, nil
	}
	var recs []models.Referral
	if err := r.db.Where("inviter = ?", inviter).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// ListByInviterSince 列出某邀请人在指定时间之后创建的记录
func (r *GormReferralRepository) ListByInviterSince(inviter string, since time.Time) ([]models.Referral, error) {
	inviter = strings.TrimSpace(inviter)
	if inviter == "" {
		return []models.Referral{}, nil
	}
	var recs []models.Referral
	if err := r.db.Where("inviter = ? AND created_at >= ?", inviter, since).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// Create 创建记录；invited 已存在时返回 ErrInvitedExists。
// 唯一性由数据库唯一索引保证，不做先查后插。
func (r *GormReferralRepository) Create(inviter *string, invited string) (*models.Referral, error) {
	rec := &models.Referral{
		Inviter: inviter,
		Invited: strings.TrimSpace(invited),
	}
	if err := r.db.Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrInvitedExists
		}
		return nil, err
	}
	return rec, nil
}

// Save 持久化记录变更。
// 以读取时的 updated_at 作为版本令牌做受控更新，
// 命中 0 行说明记录已被并发修改，返回 ErrConcurrentModification 由调用方重试。
func (r *GormReferralRepository) Save(rec *models.Referral) error {
	if rec == nil || rec.ID == 0 {
		return errors.New("referral record not persisted")
	}
	now := time.Now()
	res := r.db.Model(&models.Referral{}).
		Where("id = ? AND updated_at = ?", rec.ID, rec.UpdatedAt).
		Updates(map[string]interface{}{
			"flags":           rec.Flags,
			"purchase_amount": rec.PurchaseAmount,
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	rec.UpdatedAt = now
	return nil
}
