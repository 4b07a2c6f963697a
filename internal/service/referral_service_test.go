package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/referral-next/internal/config"
	"github.com/referral-next/internal/constants"
	"github.com/referral-next/internal/ledger"
	"github.com/referral-next/internal/models"
	"github.com/referral-next/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type topUpCall struct {
	userID    string
	product   string
	reference string
	amount    int64
}

type purchaseCall struct {
	userID    string
	product   string
	reference string
}

// fakeLedger 记录调用并按配置返回错误的账本替身
type fakeLedger struct {
	topUps      []topUpCall
	purchases   []purchaseCall
	topUpErr    error
	purchaseErr error
}

func (f *fakeLedger) TopUp(ctx context.Context, userID, productSlug, reference string, amount int64) error {
	f.topUps = append(f.topUps, topUpCall{userID: userID, product: productSlug, reference: reference, amount: amount})
	return f.topUpErr
}

func (f *fakeLedger) PurchaseProduct(ctx context.Context, userID, productSlug, reference string) error {
	f.purchases = append(f.purchases, purchaseCall{userID: userID, product: productSlug, reference: reference})
	return f.purchaseErr
}

func testReferralConfig() config.ReferralConfig {
	return config.ReferralConfig{
		BonusRate:          "0.25",
		VerifyRewardSize:   100,
		VerifyPromoAmount:  0,
		PremiumProduct:     constants.ProductTempPremium,
		VerifyTopUpProduct: constants.ProductVerifyTopUp,
		BonusProduct:       constants.ProductReferralBonus,
		ExcludedProducts: []string{
			constants.ProductVerifyTopUp,
			constants.ProductTempPremium,
			constants.ProductTransfer,
		},
		ThrottleWindowDays: 30,
		ThrottleMaxRecent:  7,
		HighValueThreshold: 10000,
		MaxConflictRetries: 3,
	}
}

func newTestRepo(t *testing.T) repository.ReferralRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:referral_service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&models.Referral{}); err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}
	return repository.NewReferralRepository(db)
}

func newTestService(t *testing.T) (*ReferralService, repository.ReferralRepository, *fakeLedger) {
	t.Helper()
	repo := newTestRepo(t)
	fl := &fakeLedger{}
	svc := NewReferralService(repo, fl, testReferralConfig())
	return svc, repo, fl
}

func TestRegisterLink(t *testing.T) {
	svc, _, _ := newTestService(t)

	rec, err := svc.RegisterLink("alice", "bob")
	if err != nil {
		t.Fatalf("登记邀请关系失败: %v", err)
	}
	if rec.InviterID() != "alice" || rec.Invited != "bob" {
		t.Fatalf("登记结果不符: %+v", rec)
	}

	if _, err := svc.RegisterLink("carol", "bob"); !errors.Is(err, ErrAlreadyInvited) {
		t.Fatalf("重复登记应返回 ErrAlreadyInvited, got %v", err)
	}
	if _, err := svc.RegisterLink("dave", "dave"); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("自邀应返回 ErrSelfReferral, got %v", err)
	}
	if _, err := svc.RegisterLink("", "bob"); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("空邀请人应返回 ErrInvalidUserID, got %v", err)
	}
}

func TestGetRefInfo(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.RegisterLink("alice", "bob"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	if _, err := svc.RegisterLink("bob", "carol"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}

	info, err := svc.GetRefInfo("bob")
	if err != nil {
		t.Fatalf("查询邀请信息失败: %v", err)
	}
	if info.InvitedBy == nil || info.InvitedBy.InviterID() != "alice" {
		t.Fatalf("被邀请信息不符: %+v", info.InvitedBy)
	}
	if len(info.Referrals) != 1 || info.Referrals[0].Invited != "carol" {
		t.Fatalf("邀请列表不符: %+v", info.Referrals)
	}
}

func TestFirstPurchaseAward(t *testing.T) {
	svc, repo, fl := newTestService(t)

	if _, err := svc.RegisterLink("alice", "bob"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	// 奖励额度按 0.25 比例计算：400 * 0.25 = 100
	rewardSize := int64(100)
	if err := svc.OnFirstPurchase(context.Background(), "bob", 400, "order-1", "some-product"); err != nil {
		t.Fatalf("首购事件处理失败: %v", err)
	}

	if len(fl.topUps) != 1 {
		t.Fatalf("应有一次充值调用, got %d", len(fl.topUps))
	}
	call := fl.topUps[0]
	if call.userID != "alice" || call.product != constants.ProductReferralBonus {
		t.Fatalf("充值目标不符: %+v", call)
	}
	if call.reference != "bob+first_purchase_bonus" {
		t.Fatalf("幂等引用不符: %s", call.reference)
	}
	if call.amount != rewardSize {
		t.Fatalf("奖励额度不符: %d", call.amount)
	}

	rec, err := repo.GetByInvited("bob")
	if err != nil || rec == nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if !rec.Flags.Has(models.RewardFirstPurchase) {
		t.Fatal("首购标记应已打上")
	}
	if rec.PurchaseAmount != 400 {
		t.Fatalf("反推购买金额不符: %d", rec.PurchaseAmount)
	}
}

func TestFirstPurchaseIdempotent(t *testing.T) {
	svc, _, fl := newTestService(t)

	if _, err := svc.RegisterLink("alice", "bob"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	if err := svc.OnFirstPurchase(context.Background(), "bob", 400, "order-1", "some-product"); err != nil {
		t.Fatalf("首购事件处理失败: %v", err)
	}
	// 事件重投不应再次支付
	if err := svc.OnFirstPurchase(context.Background(), "bob", 400, "order-1", "some-product"); err != nil {
		t.Fatalf("重投事件处理失败: %v", err)
	}
	if len(fl.topUps) != 1 {
		t.Fatalf("重投后不应产生第二次充值, got %d", len(fl.topUps))
	}
}

func TestFirstPurchaseSkipsInternalProducts(t *testing.T) {
	svc, repo, fl := newTestService(t)

	if _, err := svc.RegisterLink("alice", "bob"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	// 奖励体系自身的商品不触发奖励，避免连带购买回环
	for _, slug := range []string{
		constants.ProductVerifyTopUp,
		constants.ProductTempPremium,
		constants.ProductTransfer,
	} {
		if err := svc.OnFirstPurchase(context.Background(), "bob", 400, "order-x", slug); err != nil {
			t.Fatalf("内部商品事件处理失败: %v", err)
		}
	}
	if len(fl.topUps) != 0 {
		t.Fatalf("内部商品不应产生充值, got %d", len(fl.topUps))
	}
	rec, err := repo.GetByInvited("bob")
	if err != nil || rec == nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if rec.Flags.Has(models.RewardFirstPurchase) {
		t.Fatal("内部商品不应打首购标记")
	}
}

func TestFirstPurchaseWithoutInviterCreatesPlaceholder(t *testing.T) {
	svc, repo, fl := newTestService(t)

	// 无任何登记记录的用户触发首购：创建占位记录并打标，不支付
	if err := svc.OnFirstPurchase(context.Background(), "stranger", 400, "order-1", "some-product"); err != nil {
		t.Fatalf("首购事件处理失败: %v", err)
	}
	if len(fl.topUps) != 0 {
		t.Fatalf("无邀请人不应产生充值, got %d", len(fl.topUps))
	}
	rec, err := repo.GetByInvited("stranger")
	if err != nil || rec == nil {
		t.Fatalf("占位记录应已创建: %v", err)
	}
	if rec.HasInviter() {
		t.Fatal("占位记录不应有邀请人")
	}
	if !rec.Flags.Has(models.RewardFirstPurchase) {
		t.Fatal("占位记录同样应打标")
	}

	// 占位记录永久封锁该身份
	if _, err := svc.RegisterLink("alice", "stranger"); !errors.Is(err, ErrAlreadyInvited) {
		t.Fatalf("占位记录应阻止后续登记, got %v", err)
	}
}

func TestOnVerifiedHappyPath(t *testing.T) {
	svc, repo, fl := newTestService(t)

	if _, err := svc.RegisterLink("alice", "bob"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	if err := svc.OnVerified(context.Background(), "bob", "mc-uuid-1", 0); err != nil {
		t.Fatalf("验证事件处理失败: %v", err)
	}

	if len(fl.topUps) != 2 {
		t.Fatalf("应有两次充值（邀请人奖励 + 促销充值）, got %d", len(fl.topUps))
	}
	bonus := fl.topUps[0]
	if bonus.userID != "alice" || bonus.product != constants.ProductReferralBonus {
		t.Fatalf("邀请人奖励不符: %+v", bonus)
	}
	if bonus.reference != "bob+verified_account" || bonus.amount != 100 {
		t.Fatalf("邀请人奖励参数不符: %+v", bonus)
	}
	promo := fl.topUps[1]
	if promo.userID != "bob" || promo.product != constants.ProductVerifyTopUp {
		t.Fatalf("促销充值不符: %+v", promo)
	}
	// 促销充值以外部账号标识为幂等引用，金额为 0
	if promo.reference != "mc-uuid-1" || promo.amount != 0 {
		t.Fatalf("促销充值参数不符: %+v", promo)
	}

	if len(fl.purchases) != 1 {
		t.Fatalf("应有一次商品购买, got %d", len(fl.purchases))
	}
	premium := fl.purchases[0]
	if premium.userID != "bob" || premium.product != constants.ProductTempPremium {
		t.Fatalf("临时高级商品购买不符: %+v", premium)
	}
	if premium.reference != "bob+temp-premium" {
		t.Fatalf("购买引用不符: %s", premium.reference)
	}

	rec, err := repo.GetByInvited("bob")
	if err != nil || rec == nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if !rec.Flags.Has(models.RewardVerified) {
		t.Fatal("验证标记应已打上")
	}
}

func TestOnVerifiedSkipsLinkedExternalAccount(t *testing.T) {
	svc, repo, fl := newTestService(t)

	if _, err := svc.RegisterLink("alice", "bob"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	// 外部账号已绑定过其他内部账号，整体跳过
	if err := svc.OnVerified(context.Background(), "bob", "mc-uuid-1", 2); err != nil {
		t.Fatalf("验证事件处理失败: %v", err)
	}
	if len(fl.topUps) != 0 || len(fl.purchases) != 0 {
		t.Fatal("已绑定外部账号不应产生任何账本调用")
	}
	rec, err := repo.GetByInvited("bob")
	if err != nil || rec == nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if rec.Flags.Has(models.RewardVerified) {
		t.Fatal("跳过的事件不应打标")
	}
}

func TestOnVerifiedInsufficientBalanceRecoverable(t *testing.T) {
	svc, _, fl := newTestService(t)
	fl.purchaseErr = ledger.ErrInsufficientBalance

	if _, err := svc.RegisterLink("alice", "bob"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	// 临时高级商品余额不足不阻断事件
	if err := svc.OnVerified(context.Background(), "bob", "mc-uuid-1", 0); err != nil {
		t.Fatalf("余额不足应被吞掉, got %v", err)
	}
}

func TestDuplicateLedgerReferenceTreatedAsPaid(t *testing.T) {
	svc, repo, fl := newTestService(t)
	fl.topUpErr = ledger.ErrDuplicateTransaction

	if _, err := svc.RegisterLink("alice", "bob"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	// 账本已处理过相同引用：本地视为成功并打标
	if err := svc.OnFirstPurchase(context.Background(), "bob", 400, "order-1", "some-product"); err != nil {
		t.Fatalf("重复引用不应报错, got %v", err)
	}
	rec, err := repo.GetByInvited("bob")
	if err != nil || rec == nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if !rec.Flags.Has(models.RewardFirstPurchase) {
		t.Fatal("重复引用后仍应打标")
	}
}

func TestLedgerFailureKeepsFlagUnset(t *testing.T) {
	svc, repo, fl := newTestService(t)
	fl.topUpErr = ledger.ErrLedger

	if _, err := svc.RegisterLink("alice", "bob"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	// 账本调用失败时不打标，事件重投可再次尝试支付
	if err := svc.OnFirstPurchase(context.Background(), "bob", 400, "order-1", "some-product"); !errors.Is(err, ledger.ErrLedger) {
		t.Fatalf("账本失败应透传, got %v", err)
	}
	rec, err := repo.GetByInvited("bob")
	if err != nil || rec == nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if rec.Flags.Has(models.RewardFirstPurchase) {
		t.Fatal("账本失败后不应打标")
	}

	fl.topUpErr = nil
	if err := svc.OnFirstPurchase(context.Background(), "bob", 400, "order-1", "some-product"); err != nil {
		t.Fatalf("重投后处理失败: %v", err)
	}
	if len(fl.topUps) != 2 {
		t.Fatalf("重投应再次调用账本, got %d", len(fl.topUps))
	}
}

func TestThrottleSuppressesVerifyReward(t *testing.T) {
	svc, repo, fl := newTestService(t)

	// 邀请人 30 天内已有 7 条打过标的小额记录
	for i := 0; i < 7; i++ {
		rec, err := repo.Create(strPtr("alice"), fmt.Sprintf("minion-%d", i))
		if err != nil {
			t.Fatalf("准备历史记录失败: %v", err)
		}
		rec.Flags = rec.Flags.With(models.RewardVerified)
		rec.PurchaseAmount = 100
		if err := repo.Save(rec); err != nil {
			t.Fatalf("保存历史记录失败: %v", err)
		}
	}

	if _, err := svc.RegisterLink("alice", "target"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	if err := svc.OnVerified(context.Background(), "target", "mc-uuid-t", 0); err != nil {
		t.Fatalf("验证事件处理失败: %v", err)
	}

	// 邀请人奖励被抑制，但被邀请人自己的促销充值和赠品照常
	for _, call := range fl.topUps {
		if call.userID == "alice" {
			t.Fatalf("节流后不应给邀请人充值: %+v", call)
		}
	}
	if len(fl.topUps) != 1 || fl.topUps[0].userID != "target" {
		t.Fatalf("促销充值应照常进行: %+v", fl.topUps)
	}
	if len(fl.purchases) != 1 {
		t.Fatalf("赠品购买应照常进行, got %d", len(fl.purchases))
	}

	rec, err := repo.GetByInvited("target")
	if err != nil || rec == nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	// 被抑制同样算已处理
	if !rec.Flags.Has(models.RewardVerified) {
		t.Fatal("被抑制的奖励仍应打标")
	}

	// 重投不会变成支付
	if err := svc.OnVerified(context.Background(), "target", "mc-uuid-t", 0); err != nil {
		t.Fatalf("重投事件处理失败: %v", err)
	}
	for _, call := range fl.topUps {
		if call.userID == "alice" {
			t.Fatalf("重投后奖励仍应保持抑制: %+v", call)
		}
	}
}

func TestThrottleUnlockedByHighValuePurchase(t *testing.T) {
	svc, repo, fl := newTestService(t)

	for i := 0; i < 7; i++ {
		rec, err := repo.Create(strPtr("alice"), fmt.Sprintf("minion-%d", i))
		if err != nil {
			t.Fatalf("准备历史记录失败: %v", err)
		}
		rec.Flags = rec.Flags.With(models.RewardVerified)
		rec.PurchaseAmount = 100
		if i == 3 {
			// 一笔高额首购即视为真实推广
			rec.PurchaseAmount = 20000
		}
		if err := repo.Save(rec); err != nil {
			t.Fatalf("保存历史记录失败: %v", err)
		}
	}

	if _, err := svc.RegisterLink("alice", "target"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	if err := svc.OnVerified(context.Background(), "target", "mc-uuid-t", 0); err != nil {
		t.Fatalf("验证事件处理失败: %v", err)
	}

	paid := false
	for _, call := range fl.topUps {
		if call.userID == "alice" && call.product == constants.ProductReferralBonus {
			paid = true
		}
	}
	if !paid {
		t.Fatal("存在高额首购时奖励不应被抑制")
	}
}

func TestThrottleDoesNotApplyToFirstPurchase(t *testing.T) {
	svc, repo, fl := newTestService(t)

	for i := 0; i < 7; i++ {
		rec, err := repo.Create(strPtr("alice"), fmt.Sprintf("minion-%d", i))
		if err != nil {
			t.Fatalf("准备历史记录失败: %v", err)
		}
		rec.Flags = rec.Flags.With(models.RewardVerified)
		if err := repo.Save(rec); err != nil {
			t.Fatalf("保存历史记录失败: %v", err)
		}
	}

	if _, err := svc.RegisterLink("alice", "target"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	// 节流只针对验证奖励，首购奖励照常支付
	if err := svc.OnFirstPurchase(context.Background(), "target", 400, "order-1", "some-product"); err != nil {
		t.Fatalf("首购事件处理失败: %v", err)
	}
	if len(fl.topUps) != 1 || fl.topUps[0].userID != "alice" {
		t.Fatalf("首购奖励不应被节流: %+v", fl.topUps)
	}
}

// conflictRepo 在前 N 次 Save 返回并发冲突
type conflictRepo struct {
	repository.ReferralRepository
	conflicts int
	saves     int
}

func (r *conflictRepo) Save(rec *models.Referral) error {
	r.saves++
	if r.conflicts > 0 {
		r.conflicts--
		return repository.ErrConcurrentModification
	}
	return r.ReferralRepository.Save(rec)
}

func TestResolveAndAwardRetriesOnConflict(t *testing.T) {
	base := newTestRepo(t)
	repo := &conflictRepo{ReferralRepository: base, conflicts: 1}
	fl := &fakeLedger{}
	svc := NewReferralService(repo, fl, testReferralConfig())

	if _, err := base.Create(strPtr("alice"), "bob"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	if _, err := svc.ResolveAndAward(context.Background(), "bob", models.RewardVerified, 100); err != nil {
		t.Fatalf("冲突后重试应成功, got %v", err)
	}
	if repo.saves != 2 {
		t.Fatalf("应有一次冲突加一次成功保存, got %d", repo.saves)
	}

	rec, err := base.GetByInvited("bob")
	if err != nil || rec == nil {
		t.Fatalf("读取记录失败: %v", err)
	}
	if !rec.Flags.Has(models.RewardVerified) {
		t.Fatal("重试后标记应已打上")
	}
}

func TestResolveAndAwardGivesUpAfterMaxRetries(t *testing.T) {
	base := newTestRepo(t)
	repo := &conflictRepo{ReferralRepository: base, conflicts: 100}
	fl := &fakeLedger{}
	svc := NewReferralService(repo, fl, testReferralConfig())

	if _, err := base.Create(strPtr("alice"), "bob"); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	if _, err := svc.ResolveAndAward(context.Background(), "bob", models.RewardVerified, 100); !errors.Is(err, ErrTooManyConflicts) {
		t.Fatalf("持续冲突应返回 ErrTooManyConflicts, got %v", err)
	}
}

func strPtr(s string) *string { return &s }
