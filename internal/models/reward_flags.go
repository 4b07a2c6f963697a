package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"

	"github.com/referral-next/internal/constants"
)

// RewardKind 奖励类型
type RewardKind string

const (
	// RewardFirstPurchase 首次购买奖励
	RewardFirstPurchase = RewardKind(constants.RewardKindFirstPurchase)
	// RewardVerified 账号验证奖励
	RewardVerified = RewardKind(constants.RewardKindVerified)
)

// String 返回奖励类型标识
func (k RewardKind) String() string {
	return string(k)
}

// RewardFlagSet 已处理奖励类型集合。
// 语义为“已处理”而非“已支付”：被节流抑制的奖励同样会打标。
// 集合只增不减，数据库中存储为逗号分隔文本。
type RewardFlagSet []RewardKind

// Has 判断集合是否包含指定奖励类型
func (s RewardFlagSet) Has(kind RewardKind) bool {
	for _, k := range s {
		if k == kind {
			return true
		}
	}
	return false
}

// With 返回追加指定奖励类型后的新集合（幂等）
func (s RewardFlagSet) With(kind RewardKind) RewardFlagSet {
	if s.Has(kind) {
		return s
	}
	out := make(RewardFlagSet, 0, len(s)+1)
	out = append(out, s...)
	out = append(out, kind)
	return out
}

// Empty 判断集合是否为空
func (s RewardFlagSet) Empty() bool {
	return len(s) == 0
}

// Value 实现 driver.Valuer
func (s RewardFlagSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(s))
	for _, k := range s {
		parts = append(parts, string(k))
	}
	sort.Strings(parts)
	return strings.Join(parts, ","), nil
}

// Scan 实现 sql.Scanner
func (s *RewardFlagSet) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("unsupported reward flag value type %T", value)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*s = nil
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make(RewardFlagSet, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, RewardKind(p))
	}
	*s = out
	return nil
}
