package config

import (
	"fmt"
	"strings"

	"github.com/referral-next/internal/constants"
	"github.com/referral-next/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Referral ReferralConfig `mapstructure:"referral"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	MaxRetry    int            `mapstructure:"max_retry"`
	Queues      map[string]int `mapstructure:"queues"`
}

// LedgerConfig 外部账本服务配置
type LedgerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	AuthToken      string `mapstructure:"auth_token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	CatalogTTL     int    `mapstructure:"catalog_ttl_seconds"` // 充值商品目录缓存时长
}

// ReferralConfig 邀请奖励配置
type ReferralConfig struct {
	BonusRate          string   `mapstructure:"bonus_rate"`           // 首购奖励比例（十进制小数）
	VerifyRewardSize   int64    `mapstructure:"verify_reward_size"`   // 验证奖励给邀请人的额度
	VerifyPromoAmount  int64    `mapstructure:"verify_promo_amount"`  // 验证后给被邀请人的促销充值额度
	PremiumProduct     string   `mapstructure:"premium_product"`      // 验证后赠送的临时高级商品
	VerifyTopUpProduct string   `mapstructure:"verify_topup_product"` // 验证促销充值商品
	BonusProduct       string   `mapstructure:"bonus_product"`        // 邀请人奖励充值商品
	ExcludedProducts   []string `mapstructure:"excluded_products"`    // 首购事件中忽略的商品
	ThrottleWindowDays int      `mapstructure:"throttle_window_days"`
	ThrottleMaxRecent  int      `mapstructure:"throttle_max_recent"`
	HighValueThreshold int64    `mapstructure:"high_value_threshold"`
	MaxConflictRetries int      `mapstructure:"max_conflict_retries"`
}

// Load 从 config.yml 加载配置
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")   // 如果从 cmd/server 运行
	viper.AddConfigPath("./etc") // etc 文件夹

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("log.dir", "")
	viper.SetDefault("log.filename", "referral.log")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.max_age_days", 30)
	viper.SetDefault("log.compress", true)
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "./db/referral.db")
	viper.SetDefault("database.pool.max_open_conns", 1)
	viper.SetDefault("database.pool.max_idle_conns", 1)
	viper.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	viper.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "127.0.0.1")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.prefix", "ref")
	viper.SetDefault("queue.enabled", true)
	viper.SetDefault("queue.host", "127.0.0.1")
	viper.SetDefault("queue.port", 6379)
	viper.SetDefault("queue.password", "")
	viper.SetDefault("queue.db", 1)
	viper.SetDefault("queue.concurrency", 10)
	viper.SetDefault("queue.max_retry", 5)
	viper.SetDefault("queue.queues", map[string]int{constants.QueueDefault: 1})
	viper.SetDefault("ledger.base_url", "http://localhost:8081")
	viper.SetDefault("ledger.auth_token", "")
	viper.SetDefault("ledger.timeout_seconds", 10)
	viper.SetDefault("ledger.catalog_ttl_seconds", 300)
	viper.SetDefault("referral.bonus_rate", "0.25")
	viper.SetDefault("referral.verify_reward_size", 100)
	viper.SetDefault("referral.verify_promo_amount", 0)
	viper.SetDefault("referral.premium_product", constants.ProductTempPremium)
	viper.SetDefault("referral.verify_topup_product", constants.ProductVerifyTopUp)
	viper.SetDefault("referral.bonus_product", constants.ProductReferralBonus)
	viper.SetDefault("referral.excluded_products", []string{
		constants.ProductVerifyTopUp,
		constants.ProductTempPremium,
		constants.ProductTransfer,
	})
	viper.SetDefault("referral.throttle_window_days", 30)
	viper.SetDefault("referral.throttle_max_recent", 7)
	viper.SetDefault("referral.high_value_threshold", 10000)
	viper.SetDefault("referral.max_conflict_retries", 3)

	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("未找到配置文件，使用默认配置: %v\n", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Printf("配置解析失败: %v\n", err)
	}
	cfg.normalize()
	return &cfg
}

func (c *Config) normalize() {
	c.Ledger.BaseURL = strings.TrimRight(strings.TrimSpace(c.Ledger.BaseURL), "/")
	if c.Referral.MaxConflictRetries <= 0 {
		c.Referral.MaxConflictRetries = 3
	}
	if c.Referral.ThrottleWindowDays <= 0 {
		c.Referral.ThrottleWindowDays = 30
	}
	if c.Referral.ThrottleMaxRecent <= 0 {
		c.Referral.ThrottleMaxRecent = 7
	}
}
