package provider

import (
	"github.com/referral-next/internal/cache"
	"github.com/referral-next/internal/config"
	"github.com/referral-next/internal/ledger"
	"github.com/referral-next/internal/logger"
	"github.com/referral-next/internal/models"
	"github.com/referral-next/internal/queue"
	"github.com/referral-next/internal/repository"
	"github.com/referral-next/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	ReferralRepo repository.ReferralRepository

	// External clients
	Ledger ledger.API

	// Services
	ReferralService *service.ReferralService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	c.ReferralRepo = repository.NewReferralRepository(models.DB)

	ledgerClient, err := ledger.NewClient(&cfg.Ledger)
	if err != nil {
		logger.Errorw("provider_init_ledger_client_failed", "error", err)
	} else {
		c.Ledger = ledgerClient
	}

	c.ReferralService = service.NewReferralService(c.ReferralRepo, c.Ledger, cfg.Referral)

	return c
}
