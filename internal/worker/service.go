package worker

import (
	"context"
	"errors"
	"time"

	"github.com/referral-next/internal/config"
	"github.com/referral-next/internal/logger"
	"github.com/referral-next/internal/queue"

	"github.com/hibiken/asynq"
)

const (
	supervisorInitialBackoff = time.Second
	supervisorMaxBackoff     = time.Minute
)

// Service 事件消费服务。
// 消费循环由内置的监督循环托管：异常退出会带退避地重启，
// 不再依赖外部进程管理器拉起整个进程。
type Service struct {
	name     string
	cfg      *config.QueueConfig
	consumer *Consumer
	server   *asynq.Server
}

// NewService 创建事件消费服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	return &Service{
		name:     "worker",
		cfg:      cfg,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动消费并监督重启
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.consumer == nil {
		return errors.New("worker not initialized")
	}
	backoff := supervisorInitialBackoff
	for {
		err := s.runOnce()
		if err == nil || ctx.Err() != nil {
			return nil
		}
		logger.Errorw("worker_run_failed_restarting", "error", err, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > supervisorMaxBackoff {
			backoff = supervisorMaxBackoff
		}
	}
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

func (s *Service) runOnce() error {
	opt, serverCfg := queue.BuildServerConfig(s.cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	s.consumer.Register(mux)
	s.server = server
	return server.Run(mux)
}
