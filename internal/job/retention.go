package job

import (
	"context"
	"fmt"
	"time"

	"walletbridge/internal/service"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// RetentionScheduler 每天 03:00 UTC 删除超过保留期的注单
type RetentionScheduler struct {
	scheduler gocron.Scheduler
	ledger    *service.BetLedger
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewRetentionScheduler(ledger *service.BetLedger, retentionDays int, logger *zap.Logger) (*RetentionScheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("创建调度器失败: %w", err)
	}
	return &RetentionScheduler{
		scheduler: sched,
		ledger:    ledger,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger.Named("retention"),
		now:       time.Now,
	}, nil
}

// Start 保留天数 <= 0 时不注册任务
func (r *RetentionScheduler) Start(ctx context.Context) error {
	if r.retention <= 0 {
		r.logger.Info("未配置注单保留期，跳过清理任务")
		return nil
	}

	_, err := r.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(func() {
			if _, err := r.purge(ctx); err != nil {
				r.logger.Error("清理历史注单失败", zap.Error(err))
			}
		}),
		gocron.WithName("bet-retention"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("注册清理任务失败: %w", err)
	}

	r.scheduler.Start()
	r.logger.Info("注单清理任务已启动", zap.Duration("retention", r.retention))
	return nil
}

func (r *RetentionScheduler) Stop() error {
	return r.scheduler.Shutdown()
}

func (r *RetentionScheduler) purge(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-r.retention)
	return r.ledger.DeleteBetsBeforeDate(ctx, cutoff)
}
