package job

import (
	"context"
	"sync"
	"time"

	"walletbridge/internal/infrastructure/mq"
	"walletbridge/internal/metrics"
	"walletbridge/internal/model"
	"walletbridge/internal/repository"

	"go.uber.org/zap"
)

// OutboxSender 轮询 PENDING 消息投递到 Kafka
//
// 补偿任务与滞留注单事件都先落 outbox 表，再由这里异步投递，
// 保证"业务行写入成功 ⇒ 消息最终发出"。
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  *mq.Publisher
	metrics    *metrics.Metrics
	logger     *zap.Logger

	maxRetry  int
	interval  time.Duration
	batchSize int

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewOutboxSender(outboxRepo *repository.OutboxRepository, publisher *mq.Publisher, maxRetry int, m *metrics.Metrics, logger *zap.Logger) *OutboxSender {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		metrics:    m,
		logger:     logger.Named("outbox_sender"),
		maxRetry:   maxRetry,
		interval:   100 * time.Millisecond,
		batchSize:  100,
		stopCh:     make(chan struct{}),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.ListByStatus(ctx, model.OutboxStatusPending, s.batchSize)
	if err != nil {
		s.logger.Error("查询待发送消息失败", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			s.logger.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
			return
		}
		s.metrics.OutboxPublished("sent")
		s.logger.Debug("消息发送成功",
			zap.Int64("id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.String("key", msg.MessageKey),
		)
		return
	}

	exhausted := msg.RetryCount+1 >= s.maxRetry
	s.logger.Warn("消息发送失败",
		zap.Int64("id", msg.ID),
		zap.String("event_type", msg.EventType),
		zap.Int("retry_count", msg.RetryCount+1),
		zap.Bool("exhausted", exhausted),
		zap.Error(err),
	)

	if recErr := s.outboxRepo.RecordFailure(ctx, msg.ID, err.Error(), exhausted); recErr != nil {
		s.logger.Error("记录发送失败出错", zap.Int64("id", msg.ID), zap.Error(recErr))
		return
	}
	if exhausted {
		s.metrics.OutboxPublished("failed")
	} else {
		s.metrics.OutboxPublished("retry")
	}
}
