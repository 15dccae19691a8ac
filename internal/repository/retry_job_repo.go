package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"walletbridge/internal/model"

	"gorm.io/gorm"
)

type RetryJobRepository struct {
	db    *gorm.DB
	topic string
}

// NewRetryJobRepository topic 为补偿任务通知外部重试服务的 Kafka topic
func NewRetryJobRepository(db *gorm.DB, topic string) *RetryJobRepository {
	return &RetryJobRepository{db: db, topic: topic}
}

// Enqueue 在同一事务内写入补偿任务和 outbox 消息
//
// 【关键点】任务行与消息行同事务提交，由 OutboxSender 异步投递到 Kafka，
// 外部重试服务据此调度重发；这里不负责任何调度策略。
func (r *RetryJobRepository) Enqueue(ctx context.Context, job *model.RetryJob) (int64, error) {
	if job.Status == "" {
		job.Status = model.RetryJobStatusPending
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("写入补偿任务失败: %w", err)
		}

		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("序列化补偿任务失败: %w", err)
		}

		msg := &model.OutboxMessage{
			MessageKey: job.JobNo,
			EventType:  model.EventRetryJobCreated,
			Topic:      r.topic,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return job.ID, nil
}

func (r *RetryJobRepository) GetByID(ctx context.Context, id int64) (*model.RetryJob, error) {
	var job model.RetryJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *RetryJobRepository) ListByAuditRecordID(ctx context.Context, auditRecordID int64) ([]*model.RetryJob, error) {
	var jobs []*model.RetryJob
	err := r.db.WithContext(ctx).
		Where("audit_record_id = ?", auditRecordID).
		Order("id ASC").
		Find(&jobs).Error
	return jobs, err
}
