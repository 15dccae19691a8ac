package repository

import (
	"context"

	"walletbridge/internal/model"

	"gorm.io/gorm"
)

// AuditRepository 审计记录只追加，不提供更新与删除
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, record *model.AuditRecord) (int64, error) {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return 0, err
	}
	return record.ID, nil
}

func (r *AuditRepository) ListByRequestID(ctx context.Context, requestID string) ([]*model.AuditRecord, error) {
	var records []*model.AuditRecord
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

func (r *AuditRepository) ListByPlatformTxID(ctx context.Context, platformTxID string) ([]*model.AuditRecord, error) {
	var records []*model.AuditRecord
	err := r.db.WithContext(ctx).
		Where("platform_tx_id = ?", platformTxID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}
