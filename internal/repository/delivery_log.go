package repository

import (
	"context"

	"catalogsync/internal/model"

	"gorm.io/gorm"
)

// DeliveryLogRepository is the append-only webhook delivery history.
type DeliveryLogRepository struct {
	db *gorm.DB
}

func NewDeliveryLogRepository(db *gorm.DB) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

func (r *DeliveryLogRepository) Create(ctx context.Context, log *model.WebhookDeliveryLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *DeliveryLogRepository) ListBySubscription(ctx context.Context, subscriptionID uint64, offset, limit int) ([]model.WebhookDeliveryLog, int64, error) {
	var logs []model.WebhookDeliveryLog
	var total int64

	db := r.db.WithContext(ctx).Model(&model.WebhookDeliveryLog{}).Where("subscription_id = ?", subscriptionID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Offset(offset).Limit(limit).Order("id DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
